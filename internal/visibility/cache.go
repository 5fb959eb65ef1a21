package visibility

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

type cacheEntry struct {
	windows []model.Interval
}

// Cached memoizes a provider's windows per (node, location, elevation) over a
// fixed horizon and clips them locally for each query. Visibility is derived
// from geometry and does not change during a run, unlike routes.
type Cached struct {
	next        Provider
	horizonFrom time.Time
	horizonTo   time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	hits    int64
	misses  int64
}

type cacheKey struct {
	node      string
	location  string
	elevation float64
}

// NewCached wraps next, fetching windows over [from, to] on a miss.
func NewCached(next Provider, from, to time.Time) *Cached {
	return &Cached{
		next:        next,
		horizonFrom: from,
		horizonTo:   to,
		entries:     make(map[cacheKey]cacheEntry),
	}
}

func (c *Cached) Windows(ctx context.Context, q Query) ([]model.Interval, error) {
	key := cacheKey{q.Node, q.Target.ID, q.MinElevation}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.recordHit()
	} else {
		c.recordMiss()
		wide := q
		wide.From, wide.To = c.horizonFrom, c.horizonTo
		ws, err := c.next.Windows(ctx, wide)
		if err != nil {
			return nil, err
		}
		entry = cacheEntry{windows: cloneIntervals(ws)}
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
	}

	var out []model.Interval
	for _, w := range entry.windows {
		if iv, ok := w.Clip(q.From, q.To); ok {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (c *Cached) Stats() (hits, misses int64) {
	c.mu.RLock()
	hits, misses = c.hits, c.misses
	c.mu.RUnlock()
	return
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (c *Cached) HitRatio() float64 {
	hits, misses := c.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (c *Cached) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cached) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func cloneIntervals(src []model.Interval) []model.Interval {
	if src == nil {
		return nil
	}
	clone := make([]model.Interval, len(src))
	copy(clone, src)
	return clone
}
