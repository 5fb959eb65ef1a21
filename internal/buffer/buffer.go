// Package buffer implements bounded per-node bundle storage.
package buffer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrBufferOverflow is returned when a bundle cannot be admitted even
	// after eviction.
	ErrBufferOverflow = errors.New("buffer overflow")

	// ErrDeadlineExpired is returned when the bundle offered for admission is
	// already past its deadline.
	ErrDeadlineExpired = errors.New("bundle deadline expired")

	// ErrDuplicateBundle is returned when a bundle with the same id is
	// already stored.
	ErrDuplicateBundle = errors.New("bundle already buffered")

	// ErrInvalidBundle is returned for bundles with a negative size.
	ErrInvalidBundle = errors.New("invalid bundle")
)

// Resident is a stored bundle as seen by an eviction policy.
type Resident struct {
	Bundle  model.Bundle
	Claimed bool
}

// EvictionPolicy chooses which residents to evict so that incoming fits. It
// returns the ids to evict, or nil when no acceptable set frees need bytes.
type EvictionPolicy interface {
	SelectVictims(incoming model.Bundle, residents []Resident, need int64) []string
}

// AdmitResult lists the bundles removed while admitting a new one.
type AdmitResult struct {
	Expired []model.Bundle
	Evicted []model.Bundle
}

type entry struct {
	bundle    model.Bundle
	claimedBy string
	seq       uint64
}

// Buffer is a node's bounded bundle store. All methods are safe for
// concurrent use; the claim operation lets several contact controllers share
// one buffer without sending the same bundle twice.
type Buffer struct {
	mu       sync.Mutex
	node     string
	capacity int64
	used     int64
	seq      uint64
	entries  map[string]*entry
	policy   EvictionPolicy
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithEvictionPolicy overrides the default eviction policy.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(b *Buffer) {
		if p != nil {
			b.policy = p
		}
	}
}

// New returns a buffer for node holding at most capacity bytes. A capacity of
// zero means unbounded.
func New(node string, capacity int64, opts ...Option) *Buffer {
	b := &Buffer{
		node:     node,
		capacity: capacity,
		entries:  make(map[string]*entry),
		policy:   LowestPriorityFirst{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Node returns the owning node id.
func (b *Buffer) Node() string { return b.node }

// Capacity returns the configured capacity in bytes.
func (b *Buffer) Capacity() int64 { return b.capacity }

// Used returns the bytes currently stored.
func (b *Buffer) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Len returns the number of stored bundles.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Contains reports whether id is stored.
func (b *Buffer) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok
}

// Admit stores bundle. Expired residents are dropped first. If the bundle does
// not fit, the eviction policy is consulted; when it cannot free enough room
// nothing is evicted and ErrBufferOverflow is returned. The result is valid
// even when an error is returned.
func (b *Buffer) Admit(bundle model.Bundle, now time.Time) (AdmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res AdmitResult
	res.Expired = b.expireLocked(now)

	if bundle.Size < 0 {
		return res, fmt.Errorf("%w: %s has negative size %d", ErrInvalidBundle, bundle.ID, bundle.Size)
	}
	if bundle.Expired(now) {
		return res, fmt.Errorf("%w: %s", ErrDeadlineExpired, bundle.ID)
	}
	if _, dup := b.entries[bundle.ID]; dup {
		return res, fmt.Errorf("%w: %s on %s", ErrDuplicateBundle, bundle.ID, b.node)
	}

	if b.capacity > 0 && b.used+bundle.Size > b.capacity {
		if bundle.Size > b.capacity {
			return res, fmt.Errorf("%w: %s (%d bytes) exceeds capacity %d of %s",
				ErrBufferOverflow, bundle.ID, bundle.Size, b.capacity, b.node)
		}
		need := b.used + bundle.Size - b.capacity
		victims := b.policy.SelectVictims(bundle, b.residentsLocked(), need)
		if !b.freesLocked(victims, need) {
			return res, fmt.Errorf("%w: %s needs %d bytes on %s", ErrBufferOverflow, bundle.ID, need, b.node)
		}
		for _, id := range victims {
			e := b.entries[id]
			delete(b.entries, id)
			b.used -= e.bundle.Size
			res.Evicted = append(res.Evicted, e.bundle)
		}
	}

	b.seq++
	bundle.Custodian = b.node
	b.entries[bundle.ID] = &entry{bundle: bundle, seq: b.seq}
	b.used += bundle.Size
	return res, nil
}

// freesLocked checks that victims are distinct, unclaimed residents whose
// sizes add up to at least need.
func (b *Buffer) freesLocked(victims []string, need int64) bool {
	if len(victims) == 0 {
		return false
	}
	seen := make(map[string]bool, len(victims))
	var freed int64
	for _, id := range victims {
		e, ok := b.entries[id]
		if !ok || seen[id] || e.claimedBy != "" {
			return false
		}
		seen[id] = true
		freed += e.bundle.Size
	}
	return freed >= need
}

func (b *Buffer) residentsLocked() []Resident {
	out := make([]Resident, 0, len(b.entries))
	for _, e := range b.sortedLocked() {
		out = append(out, Resident{Bundle: e.bundle, Claimed: e.claimedBy != ""})
	}
	return out
}

// sortedLocked returns entries in admission order.
func (b *Buffer) sortedLocked() []*entry {
	out := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Expire removes every unclaimed bundle past its deadline and returns them.
func (b *Buffer) Expire(now time.Time) []model.Bundle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expireLocked(now)
}

func (b *Buffer) expireLocked(now time.Time) []model.Bundle {
	var expired []model.Bundle
	for _, e := range b.sortedLocked() {
		if e.claimedBy == "" && e.bundle.Expired(now) {
			delete(b.entries, e.bundle.ID)
			b.used -= e.bundle.Size
			expired = append(expired, e.bundle)
		}
	}
	return expired
}

// Candidates returns unclaimed bundles ordered by priority (0 first), then
// deadline, then id.
func (b *Buffer) Candidates() []model.Bundle {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Bundle, 0, len(b.entries))
	for _, e := range b.entries {
		if e.claimedBy == "" {
			out = append(out, e.bundle)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Priority != c.Priority {
			return a.Priority < c.Priority
		}
		if !a.Deadline.Equal(c.Deadline) {
			return a.Deadline.Before(c.Deadline)
		}
		return a.ID < c.ID
	})
	return out
}

// Bundles returns every stored bundle in admission order.
func (b *Buffer) Bundles() []model.Bundle {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.sortedLocked()
	out := make([]model.Bundle, len(entries))
	for i, e := range entries {
		out[i] = e.bundle
	}
	return out
}

// TryClaim marks id as being sent by owner. It fails if the bundle is gone or
// already claimed.
func (b *Buffer) TryClaim(id, owner string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.claimedBy != "" {
		return false
	}
	e.claimedBy = owner
	return true
}

// Release drops owner's claim on id. It reports whether a claim was released.
func (b *Buffer) Release(id, owner string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.claimedBy != owner {
		return false
	}
	e.claimedBy = ""
	return true
}

// Remove deletes id regardless of claims, returning the stored bundle.
func (b *Buffer) Remove(id string) (model.Bundle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return model.Bundle{}, false
	}
	delete(b.entries, id)
	b.used -= e.bundle.Size
	return e.bundle, true
}
