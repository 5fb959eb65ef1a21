package scenario

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// RequestSource yields requests in non-decreasing submission order.
type RequestSource interface {
	Next() (model.Request, bool)
}

// SliceSource replays a fixed request list.
type SliceSource struct {
	reqs []model.Request
	pos  int
}

// NewSliceSource copies and sorts reqs by submission time, then id.
func NewSliceSource(reqs []model.Request) *SliceSource {
	cp := append([]model.Request(nil), reqs...)
	sortRequests(cp)
	return &SliceSource{reqs: cp}
}

func (s *SliceSource) Next() (model.Request, bool) {
	if s.pos >= len(s.reqs) {
		return model.Request{}, false
	}
	r := s.reqs[s.pos]
	s.pos++
	return r, true
}

// GeneratorDefaults carries run-wide values the generator needs.
type GeneratorDefaults struct {
	Start, End       time.Time
	Seed             uint64
	BundleSize       int64
	MaxTimeToAcquire time.Duration
	MaxTimeToDeliver time.Duration
	DownloadCapacity int64
}

// InterArrivalFromCongestion returns the mean time between requests that
// loads the network's download capacity to the target congestion ratio:
// duration * bundleSize / (downloadCapacity * congestion).
func InterArrivalFromCongestion(duration time.Duration, downloadCapacity, bundleSize int64, congestion float64) (time.Duration, error) {
	if downloadCapacity <= 0 {
		return 0, errors.New("download capacity must be positive")
	}
	if congestion <= 0 {
		return 0, errors.New("congestion must be positive")
	}
	mean := duration.Seconds() * float64(bundleSize) / (float64(downloadCapacity) * congestion)
	return time.Duration(mean * float64(time.Second)), nil
}

// Generator produces Poisson request arrivals. It is deterministic for a
// given seed.
type Generator struct {
	cfg  GeneratorConfig
	def  GeneratorDefaults
	mean time.Duration
	rng  *rand.Rand
	now  time.Time
	n    int
}

// NewGenerator validates cfg and derives the mean inter-arrival time when it
// is not given explicitly.
func NewGenerator(cfg GeneratorConfig, def GeneratorDefaults) (*Generator, error) {
	if len(cfg.Targets) == 0 || len(cfg.Destinations) == 0 {
		return nil, errors.New("generator needs targets and destinations")
	}
	if def.BundleSize <= 0 {
		def.BundleSize = defaultBundleSize
	}
	mean := cfg.MeanInterArrival
	if mean <= 0 {
		var err error
		mean, err = InterArrivalFromCongestion(def.End.Sub(def.Start), def.DownloadCapacity, def.BundleSize, cfg.Congestion)
		if err != nil {
			return nil, fmt.Errorf("derive inter-arrival time: %w", err)
		}
	}
	if mean <= 0 {
		return nil, errors.New("mean inter-arrival time must be positive")
	}
	return &Generator{
		cfg:  cfg,
		def:  def,
		mean: mean,
		rng:  rand.New(rand.NewPCG(def.Seed, def.Seed^0x9e3779b97f4a7c15)),
		now:  def.Start,
	}, nil
}

// MeanInterArrival returns the effective mean spacing between requests.
func (g *Generator) MeanInterArrival() time.Duration { return g.mean }

func (g *Generator) Next() (model.Request, bool) {
	if g.cfg.Count > 0 && g.n >= g.cfg.Count {
		return model.Request{}, false
	}
	wait := time.Duration(g.rng.ExpFloat64() * float64(g.mean))
	next := g.now.Add(wait)
	if !next.Before(g.def.End) {
		return model.Request{}, false
	}
	g.now = next
	g.n++

	req := model.Request{
		ID:               fmt.Sprintf("gen-%d", g.n),
		Target:           g.cfg.Targets[g.rng.IntN(len(g.cfg.Targets))],
		SubmittedAt:      next,
		MaxTimeToAcquire: g.def.MaxTimeToAcquire,
		MaxTimeToDeliver: g.def.MaxTimeToDeliver,
		Destination:      g.cfg.Destinations[g.rng.IntN(len(g.cfg.Destinations))],
		BundleSize:       g.def.BundleSize,
	}
	if g.cfg.MaxPriority > 0 {
		req.Priority = g.rng.IntN(g.cfg.MaxPriority + 1)
	}
	return req, true
}

type merged struct {
	srcs  []RequestSource
	heads []*model.Request
}

// Merge interleaves sources by submission time. Ties go to the earlier
// source.
func Merge(srcs ...RequestSource) RequestSource {
	m := &merged{srcs: srcs, heads: make([]*model.Request, len(srcs))}
	for i := range srcs {
		m.fill(i)
	}
	return m
}

func (m *merged) fill(i int) {
	if r, ok := m.srcs[i].Next(); ok {
		m.heads[i] = &r
	} else {
		m.heads[i] = nil
	}
}

func (m *merged) Next() (model.Request, bool) {
	best := -1
	for i, h := range m.heads {
		if h == nil {
			continue
		}
		if best < 0 || h.SubmittedAt.Before(m.heads[best].SubmittedAt) {
			best = i
		}
	}
	if best < 0 {
		return model.Request{}, false
	}
	r := *m.heads[best]
	m.fill(best)
	return r, true
}
