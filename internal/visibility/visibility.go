// Package visibility answers acquisition feasibility queries: during which
// intervals can a node observe a location.
package visibility

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// Query asks for the sub-intervals of [From, To] during which Node can
// observe Target. A window is returned if it intersects the range, clipped to
// start no earlier than From.
type Query struct {
	Node         string
	Target       model.Location
	From         time.Time
	To           time.Time
	MinElevation float64
}

// Provider is the geometric visibility collaborator.
type Provider interface {
	Windows(ctx context.Context, q Query) ([]model.Interval, error)
}

// Window is a precomputed observation opportunity.
type Window struct {
	Node     string
	Location string
	model.Interval

	// PeakElevation in degrees; zero means unknown and always passes the
	// elevation filter.
	PeakElevation float64
}

type pairKey struct {
	node     string
	location string
}

// Static serves windows from an in-memory table.
type Static struct {
	mu      sync.RWMutex
	windows map[pairKey][]Window
}

// NewStatic builds a provider over windows.
func NewStatic(windows []Window) *Static {
	s := &Static{windows: make(map[pairKey][]Window)}
	for _, w := range windows {
		s.Add(w)
	}
	return s
}

// Add inserts a window, keeping each pair's windows ordered by start.
func (s *Static) Add(w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{w.Node, w.Location}
	ws := append(s.windows[k], w)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })
	s.windows[k] = ws
}

func (s *Static) Windows(ctx context.Context, q Query) ([]model.Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ws := s.windows[pairKey{q.Node, q.Target.ID}]
	s.mu.RUnlock()

	var out []model.Interval
	for _, w := range ws {
		if w.PeakElevation > 0 && w.PeakElevation < q.MinElevation {
			continue
		}
		if iv, ok := w.Interval.Clip(q.From, q.To); ok {
			out = append(out, iv)
		}
	}
	return out, nil
}

// PairContacts lists contacts for a directed pair in time order.
type PairContacts interface {
	ContactsBetween(from, to string) []model.Contact
}

// PlanProvider derives observation windows from contacts toward target
// pseudo-nodes: a contact node -> location.ID is an acquisition opportunity.
type PlanProvider struct {
	plan PairContacts
}

// NewPlanProvider wraps plan.
func NewPlanProvider(plan PairContacts) *PlanProvider {
	return &PlanProvider{plan: plan}
}

func (p *PlanProvider) Windows(ctx context.Context, q Query) ([]model.Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []model.Interval
	for _, c := range p.plan.ContactsBetween(q.Node, q.Target.ID) {
		iv := model.Interval{Start: c.Start, End: c.End}
		if clipped, ok := iv.Clip(q.From, q.To); ok {
			out = append(out, clipped)
		}
	}
	return out, nil
}

// Multi concatenates the windows of several providers, ordered by start.
type Multi []Provider

func (m Multi) Windows(ctx context.Context, q Query) ([]model.Interval, error) {
	var out []model.Interval
	for _, p := range m {
		ws, err := p.Windows(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, ws...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
