// Package scenario loads simulation scenarios and turns them into the
// contact plan, node registry, visibility tables and request stream a run
// needs.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/cgs-simulator/core"
	"github.com/signalsfoundry/cgs-simulator/internal/buffer"
	"github.com/signalsfoundry/cgs-simulator/internal/visibility"
	"github.com/signalsfoundry/cgs-simulator/kb"
	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrInvalidScenario wraps every validation failure.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrUnknownReference marks a contact, window or request that names a
	// node or location the scenario does not define.
	ErrUnknownReference = errors.New("unknown reference")
)

const (
	defaultBundleSize       = 1
	defaultMaxTimeToAcquire = 24 * time.Hour
	defaultMaxTimeToDeliver = 24 * time.Hour
)

// Parameters are run-wide knobs with defaults applied.
type Parameters struct {
	CongestionFactor float64
	EvictionPolicy   string
	MinElevation     float64
	Seed             uint64

	BundleSize       int64
	MaxTimeToAcquire time.Duration
	MaxTimeToDeliver time.Duration
	DefaultPriority  int
}

// GeneratorConfig drives synthetic request arrivals.
type GeneratorConfig struct {
	Count            int
	MeanInterArrival time.Duration
	Congestion       float64
	Targets          []model.Location
	Destinations     []string
	MaxPriority      int
}

// Scenario is a validated, time-resolved scenario.
type Scenario struct {
	Name      string
	Epoch     time.Time
	Duration  time.Duration
	Params    Parameters
	Nodes     []model.Node
	Locations []model.Location
	Contacts  []model.Contact
	Windows   []visibility.Window
	Requests  []model.Request
	Generator *GeneratorConfig
}

// End is Epoch plus Duration.
func (s *Scenario) End() time.Time { return s.Epoch.Add(s.Duration) }

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Build resolves f into a Scenario. extra contacts (for example from an ION
// plan file) are appended to the inline ones.
func Build(f *File, extra []model.Contact) (*Scenario, error) {
	epoch, err := parseEpoch(f.Epoch)
	if err != nil {
		return nil, err
	}
	s := &Scenario{
		Name:     f.Name,
		Epoch:    epoch,
		Duration: seconds(f.Duration),
		Params:   buildParams(f.Parameters),
	}

	for _, n := range f.Nodes {
		s.Nodes = append(s.Nodes, model.Node{
			ID:              n.ID,
			Name:            n.Name,
			Role:            model.Role(n.Role),
			StorageCapacity: n.StorageCapacity,
			MaxContacts:     n.MaxContacts,
			CanAcquire:      n.CanAcquire,
		})
	}
	for _, l := range f.Locations {
		s.Locations = append(s.Locations, model.Location{ID: l.ID, Name: l.Name, Latitude: l.Latitude, Longitude: l.Longitude})
	}
	for _, c := range f.Contacts {
		s.Contacts = append(s.Contacts, model.Contact{
			ID:         c.ID,
			From:       c.From,
			To:         c.To,
			Start:      epoch.Add(seconds(c.Start)),
			End:        epoch.Add(seconds(c.End)),
			Rate:       c.Rate,
			OWLT:       seconds(c.OWLT),
			Confidence: c.Confidence,
		})
	}
	s.Contacts = append(s.Contacts, extra...)
	for _, w := range f.Visibility {
		s.Windows = append(s.Windows, visibility.Window{
			Node:          w.Node,
			Location:      w.Location,
			Interval:      model.Interval{Start: epoch.Add(seconds(w.Start)), End: epoch.Add(seconds(w.End))},
			PeakElevation: w.PeakElevation,
		})
	}

	targets := s.targetIndex()
	var unknown []string
	resolve := func(id string) model.Location {
		loc, ok := targets[id]
		if !ok {
			unknown = append(unknown, id)
		}
		return loc
	}

	for _, r := range f.Requests {
		req := model.Request{
			ID:               r.ID,
			Target:           resolve(r.Target),
			SubmittedAt:      epoch.Add(seconds(r.SubmittedAt)),
			MaxTimeToAcquire: seconds(r.MaxTimeToAcquire),
			MaxTimeToDeliver: seconds(r.MaxTimeToDeliver),
			Priority:         s.Params.DefaultPriority,
			Destination:      r.Destination,
			BundleSize:       r.BundleSize,
		}
		if r.Priority != nil {
			req.Priority = *r.Priority
		}
		s.applyRequestDefaults(&req)
		s.Requests = append(s.Requests, req)
	}

	if g := f.Generator; g != nil {
		cfg := &GeneratorConfig{
			Count:            g.Count,
			MeanInterArrival: seconds(g.MeanInterArrival),
			Congestion:       g.Congestion,
			Destinations:     append([]string(nil), g.Destinations...),
			MaxPriority:      g.MaxPriority,
		}
		for _, id := range g.Targets {
			cfg.Targets = append(cfg.Targets, resolve(id))
		}
		s.Generator = cfg
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %w: targets %v", ErrInvalidScenario, ErrUnknownReference, unknown)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseEpoch(raw string) (time.Time, error) {
	if raw == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch: %w", ErrInvalidScenario, err)
	}
	return t.UTC(), nil
}

func buildParams(p *ParametersSpec) Parameters {
	params := Parameters{
		BundleSize:       defaultBundleSize,
		MaxTimeToAcquire: defaultMaxTimeToAcquire,
		MaxTimeToDeliver: defaultMaxTimeToDeliver,
	}
	if p == nil {
		return params
	}
	params.CongestionFactor = p.CongestionFactor
	params.EvictionPolicy = p.EvictionPolicy
	params.MinElevation = p.MinElevation
	params.Seed = p.Seed
	params.DefaultPriority = p.DefaultPriority
	if p.BundleSize > 0 {
		params.BundleSize = p.BundleSize
	}
	if p.MaxTimeToAcquire > 0 {
		params.MaxTimeToAcquire = seconds(p.MaxTimeToAcquire)
	}
	if p.MaxTimeToDeliver > 0 {
		params.MaxTimeToDeliver = seconds(p.MaxTimeToDeliver)
	}
	return params
}

func (s *Scenario) applyRequestDefaults(r *model.Request) {
	if r.BundleSize == 0 {
		r.BundleSize = s.Params.BundleSize
	}
	if r.MaxTimeToAcquire == 0 {
		r.MaxTimeToAcquire = s.Params.MaxTimeToAcquire
	}
	if r.MaxTimeToDeliver == 0 {
		r.MaxTimeToDeliver = s.Params.MaxTimeToDeliver
	}
}

// targetIndex maps every observable id to its location. Target pseudo-nodes
// are observable under their node id.
func (s *Scenario) targetIndex() map[string]model.Location {
	idx := make(map[string]model.Location, len(s.Locations))
	for _, n := range s.Nodes {
		if n.Role == model.RoleTarget {
			idx[n.ID] = model.Location{ID: n.ID, Name: n.Name}
		}
	}
	for _, l := range s.Locations {
		idx[l.ID] = l
	}
	return idx
}

// Validate checks internal consistency. Every error wraps ErrInvalidScenario;
// dangling references also wrap ErrUnknownReference.
func (s *Scenario) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))
	}
	dangling := func(format string, args ...any) error {
		return fmt.Errorf("%w: %w: %s", ErrInvalidScenario, ErrUnknownReference, fmt.Sprintf(format, args...))
	}

	if s.Duration <= 0 {
		return invalid("duration must be positive")
	}
	if f := s.Params.CongestionFactor; f < 0 || f >= 1 {
		return invalid("congestion factor %v outside [0,1)", f)
	}
	if buffer.PolicyByName(s.Params.EvictionPolicy) == nil {
		return invalid("unknown eviction policy %q", s.Params.EvictionPolicy)
	}

	nodes := make(map[string]model.Node, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return invalid("node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return invalid("duplicate node %q", n.ID)
		}
		if !n.Role.Valid() {
			return invalid("node %q has unknown role %q", n.ID, n.Role)
		}
		if n.StorageCapacity < 0 || n.MaxContacts < 0 {
			return invalid("node %q has negative capacity", n.ID)
		}
		nodes[n.ID] = n
	}
	locations := make(map[string]bool, len(s.Locations))
	for _, l := range s.Locations {
		if l.ID == "" {
			return invalid("location with empty id")
		}
		if locations[l.ID] {
			return invalid("duplicate location %q", l.ID)
		}
		locations[l.ID] = true
	}
	targets := s.targetIndex()

	for _, c := range s.Contacts {
		if _, ok := nodes[c.From]; !ok {
			return dangling("contact %s sender %q", c.ID, c.From)
		}
		if _, ok := nodes[c.To]; !ok {
			return dangling("contact %s receiver %q", c.ID, c.To)
		}
	}
	for _, w := range s.Windows {
		if _, ok := nodes[w.Node]; !ok {
			return dangling("visibility window node %q", w.Node)
		}
		if _, ok := targets[w.Location]; !ok {
			return dangling("visibility window location %q", w.Location)
		}
		if !w.End.After(w.Start) {
			return invalid("visibility window %s/%s ends before it starts", w.Node, w.Location)
		}
	}

	seen := make(map[string]bool, len(s.Requests))
	for _, r := range s.Requests {
		if r.ID == "" {
			return invalid("request with empty id")
		}
		if seen[r.ID] {
			return invalid("duplicate request %q", r.ID)
		}
		seen[r.ID] = true
		if _, ok := targets[r.Target.ID]; !ok {
			return dangling("request %s target %q", r.ID, r.Target.ID)
		}
		if _, ok := nodes[r.Destination]; !ok {
			return dangling("request %s destination %q", r.ID, r.Destination)
		}
		if r.BundleSize < 0 || r.MaxTimeToAcquire < 0 || r.MaxTimeToDeliver < 0 {
			return invalid("request %s has negative size or time budget", r.ID)
		}
	}

	if g := s.Generator; g != nil {
		if len(g.Targets) == 0 || len(g.Destinations) == 0 {
			return invalid("generator needs targets and destinations")
		}
		for _, d := range g.Destinations {
			if _, ok := nodes[d]; !ok {
				return dangling("generator destination %q", d)
			}
		}
		if g.MeanInterArrival <= 0 && g.Congestion <= 0 {
			return invalid("generator needs mean_inter_arrival or congestion")
		}
		if g.Count < 0 || g.MaxPriority < 0 {
			return invalid("generator count and max_priority must be non-negative")
		}
	}
	return nil
}

// Plan builds the contact plan.
func (s *Scenario) Plan() (*core.ContactPlan, error) {
	return core.NewContactPlan(s.Contacts)
}

// KnowledgeBase registers nodes and locations in a fresh registry.
func (s *Scenario) KnowledgeBase() (*kb.KnowledgeBase, error) {
	reg := kb.NewKnowledgeBase()
	for _, n := range s.Nodes {
		if err := reg.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, l := range s.Locations {
		if err := reg.AddLocation(l); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Visibility combines the static windows with windows derived from contacts
// toward target pseudo-nodes.
func (s *Scenario) Visibility(plan visibility.PairContacts) visibility.Provider {
	return visibility.Multi{
		visibility.NewStatic(s.Windows),
		visibility.NewPlanProvider(plan),
	}
}

// DownloadCapacity sums the volume of every space-to-ground contact.
func (s *Scenario) DownloadCapacity(plan *core.ContactPlan) int64 {
	roles := make(map[string]model.Role, len(s.Nodes))
	for _, n := range s.Nodes {
		roles[n.ID] = n.Role
	}
	return plan.VolumeBetween(func(c model.Contact) bool {
		return roles[c.From] == model.RoleSpace && roles[c.To] == model.RoleGround
	})
}

// Source returns the run's request stream: explicit requests merged with the
// generator's output in submission order. downloadCapacity is only consulted
// when the generator derives its rate from a congestion target.
func (s *Scenario) Source(downloadCapacity int64) (RequestSource, error) {
	explicit := NewSliceSource(s.Requests)
	if s.Generator == nil {
		return explicit, nil
	}
	gen, err := NewGenerator(*s.Generator, GeneratorDefaults{
		Start:            s.Epoch,
		End:              s.End(),
		Seed:             s.Params.Seed,
		BundleSize:       s.Params.BundleSize,
		MaxTimeToAcquire: s.Params.MaxTimeToAcquire,
		MaxTimeToDeliver: s.Params.MaxTimeToDeliver,
		DownloadCapacity: downloadCapacity,
	})
	if err != nil {
		return nil, err
	}
	return Merge(explicit, gen), nil
}

// sortRequests orders by submission time, then id.
func sortRequests(reqs []model.Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].SubmittedAt.Equal(reqs[j].SubmittedAt) {
			return reqs[i].SubmittedAt.Before(reqs[j].SubmittedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}
