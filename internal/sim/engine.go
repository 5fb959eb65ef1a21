// Package sim drives a contact graph scheduling run: requests are scheduled
// onto acquisition nodes, acquired bundles are routed hop by hop over the
// contact plan, and every outcome is reported through a Recorder.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/cgs-simulator/core"
	"github.com/signalsfoundry/cgs-simulator/internal/buffer"
	"github.com/signalsfoundry/cgs-simulator/internal/cgr"
	"github.com/signalsfoundry/cgs-simulator/internal/cgs"
	"github.com/signalsfoundry/cgs-simulator/internal/controller"
	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/observability"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/internal/scenario"
	"github.com/signalsfoundry/cgs-simulator/internal/sim/events"
	"github.com/signalsfoundry/cgs-simulator/internal/sim/state"
	"github.com/signalsfoundry/cgs-simulator/internal/tasktable"
	"github.com/signalsfoundry/cgs-simulator/internal/visibility"
	"github.com/signalsfoundry/cgs-simulator/kb"
	"github.com/signalsfoundry/cgs-simulator/model"
	"github.com/signalsfoundry/cgs-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/cgs-simulator/internal/sim"

var (
	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("invalid engine config")

	// ErrAlreadyRan is returned when Run is called twice on one engine.
	ErrAlreadyRan = errors.New("engine already ran")
)

// Config holds the inputs of one run.
type Config struct {
	Plan       *core.ContactPlan
	Nodes      *kb.KnowledgeBase
	Visibility visibility.Provider
	Requests   scenario.RequestSource

	// Start is the initial simulation time.
	Start time.Time
	// Horizon bounds the visibility cache. Zero uses the end of the plan.
	Horizon time.Time

	CongestionFactor float64
	EvictionPolicy   buffer.EvictionPolicy
	MinElevation     float64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Components inherit it.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder adds a sink for outcome events.
func WithRecorder(r outcome.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.sinks = append(e.sinks, r)
		}
	}
}

// WithMetrics exports run metrics through c.
func WithMetrics(c *observability.SimCollector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithPacer throttles the run to wall time.
func WithPacer(p *timectrl.Pacer) Option {
	return func(e *Engine) { e.pacer = p }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.runID = id
		}
	}
}

// WithTracer sets the tracer used for the run and scheduling spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// Engine owns every piece of run state. Events are processed sequentially on
// the goroutine calling Run.
type Engine struct {
	cfg     Config
	runID   string
	log     logging.Logger
	tracer  trace.Tracer
	metrics *observability.SimCollector
	pacer   *timectrl.Pacer
	sinks   []outcome.Recorder

	recorder outcome.Recorder
	summary  *outcome.Summary

	clock    *timectrl.Clock
	events   events.Scheduler
	vis      *visibility.Cached
	router   *cgr.Router
	table    *tasktable.Table
	sched    *cgs.Scheduler
	ledger   *core.CapacityLedger
	buffers  map[string]*buffer.Buffer
	replicas []*tasktable.Replica

	controllers map[string]*controller.Controller
	active      map[string]int
	completions map[string]string
	// refused holds contacts turned away at open; routing avoids them.
	refused map[string]bool
	sweeps  map[sweepKey]bool

	tasks     *state.RunState
	telemetry *state.TelemetryState

	source scenario.RequestSource
	peeked *model.Request

	ctx context.Context
	err error
	ran bool
}

type sweepKey struct {
	node string
	at   int64
}

// New validates cfg and wires an engine ready to Run.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Plan == nil || cfg.Nodes == nil {
		return nil, fmt.Errorf("%w: plan and nodes are required", ErrInvalidConfig)
	}
	if cfg.CongestionFactor < 0 || cfg.CongestionFactor >= 1 {
		return nil, fmt.Errorf("%w: congestion factor %v outside [0,1)", ErrInvalidConfig, cfg.CongestionFactor)
	}
	for _, c := range cfg.Plan.Contacts() {
		for _, id := range []string{c.From, c.To} {
			if _, err := cfg.Nodes.GetNode(id); err != nil {
				return nil, fmt.Errorf("contact %s: %w", c.ID, err)
			}
		}
	}
	if cfg.Start.IsZero() {
		cfg.Start, _ = cfg.Plan.Horizon()
	}
	if cfg.Horizon.IsZero() {
		_, cfg.Horizon = cfg.Plan.Horizon()
	}
	if cfg.Visibility == nil {
		cfg.Visibility = visibility.NewPlanProvider(cfg.Plan)
	}
	if cfg.Requests == nil {
		cfg.Requests = scenario.NewSliceSource(nil)
	}
	if cfg.EvictionPolicy == nil {
		cfg.EvictionPolicy = buffer.LowestPriorityFirst{}
	}

	e := &Engine{
		cfg:         cfg,
		runID:       uuid.NewString(),
		log:         logging.Noop(),
		tracer:      otel.Tracer(tracerName),
		summary:     outcome.NewSummary(),
		buffers:     make(map[string]*buffer.Buffer),
		controllers: make(map[string]*controller.Controller),
		active:      make(map[string]int),
		completions: make(map[string]string),
		refused:     make(map[string]bool),
		sweeps:      make(map[sweepKey]bool),
		tasks:       state.NewRunState(),
		telemetry:   state.NewTelemetryState(),
		source:      cfg.Requests,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logging.String("run_id", e.runID))

	sinks := []outcome.Recorder{e.summary}
	if e.metrics != nil {
		sinks = append(sinks, e.metrics)
	}
	e.recorder = outcome.Multi(append(sinks, e.sinks...))

	e.clock = timectrl.NewClock(cfg.Start)
	if e.metrics != nil {
		e.metrics.SetSimTime(cfg.Start)
		e.clock.AddListener(e.metrics.SetSimTime)
	}
	e.events = events.NewScheduler(e.clock)
	e.vis = visibility.NewCached(cfg.Visibility, cfg.Start, cfg.Horizon)
	e.ledger = core.NewCapacityLedger()
	e.table = tasktable.New()

	routerOpts := []cgr.RouterOption{cgr.WithLogger(e.log)}
	if e.metrics != nil {
		routerOpts = append(routerOpts, cgr.WithObserver(e.metrics.ObserveRoute))
	}
	e.router = cgr.NewRouter(cfg.Plan, routerOpts...)
	e.sched = cgs.NewScheduler(cfg.Nodes, e.vis, e.router, e.table,
		cgs.WithLogger(e.log),
		cgs.WithTracer(e.tracer),
		cgs.WithMinElevation(cfg.MinElevation),
		cgs.WithRouteOptions(cgr.Options{Exclude: e.refused}),
	)

	for _, n := range cfg.Nodes.ListNodes() {
		if n.Role == model.RoleTarget {
			continue
		}
		e.buffers[n.ID] = buffer.New(n.ID, n.StorageCapacity, buffer.WithEvictionPolicy(cfg.EvictionPolicy))
	}
	return e, nil
}

// NewFromScenario builds an engine for a loaded scenario.
func NewFromScenario(s *scenario.Scenario, opts ...Option) (*Engine, error) {
	plan, err := s.Plan()
	if err != nil {
		return nil, fmt.Errorf("contact plan: %w", err)
	}
	nodes, err := s.KnowledgeBase()
	if err != nil {
		return nil, fmt.Errorf("nodes: %w", err)
	}
	src, err := s.Source(s.DownloadCapacity(plan))
	if err != nil {
		return nil, fmt.Errorf("requests: %w", err)
	}
	policy := buffer.PolicyByName(s.Params.EvictionPolicy)
	if policy == nil {
		return nil, fmt.Errorf("%w: unknown eviction policy %q", ErrInvalidConfig, s.Params.EvictionPolicy)
	}
	return New(Config{
		Plan:             plan,
		Nodes:            nodes,
		Visibility:       s.Visibility(plan),
		Requests:         src,
		Start:            s.Epoch,
		Horizon:          s.End(),
		CongestionFactor: s.Params.CongestionFactor,
		EvictionPolicy:   policy,
		MinElevation:     s.Params.MinElevation,
	}, opts...)
}

// RunID returns the run identifier stamped on every outcome event.
func (e *Engine) RunID() string { return e.runID }

// Now returns the current simulation time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Tasks returns the status of every committed task.
func (e *Engine) Tasks() []state.TaskRecord { return e.tasks.List() }

// Buffer returns the buffer of node, or nil for nodes without storage.
func (e *Engine) Buffer(node string) *buffer.Buffer { return e.buffers[node] }

// Run processes events in time order until none are left, the next event is
// after until, ctx is done, or a handler fails. A zero until means no bound.
// The report reflects the state reached even when an error is returned.
func (e *Engine) Run(ctx context.Context, until time.Time) (*Report, error) {
	if e.ran {
		return nil, ErrAlreadyRan
	}
	e.ran = true

	ctx = logging.ContextWithRunID(ctx, e.runID)
	ctx = logging.ContextWithLogger(ctx, e.log)
	ctx, span := e.tracer.Start(ctx, "sim.Run", trace.WithAttributes(
		attribute.String("run.id", e.runID),
		attribute.Int("plan.contacts", e.cfg.Plan.Len()),
	))
	defer span.End()
	e.ctx = ctx

	e.log.Info(ctx, "run started",
		logging.Time("start", e.cfg.Start),
		logging.Int("contacts", e.cfg.Plan.Len()),
		logging.Int("nodes", len(e.buffers)),
	)
	e.init()
	defer e.closeReplicas()

	err := e.loop(ctx, until)
	if err != nil {
		span.RecordError(err)
	}
	report := e.report()
	e.log.Info(ctx, "run finished",
		logging.Time("end", report.End),
		logging.Int("accepted", report.Stats.Accepted),
		logging.Int("delivered", report.Stats.Delivered),
		logging.Int("dropped", report.Stats.Dropped),
	)
	return report, err
}

func (e *Engine) loop(ctx context.Context, until time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, ok := e.events.NextAt()
		if !ok {
			return nil
		}
		if !until.IsZero() && next.After(until) {
			e.clock.AdvanceTo(until)
			return nil
		}
		if err := e.pacer.Wait(ctx, e.clock.Now(), next); err != nil {
			return err
		}
		e.clock.AdvanceTo(next)
		e.events.RunDue()
		if e.err != nil {
			return e.err
		}
	}
}

// init registers replicas and schedules contact windows and the first
// request. Contact ends are queued before starts so a slot freed at t is
// available to a contact opening at t.
func (e *Engine) init() {
	for _, n := range e.cfg.Nodes.AcquisitionNodes() {
		e.replicas = append(e.replicas, tasktable.NewReplica(e.table, n.ID, e.onLocalTask))
	}

	var schedulable []model.Contact
	for _, c := range e.cfg.Plan.Contacts() {
		if e.buffers[c.From] == nil || e.buffers[c.To] == nil {
			continue
		}
		if !c.End.After(e.cfg.Start) {
			continue
		}
		schedulable = append(schedulable, c)
	}
	for _, c := range schedulable {
		c := c
		e.events.Schedule(c.End, events.KindContactEnd, func() { e.closeContact(c) })
	}
	for _, c := range schedulable {
		c := c
		at := c.Start
		if at.Before(e.cfg.Start) {
			at = e.cfg.Start
		}
		e.events.Schedule(at, events.KindContactStart, func() { e.openContact(c) })
	}
	e.scheduleNextArrival()
}

func (e *Engine) closeReplicas() {
	for _, r := range e.replicas {
		r.Close()
	}
	e.replicas = nil
}

// fail stores the first fatal handler error; the loop stops after the
// current batch of due events.
func (e *Engine) fail(err error) {
	if e.err == nil {
		e.err = err
		e.log.Error(e.ctx, "run aborted", logging.Err(err))
	}
}

func (e *Engine) record(ev outcome.Event) {
	ev.RunID = e.runID
	if ev.Time.IsZero() {
		ev.Time = e.clock.Now()
	}
	if err := e.recorder.Record(e.ctx, ev); err != nil {
		e.fail(fmt.Errorf("record %s: %w", ev.Kind, err))
	}
}
