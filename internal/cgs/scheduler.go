// Package cgs decides which node acquires a request and when, committing a
// task only when delivery before the deadline is provably feasible.
package cgs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/cgs-simulator/internal/cgr"
	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/tasktable"
	"github.com/signalsfoundry/cgs-simulator/internal/visibility"
	"github.com/signalsfoundry/cgs-simulator/model"
)

const tracerName = "github.com/signalsfoundry/cgs-simulator/internal/cgs"

// ErrInvalidRequest is returned for requests that violate model invariants.
// It is fatal to the run.
var ErrInvalidRequest = errors.New("invalid request")

// NodeSource lists nodes able to acquire imagery.
type NodeSource interface {
	AcquisitionNodes() []model.Node
}

// RouteComputer is implemented by *cgr.Router.
type RouteComputer interface {
	Compute(ctx context.Context, q cgr.Query, opts cgr.Options) (*model.Route, error)
}

// TaskCommitter is implemented by *tasktable.Table.
type TaskCommitter interface {
	Commit(task model.Task) error
	Available(node string, at time.Time) bool
}

// SlotStep is the spacing between acquisition instants tried on one node
// within a visibility window when earlier instants are already taken.
const SlotStep = time.Second

// Candidate is the earliest node/time at which a request could be acquired
// within one visibility window. Later instants up to WindowEnd are tried when
// AcquireAt is taken.
type Candidate struct {
	Node      string
	AcquireAt time.Time
	WindowEnd time.Time
}

// Decision is the outcome of scheduling one request.
type Decision struct {
	Request    model.Request
	Accepted   bool
	Task       model.Task
	Route      *model.Route
	Reason     model.Reason
	Candidates int
}

// Scheduler implements contact graph scheduling. Committed tasks are never
// revoked: a later request cannot displace an earlier one.
type Scheduler struct {
	nodes  NodeSource
	vis    visibility.Provider
	router RouteComputer
	table  TaskCommitter

	log          logging.Logger
	tracer       trace.Tracer
	minElevation float64
	routeOpts    cgr.Options

	queue *PriorityQueue
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMinElevation is passed through to visibility queries.
func WithMinElevation(deg float64) Option {
	return func(s *Scheduler) { s.minElevation = deg }
}

// WithRouteOptions sets the router options used for feasibility checks. The
// default is nominal rates over every contact of the plan. Exclude is read on
// each check, so the caller may keep adding to it.
func WithRouteOptions(o cgr.Options) Option {
	return func(s *Scheduler) { s.routeOpts = o }
}

// NewScheduler wires a scheduler.
func NewScheduler(nodes NodeSource, vis visibility.Provider, router RouteComputer, table TaskCommitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		nodes:  nodes,
		vis:    vis,
		router: router,
		table:  table,
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
		queue:  newPriorityQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateRequest(req model.Request) error {
	switch {
	case req.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRequest)
	case req.Destination == "":
		return fmt.Errorf("%w: %s has no destination", ErrInvalidRequest, req.ID)
	case req.BundleSize < 0:
		return fmt.Errorf("%w: %s has negative bundle size %d", ErrInvalidRequest, req.ID, req.BundleSize)
	case req.MaxTimeToAcquire < 0 || req.MaxTimeToDeliver < 0:
		return fmt.Errorf("%w: %s has a negative deadline", ErrInvalidRequest, req.ID)
	}
	return nil
}

// Candidates returns every acquisition opportunity within the request's
// acquisition deadline, ordered by acquisition time then node id.
func (s *Scheduler) Candidates(ctx context.Context, req model.Request) ([]Candidate, error) {
	var out []Candidate
	for _, n := range s.nodes.AcquisitionNodes() {
		windows, err := s.vis.Windows(ctx, visibility.Query{
			Node:         n.ID,
			Target:       req.Target,
			From:         req.SubmittedAt,
			To:           req.AcquireDeadline(),
			MinElevation: s.minElevation,
		})
		if err != nil {
			return nil, fmt.Errorf("visibility for %s: %w", n.ID, err)
		}
		for _, w := range windows {
			acq := w.Start
			if acq.Before(req.SubmittedAt) {
				acq = req.SubmittedAt
			}
			if acq.After(req.AcquireDeadline()) || !acq.Before(w.End) {
				continue
			}
			out = append(out, Candidate{Node: n.ID, AcquireAt: acq, WindowEnd: w.End})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AcquireAt.Equal(out[j].AcquireAt) {
			return out[i].AcquireAt.Before(out[j].AcquireAt)
		}
		return out[i].Node < out[j].Node
	})
	return out, nil
}

// Schedule evaluates req and commits a task for the first candidate with a
// feasible route. Rejections are reported through the decision; only invalid
// input and collaborator failures return an error.
func (s *Scheduler) Schedule(ctx context.Context, req model.Request) (Decision, error) {
	ctx, span := s.tracer.Start(ctx, "cgs.Schedule", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.Int("request.priority", req.Priority),
		attribute.String("request.destination", req.Destination),
	))
	defer span.End()

	dec, err := s.schedule(ctx, req)
	if err != nil {
		span.RecordError(err)
		return dec, err
	}
	span.SetAttributes(
		attribute.Bool("decision.accepted", dec.Accepted),
		attribute.String("decision.reason", string(dec.Reason)),
		attribute.Int("decision.candidates", dec.Candidates),
	)
	return dec, nil
}

func (s *Scheduler) schedule(ctx context.Context, req model.Request) (Decision, error) {
	dec := Decision{Request: req}
	if err := validateRequest(req); err != nil {
		return dec, err
	}

	candidates, err := s.Candidates(ctx, req)
	if err != nil {
		return dec, err
	}
	dec.Candidates = len(candidates)

	if len(candidates) == 0 {
		dec.Reason = model.ReasonNoCapableNode
		s.log.Debug(ctx, "request rejected",
			logging.String("request_id", req.ID),
			logging.String("reason", string(dec.Reason)),
		)
		return dec, nil
	}

	slotsTaken := false
	for _, cand := range candidates {
		task, route, conflicted, err := s.tryCandidate(ctx, req, cand)
		if err != nil {
			return dec, err
		}
		if route == nil {
			slotsTaken = slotsTaken || conflicted
			continue
		}

		dec.Accepted = true
		dec.Task = task
		dec.Route = route
		s.log.Debug(ctx, "task committed",
			logging.String("request_id", req.ID),
			logging.String("node", task.Assignee),
			logging.Time("acquire_at", task.AcquireAt),
			logging.Time("predicted_delivery", route.Arrival),
		)
		return dec, nil
	}

	dec.Reason = model.ReasonInfeasibleRoute
	if slotsTaken {
		dec.Reason = model.ReasonNoAcquisitionSlot
	}
	s.log.Debug(ctx, "request rejected",
		logging.String("request_id", req.ID),
		logging.String("reason", string(dec.Reason)),
		logging.Int("candidates", len(candidates)),
	)
	return dec, nil
}

// tryCandidate walks the acquisition instants of cand's window, from
// AcquireAt in SlotStep increments, and commits the first free one with a
// feasible route. A nil route means nothing was committed; conflicted reports
// whether any instant of the window was already taken.
func (s *Scheduler) tryCandidate(ctx context.Context, req model.Request, cand Candidate) (model.Task, *model.Route, bool, error) {
	conflicted := false
	last := req.AcquireDeadline()
	for at := cand.AcquireAt; at.Before(cand.WindowEnd) && !at.After(last); at = at.Add(SlotStep) {
		if !s.table.Available(cand.Node, at) {
			conflicted = true
			continue
		}
		deadline := at.Add(req.MaxTimeToDeliver)
		route, err := s.router.Compute(ctx, cgr.Query{
			Source:      cand.Node,
			Destination: req.Destination,
			BundleSize:  req.BundleSize,
			Departure:   at,
			Deadline:    deadline,
		}, s.routeOpts)
		if errors.Is(err, cgr.ErrInfeasibleRoute) {
			if !conflicted {
				// Only the earliest instant of an uncontended window is evaluated.
				return model.Task{}, nil, false, nil
			}
			continue
		}
		if err != nil {
			return model.Task{}, nil, conflicted, fmt.Errorf("route %s from %s: %w", req.ID, cand.Node, err)
		}

		task := model.Task{
			ID:                "task-" + req.ID,
			RequestID:         req.ID,
			Assignee:          cand.Node,
			Target:            req.Target,
			AcquireAt:         at,
			BundleSize:        req.BundleSize,
			Destination:       req.Destination,
			Priority:          req.Priority,
			DeliveryDeadline:  deadline,
			PredictedDelivery: route.Arrival,
			CommittedAt:       req.SubmittedAt,
			Route:             route.ContactIDs(),
		}
		if err := s.table.Commit(task); err != nil {
			if errors.Is(err, tasktable.ErrAcquisitionConflict) {
				conflicted = true
				continue
			}
			return model.Task{}, nil, conflicted, fmt.Errorf("commit %s: %w", task.ID, err)
		}
		return task, route, conflicted, nil
	}
	if conflicted {
		s.log.Debug(ctx, "acquisition window exhausted",
			logging.String("request_id", req.ID),
			logging.String("node", cand.Node),
			logging.Time("window_end", cand.WindowEnd),
		)
	}
	return model.Task{}, nil, conflicted, nil
}

// Submit queues req for the next Drain.
func (s *Scheduler) Submit(req model.Request) {
	s.queue.Push(req)
}

// Pending returns the number of queued requests.
func (s *Scheduler) Pending() int { return s.queue.Len() }

// Drain schedules every queued request in priority order.
func (s *Scheduler) Drain(ctx context.Context) ([]Decision, error) {
	var out []Decision
	for {
		req, ok := s.queue.Pop()
		if !ok {
			return out, nil
		}
		dec, err := s.Schedule(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, dec)
	}
}
