// Package cgr computes earliest-arrival routes over a contact plan.
package cgr

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrInfeasibleRoute is returned when no contact-respecting path reaches
	// the destination by the deadline.
	ErrInfeasibleRoute = errors.New("no feasible route before deadline")

	// ErrInvalidQuery is returned for malformed route queries.
	ErrInvalidQuery = errors.New("invalid route query")
)

// ContactSource is the subset of the contact plan the router reads.
type ContactSource interface {
	ContactsFrom(node string, at time.Time) []model.Contact
}

// CapacityView reports bytes already committed to a contact.
type CapacityView interface {
	Consumed(contactID string) int64
}

// Query describes one route computation.
type Query struct {
	Source      string
	Destination string
	BundleSize  int64
	Departure   time.Time
	Deadline    time.Time
}

// Options carries the congestion view a computation runs against. The zero
// value routes on nominal rates with unlimited residual capacity.
type Options struct {
	// CongestionFactor in [0,1) scales every contact rate by (1 - factor).
	CongestionFactor float64

	// Residual, when set, skips contacts whose remaining volume at the
	// effective rate cannot carry the bundle.
	Residual CapacityView

	// Exclude lists contact ids the search must not use.
	Exclude map[string]bool
}

// Observer is notified after each computation with its wall-clock cost.
type Observer func(elapsed time.Duration, found bool)

// Router is a pure route computer. It holds no per-call state and never
// caches results, so it is safe for concurrent use.
type Router struct {
	plan     ContactSource
	log      logging.Logger
	observer Observer
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(l logging.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver registers a computation observer.
func WithObserver(o Observer) RouterOption {
	return func(r *Router) { r.observer = o }
}

// NewRouter returns a router over plan.
func NewRouter(plan ContactSource, opts ...RouterOption) *Router {
	r := &Router{plan: plan, log: logging.Noop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compute returns the earliest-arrival route for q. Ties on arrival are broken
// by fewer hops, then lower variance of contact rates, then the contact id
// sequence, so identical inputs always yield the same route.
func (r *Router) Compute(ctx context.Context, q Query, opts Options) (*model.Route, error) {
	start := time.Now()
	route, err := r.compute(ctx, q, opts)
	if r.observer != nil {
		r.observer(time.Since(start), err == nil)
	}
	return route, err
}

func (r *Router) compute(ctx context.Context, q Query, opts Options) (*model.Route, error) {
	if q.Source == "" || q.Destination == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrInvalidQuery)
	}
	if q.BundleSize < 0 {
		return nil, fmt.Errorf("%w: negative bundle size %d", ErrInvalidQuery, q.BundleSize)
	}
	if opts.CongestionFactor < 0 || opts.CongestionFactor >= 1 {
		return nil, fmt.Errorf("%w: congestion factor %v outside [0,1)", ErrInvalidQuery, opts.CongestionFactor)
	}
	if q.Departure.After(q.Deadline) {
		return nil, ErrInfeasibleRoute
	}
	if q.Source == q.Destination {
		return &model.Route{Source: q.Source, Destination: q.Destination, Arrival: q.Departure}, nil
	}

	scale := 1 - opts.CongestionFactor

	// minHops records, per finalized node, the fewest hops among labels
	// already popped. Labels are popped in (arrival, hops) order, so a later
	// label with at least as many hops is dominated.
	minHops := make(map[string]int)

	frontier := &labelQueue{}
	heap.Push(frontier, &label{node: q.Source, arrival: q.Departure})

	for pops := 0; frontier.Len() > 0; pops++ {
		if pops%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cur := heap.Pop(frontier).(*label)
		if cur.arrival.After(q.Deadline) {
			break
		}
		if h, seen := minHops[cur.node]; seen && h <= cur.hops {
			continue
		}
		minHops[cur.node] = cur.hops

		if cur.node == q.Destination {
			route := cur.route(q.Source, q.Destination)
			r.log.Debug(ctx, "route found",
				logging.String("source", q.Source),
				logging.String("destination", q.Destination),
				logging.Int("hops", cur.hops),
				logging.Time("arrival", cur.arrival),
			)
			return route, nil
		}

		for _, c := range r.plan.ContactsFrom(cur.node, cur.arrival) {
			if opts.Exclude[c.ID] {
				continue
			}
			rate := c.Rate * scale
			if rate <= 0 {
				continue
			}
			board := c.Start
			if cur.arrival.After(board) {
				board = cur.arrival
			}
			tx := model.TransmissionTime(q.BundleSize, rate)
			if tx > c.End.Sub(board) {
				// No partial-window carry.
				continue
			}
			done := board.Add(tx)
			if opts.Residual != nil {
				capacity := int64(rate * c.Duration().Seconds())
				if capacity-opts.Residual.Consumed(c.ID) < q.BundleSize {
					continue
				}
			}
			arrival := done.Add(c.OWLT)
			if arrival.After(q.Deadline) {
				continue
			}
			if h, seen := minHops[c.To]; seen && h <= cur.hops+1 {
				continue
			}
			heap.Push(frontier, cur.extend(c, board, arrival))
		}
	}

	return nil, ErrInfeasibleRoute
}

// Alternatives returns up to k routes with pairwise distinct first contacts,
// best first. Each subsequent route is computed with the first contacts of
// the previous ones excluded.
func (r *Router) Alternatives(ctx context.Context, q Query, opts Options, k int) ([]*model.Route, error) {
	if k <= 0 {
		return nil, nil
	}
	exclude := make(map[string]bool, len(opts.Exclude)+k)
	for id, v := range opts.Exclude {
		exclude[id] = v
	}
	opts.Exclude = exclude

	var routes []*model.Route
	for len(routes) < k {
		route, err := r.Compute(ctx, q, opts)
		if errors.Is(err, ErrInfeasibleRoute) {
			break
		}
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
		first, ok := route.FirstHop()
		if !ok {
			break
		}
		exclude[first.Contact.ID] = true
	}
	if len(routes) == 0 {
		return nil, ErrInfeasibleRoute
	}
	return routes, nil
}
