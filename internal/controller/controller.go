// Package controller runs the per-contact state machine that moves bundles
// out of a node's buffer while a contact window is open.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/signalsfoundry/cgs-simulator/internal/buffer"
	"github.com/signalsfoundry/cgs-simulator/internal/cgr"
	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrInvalidTransition is returned when an event does not apply to the
	// controller's current state.
	ErrInvalidTransition = errors.New("invalid controller transition")

	// ErrCongestionUnavailable marks bundles for which no route exists over
	// the current residual capacity. They stay buffered and are retried.
	ErrCongestionUnavailable = errors.New("no route under current congestion")
)

// State is the controller state.
type State int

const (
	Idle State = iota
	InContact
	Sending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InContact:
		return "in_contact"
	case Sending:
		return "sending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Router is implemented by *cgr.Router.
type Router interface {
	Compute(ctx context.Context, q cgr.Query, opts cgr.Options) (*model.Route, error)
}

// Ledger records bytes sent per contact. *core.CapacityLedger implements it.
type Ledger interface {
	cgr.CapacityView
	Consume(contactID string, bytes int64)
}

// Transmission is one bundle in flight over the controller's contact.
type Transmission struct {
	Bundle   model.Bundle
	Contact  model.Contact
	Start    time.Time
	Complete time.Time
	// Arrival is Complete plus the contact's one-way light time.
	Arrival time.Time
	Route   *model.Route

	// Rerouted is set when Route differs from the route the bundle was
	// following before this hop.
	Rerouted bool
}

// Result reports the side effects of a transition.
type Result struct {
	Started *Transmission
	Sent    *Transmission
	Aborted *Transmission

	// Expired bundles were dropped from the buffer during the transition.
	Expired []model.Bundle

	// Deferred bundles had no route at all; each is reported once per
	// controller.
	Deferred []model.Bundle
}

// Config holds the collaborators of a controller.
type Config struct {
	Node             string
	Contact          model.Contact
	Buffer           *buffer.Buffer
	Router           Router
	Ledger           Ledger
	CongestionFactor float64
	Logger           logging.Logger

	// Exclude holds contact ids routes must avoid, such as refused contacts.
	// The map is read on every Pump and may be updated by the owner between
	// calls.
	Exclude map[string]bool
}

// Controller manages one active contact of one node. Several controllers of
// the same node share its buffer and coordinate through buffer claims.
type Controller struct {
	node    string
	contact model.Contact
	buf     *buffer.Buffer
	router  Router
	ledger  Ledger
	opts    cgr.Options
	rate    float64
	owner   string
	log     logging.Logger

	state    State
	inFlight *Transmission
	deferred map[string]bool
	sent     int
}

// New builds an idle controller for cfg.Contact.
func New(cfg Config) (*Controller, error) {
	if cfg.Buffer == nil || cfg.Router == nil {
		return nil, errors.New("controller requires a buffer and a router")
	}
	if cfg.Node != cfg.Contact.From {
		return nil, fmt.Errorf("contact %s is not sent by %s", cfg.Contact.ID, cfg.Node)
	}
	if cfg.CongestionFactor < 0 || cfg.CongestionFactor >= 1 {
		return nil, fmt.Errorf("congestion factor %v outside [0,1)", cfg.CongestionFactor)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}

	opts := cgr.Options{CongestionFactor: cfg.CongestionFactor, Exclude: cfg.Exclude}
	if cfg.Ledger != nil {
		opts.Residual = cfg.Ledger
	}
	return &Controller{
		node:     cfg.Node,
		contact:  cfg.Contact,
		buf:      cfg.Buffer,
		router:   cfg.Router,
		ledger:   cfg.Ledger,
		opts:     opts,
		rate:     cfg.Contact.Rate * (1 - cfg.CongestionFactor),
		owner:    "ctrl/" + cfg.Contact.ID,
		log:      log.With(logging.String("node", cfg.Node), logging.String("contact_id", cfg.Contact.ID)),
		state:    Idle,
		deferred: make(map[string]bool),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Contact returns the managed contact.
func (c *Controller) Contact() model.Contact { return c.contact }

// InFlight returns the current transmission, if any.
func (c *Controller) InFlight() (*Transmission, bool) {
	return c.inFlight, c.inFlight != nil
}

// Sent returns the number of completed transmissions.
func (c *Controller) Sent() int { return c.sent }

// Open moves Idle -> InContact when the contact window starts.
func (c *Controller) Open(ctx context.Context, now time.Time) (Result, error) {
	if c.state != Idle {
		return Result{}, fmt.Errorf("%w: open in %s", ErrInvalidTransition, c.state)
	}
	if !c.contact.Active(now) {
		return Result{}, fmt.Errorf("%w: contact %s not active at %s", ErrInvalidTransition, c.contact.ID, now.Format(time.RFC3339))
	}
	c.state = InContact
	c.log.Debug(ctx, "contact opened", logging.Time("at", now))
	return Result{Expired: c.buf.Expire(now)}, nil
}

// Pump selects the next bundle to send while InContact. Candidates are tried
// by priority, then deadline; a bundle is sent only if a fresh route computed
// under the current congestion starts with this contact. It is a no-op in any
// other state.
func (c *Controller) Pump(ctx context.Context, now time.Time) (Result, error) {
	if c.state != InContact {
		return Result{}, nil
	}
	res := Result{Expired: c.buf.Expire(now)}

	for _, b := range c.buf.Candidates() {
		route, err := c.router.Compute(ctx, cgr.Query{
			Source:      c.node,
			Destination: b.Destination,
			BundleSize:  b.Size,
			Departure:   now,
			Deadline:    b.Deadline,
		}, c.opts)
		if errors.Is(err, cgr.ErrInfeasibleRoute) {
			if !c.deferred[b.ID] {
				c.deferred[b.ID] = true
				res.Deferred = append(res.Deferred, b)
			}
			continue
		}
		if err != nil {
			return res, fmt.Errorf("route %s: %w", b.ID, err)
		}

		first, ok := route.FirstHop()
		if !ok || first.Contact.ID != c.contact.ID {
			continue
		}

		dur := model.TransmissionTime(b.Size, c.rate)
		if dur > c.contact.End.Sub(now) {
			continue
		}
		complete := now.Add(dur)
		if !c.buf.TryClaim(b.ID, c.owner) {
			continue
		}

		ids := route.ContactIDs()
		tx := &Transmission{
			Bundle:   b,
			Contact:  c.contact,
			Start:    now,
			Complete: complete,
			Arrival:  complete.Add(c.contact.OWLT),
			Route:    route,
			Rerouted: b.Route != nil && !slices.Equal(ids, b.Route),
		}
		c.inFlight = tx
		c.state = Sending
		res.Started = tx
		c.log.Debug(ctx, "transmission started",
			logging.String("bundle_id", b.ID),
			logging.Time("complete_at", complete),
			logging.Any("route", ids),
		)
		return res, nil
	}
	return res, nil
}

// Complete finishes the in-flight transmission: the bundle leaves the buffer,
// the contact's ledger is charged and the controller returns to InContact.
func (c *Controller) Complete(ctx context.Context, now time.Time) (Result, error) {
	if c.state != Sending || c.inFlight == nil {
		return Result{}, fmt.Errorf("%w: complete in %s", ErrInvalidTransition, c.state)
	}
	tx := c.inFlight
	if now.Before(tx.Complete) {
		return Result{}, fmt.Errorf("%w: transmission of %s completes at %s",
			ErrInvalidTransition, tx.Bundle.ID, tx.Complete.Format(time.RFC3339Nano))
	}

	c.buf.Remove(tx.Bundle.ID)
	if c.ledger != nil {
		c.ledger.Consume(c.contact.ID, tx.Bundle.Size)
	}
	c.inFlight = nil
	c.state = InContact
	c.sent++

	c.log.Debug(ctx, "transmission complete", logging.String("bundle_id", tx.Bundle.ID))
	return Result{Sent: tx, Expired: c.buf.Expire(now)}, nil
}

// Close handles the end of the contact window. A transmission still in flight
// is abandoned and its bundle stays in the buffer.
func (c *Controller) Close(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	switch c.state {
	case Idle:
		return res, fmt.Errorf("%w: close while idle", ErrInvalidTransition)
	case Sending:
		tx := c.inFlight
		c.buf.Release(tx.Bundle.ID, c.owner)
		res.Aborted = tx
		c.inFlight = nil
		c.log.Debug(ctx, "transmission aborted at window close", logging.String("bundle_id", tx.Bundle.ID))
	}
	c.state = Idle
	res.Expired = c.buf.Expire(now)
	return res, nil
}
