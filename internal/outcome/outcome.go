// Package outcome records what happened to every request and bundle during a
// simulation run.
package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// Kind classifies an outcome event.
type Kind string

const (
	KindRequestAccepted Kind = "request.accepted"
	KindRequestRejected Kind = "request.rejected"
	KindBundleAcquired  Kind = "bundle.acquired"
	KindBundleForwarded Kind = "bundle.forwarded"
	KindBundleDelivered Kind = "bundle.delivered"
	KindBundleDropped   Kind = "bundle.dropped"
	KindBundleDeferred  Kind = "bundle.deferred"
	KindBundleRerouted  Kind = "bundle.rerouted"
	KindContactRefused  Kind = "contact.refused"
)

// Event is a single observable outcome. Fields that do not apply to a kind are
// left zero.
type Event struct {
	RunID     string       `json:"run_id,omitempty"`
	Kind      Kind         `json:"kind"`
	Time      time.Time    `json:"time"`
	RequestID string       `json:"request_id,omitempty"`
	TaskID    string       `json:"task_id,omitempty"`
	BundleID  string       `json:"bundle_id,omitempty"`
	Node      string       `json:"node,omitempty"`
	Peer      string       `json:"peer,omitempty"`
	ContactID string       `json:"contact_id,omitempty"`
	Reason    model.Reason `json:"reason,omitempty"`

	AcquireAt         time.Time     `json:"acquire_at,omitempty"`
	PredictedDelivery time.Time     `json:"predicted_delivery,omitempty"`
	Latency           time.Duration `json:"latency_ns,omitempty"`
	Size              int64         `json:"size,omitempty"`
	Priority          int           `json:"priority"`
}

// Recorder consumes outcome events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev Event) error

func (f RecorderFunc) Record(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi fans events out to several recorders. Every recorder sees every event;
// errors are joined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(context.Context, Event) error { return nil })
