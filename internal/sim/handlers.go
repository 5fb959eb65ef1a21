package sim

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/cgs-simulator/internal/buffer"
	"github.com/signalsfoundry/cgs-simulator/internal/controller"
	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/internal/sim/events"
	"github.com/signalsfoundry/cgs-simulator/internal/sim/state"
	"github.com/signalsfoundry/cgs-simulator/model"
)

// ---- Requests ----

func (e *Engine) peek() (model.Request, bool) {
	if e.peeked == nil {
		req, ok := e.source.Next()
		if !ok {
			return model.Request{}, false
		}
		e.peeked = &req
	}
	return *e.peeked, true
}

func (e *Engine) scheduleNextArrival() {
	req, ok := e.peek()
	if !ok {
		return
	}
	at := req.SubmittedAt
	if at.Before(e.clock.Now()) {
		at = e.clock.Now()
	}
	e.events.Schedule(at, events.KindRequestArrival, e.onRequestArrival)
}

// onRequestArrival submits every request due at the current instant, then
// schedules one drain so priority orders requests arriving together.
func (e *Engine) onRequestArrival() {
	if e.err != nil {
		return
	}
	now := e.clock.Now()
	for {
		req, ok := e.peek()
		if !ok || req.SubmittedAt.After(now) {
			break
		}
		e.peeked = nil
		if req.SubmittedAt.Before(now) {
			req.SubmittedAt = now
		}
		e.sched.Submit(req)
	}
	e.metrics.SetQueuedRequests(e.sched.Pending())
	e.events.Schedule(now, events.KindSchedule, e.drainRequests)
	e.scheduleNextArrival()
}

func (e *Engine) drainRequests() {
	if e.err != nil {
		return
	}
	decisions, err := e.sched.Drain(e.ctx)
	for _, dec := range decisions {
		req := dec.Request
		if !dec.Accepted {
			e.record(outcome.Event{
				Kind:      outcome.KindRequestRejected,
				RequestID: req.ID,
				Reason:    dec.Reason,
				Size:      req.BundleSize,
				Priority:  req.Priority,
			})
			continue
		}
		task := dec.Task
		if err := e.tasks.Track(task); err != nil {
			e.fail(err)
			return
		}
		e.record(outcome.Event{
			Kind:              outcome.KindRequestAccepted,
			RequestID:         req.ID,
			TaskID:            task.ID,
			Node:              task.Assignee,
			AcquireAt:         task.AcquireAt,
			PredictedDelivery: task.PredictedDelivery,
			Size:              task.BundleSize,
			Priority:          task.Priority,
		})
	}
	e.metrics.SetQueuedRequests(e.sched.Pending())
	e.metrics.SetVisibilityHitRatio(e.vis.HitRatio())
	if err != nil {
		e.fail(fmt.Errorf("schedule requests: %w", err))
	}
}

// ---- Acquisition ----

// onLocalTask is called by a node's task table replica for each task it is
// assigned.
func (e *Engine) onLocalTask(task model.Task) {
	e.events.Schedule(task.AcquireAt, events.KindAcquisition, func() { e.acquire(task) })
}

func (e *Engine) acquire(task model.Task) {
	if e.err != nil {
		return
	}
	now := e.clock.Now()
	b := model.Bundle{
		ID:          "b-" + task.ID,
		TaskID:      task.ID,
		Size:        task.BundleSize,
		CreatedAt:   now,
		Deadline:    task.DeliveryDeadline,
		Destination: task.Destination,
		Priority:    task.Priority,
		Custodian:   task.Assignee,
		Route:       task.Route,
	}
	if task.Assignee == task.Destination {
		e.markAcquired(b, task.Assignee)
		e.deliver(b, task.Assignee)
		return
	}
	if !e.admit(task.Assignee, b, func() { e.markAcquired(b, task.Assignee) }) {
		return
	}
	e.pump(task.Assignee)
}

func (e *Engine) markAcquired(b model.Bundle, node string) {
	if err := e.tasks.MarkAcquired(b.TaskID, b.ID, e.clock.Now()); err != nil {
		e.log.Warn(e.ctx, "task status not updated", logging.String("task_id", b.TaskID), logging.Err(err))
	}
	e.record(outcome.Event{
		Kind:     outcome.KindBundleAcquired,
		TaskID:   b.TaskID,
		BundleID: b.ID,
		Node:     node,
		Size:     b.Size,
		Priority: b.Priority,
	})
}

// ---- Buffers ----

// admit stores b at node and reports whether it was accepted. onAdmitted runs
// after a successful admission and before any drop of an evicted resident is
// reported.
func (e *Engine) admit(node string, b model.Bundle, onAdmitted func()) bool {
	buf := e.buffers[node]
	if buf == nil {
		e.fail(fmt.Errorf("bundle %s reached %s which has no buffer", b.ID, node))
		return false
	}
	now := e.clock.Now()
	res, err := buf.Admit(b, now)
	for _, x := range res.Expired {
		e.drop(x, node, model.ReasonDeadlineExpired)
	}
	switch {
	case errors.Is(err, buffer.ErrBufferOverflow):
		e.drop(b, node, model.ReasonBufferOverflow)
		e.observeBuffer(node)
		return false
	case errors.Is(err, buffer.ErrDeadlineExpired):
		e.drop(b, node, model.ReasonDeadlineExpired)
		e.observeBuffer(node)
		return false
	case err != nil:
		e.fail(fmt.Errorf("admit %s at %s: %w", b.ID, node, err))
		return false
	}
	if onAdmitted != nil {
		onAdmitted()
	}
	for _, x := range res.Evicted {
		e.drop(x, node, model.ReasonBufferOverflow)
	}
	e.scheduleSweep(node, b.Deadline)
	e.observeBuffer(node)
	return true
}

// scheduleSweep expires bundles at node just after deadline. Sweeps are
// deduplicated per node and instant.
func (e *Engine) scheduleSweep(node string, deadline time.Time) {
	at := deadline.Add(time.Nanosecond)
	key := sweepKey{node: node, at: at.UnixNano()}
	if e.sweeps[key] {
		return
	}
	e.sweeps[key] = true
	e.events.Schedule(at, events.KindBundleExpiry, func() {
		delete(e.sweeps, key)
		if e.err != nil {
			return
		}
		for _, x := range e.buffers[node].Expire(e.clock.Now()) {
			e.drop(x, node, model.ReasonDeadlineExpired)
		}
		e.observeBuffer(node)
	})
}

func (e *Engine) drop(b model.Bundle, node string, reason model.Reason) {
	if err := e.tasks.MarkFailed(b.TaskID, reason, e.clock.Now()); err != nil {
		e.log.Warn(e.ctx, "task status not updated", logging.String("task_id", b.TaskID), logging.Err(err))
	}
	e.log.Debug(e.ctx, "bundle dropped",
		logging.String("bundle_id", b.ID),
		logging.String("node", node),
		logging.String("reason", string(reason)),
	)
	e.record(outcome.Event{
		Kind:     outcome.KindBundleDropped,
		TaskID:   b.TaskID,
		BundleID: b.ID,
		Node:     node,
		Reason:   reason,
		Size:     b.Size,
		Priority: b.Priority,
	})
}

func (e *Engine) observeBuffer(node string) {
	if buf := e.buffers[node]; buf != nil {
		e.metrics.SetBufferOccupancy(node, buf.Used())
	}
}

// ---- Contacts ----

func (e *Engine) openContact(c model.Contact) {
	if e.err != nil {
		return
	}
	node, err := e.cfg.Nodes.GetNode(c.From)
	if err != nil {
		e.fail(err)
		return
	}
	if node.MaxContacts > 0 && e.active[c.From] >= node.MaxContacts {
		e.refused[c.ID] = true
		_ = e.telemetry.Update(c.ID, c.From, c.To, func(m *state.ContactTelemetry) { m.Refused = true })
		e.record(outcome.Event{
			Kind:      outcome.KindContactRefused,
			Node:      c.From,
			Peer:      c.To,
			ContactID: c.ID,
			Reason:    model.ReasonContactLimit,
		})
		return
	}

	ctrl, err := controller.New(controller.Config{
		Node:             c.From,
		Contact:          c,
		Buffer:           e.buffers[c.From],
		Router:           e.router,
		Ledger:           e.ledger,
		CongestionFactor: e.cfg.CongestionFactor,
		Logger:           e.log,
		Exclude:          e.refused,
	})
	if err != nil {
		e.fail(err)
		return
	}
	res, err := ctrl.Open(e.ctx, e.clock.Now())
	if err != nil {
		e.fail(err)
		return
	}
	e.controllers[c.ID] = ctrl
	e.active[c.From]++
	e.metrics.SetActiveContacts(len(e.controllers))
	_ = e.telemetry.Update(c.ID, c.From, c.To, func(m *state.ContactTelemetry) { m.Opened = true })

	e.apply(c.From, res)
	e.pump(c.From)
}

func (e *Engine) closeContact(c model.Contact) {
	if e.err != nil {
		return
	}
	ctrl, ok := e.controllers[c.ID]
	if !ok {
		return
	}
	now := e.clock.Now()
	// A transmission finishing exactly at window close still counts.
	if tx, sending := ctrl.InFlight(); sending && !tx.Complete.After(now) {
		if id, ok := e.completions[c.ID]; ok {
			e.events.Cancel(id)
		}
		e.completeTransmission(c.ID)
		if e.err != nil {
			return
		}
	}

	res, err := ctrl.Close(e.ctx, now)
	if err != nil {
		e.fail(err)
		return
	}
	delete(e.controllers, c.ID)
	delete(e.completions, c.ID)
	e.active[c.From]--
	e.metrics.SetActiveContacts(len(e.controllers))

	if res.Aborted != nil {
		_ = e.telemetry.Update(c.ID, c.From, c.To, func(m *state.ContactTelemetry) { m.Aborted++ })
		e.log.Debug(e.ctx, "transmission abandoned at window close",
			logging.String("bundle_id", res.Aborted.Bundle.ID),
			logging.String("contact_id", c.ID),
		)
	}
	e.apply(c.From, res)
	e.pump(c.From)
}

// pump offers the node's buffer to each of its open contacts in contact id
// order.
func (e *Engine) pump(node string) {
	if e.err != nil {
		return
	}
	var ids []string
	for id, ctrl := range e.controllers {
		if ctrl.Contact().From == node {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	now := e.clock.Now()
	for _, id := range ids {
		ctrl := e.controllers[id]
		if ctrl.State() != controller.InContact {
			continue
		}
		res, err := ctrl.Pump(e.ctx, now)
		if err != nil {
			e.fail(err)
			return
		}
		e.apply(node, res)
		if tx := res.Started; tx != nil {
			contactID := id
			e.completions[contactID] = e.events.Schedule(tx.Complete, events.KindTxComplete, func() {
				if e.err != nil {
					return
				}
				e.completeTransmission(contactID)
			})
		}
	}
}

func (e *Engine) completeTransmission(contactID string) {
	delete(e.completions, contactID)
	ctrl, ok := e.controllers[contactID]
	if !ok {
		return
	}
	res, err := ctrl.Complete(e.ctx, e.clock.Now())
	if err != nil {
		e.fail(err)
		return
	}
	tx := res.Sent
	c := tx.Contact
	e.telemetry.RecordTransfer(c.ID, c.From, c.To, tx.Bundle.Size)
	if tx.Rerouted {
		e.record(outcome.Event{
			Kind:              outcome.KindBundleRerouted,
			TaskID:            tx.Bundle.TaskID,
			BundleID:          tx.Bundle.ID,
			Node:              c.From,
			Peer:              c.To,
			ContactID:         c.ID,
			PredictedDelivery: tx.Route.Arrival,
			Size:              tx.Bundle.Size,
			Priority:          tx.Bundle.Priority,
		})
	}
	e.record(outcome.Event{
		Kind:      outcome.KindBundleForwarded,
		TaskID:    tx.Bundle.TaskID,
		BundleID:  tx.Bundle.ID,
		Node:      c.From,
		Peer:      c.To,
		ContactID: c.ID,
		Size:      tx.Bundle.Size,
		Priority:  tx.Bundle.Priority,
	})

	b := tx.Bundle
	b.Hops++
	b.Custodian = c.To
	b.Route = tx.Route.ContactIDs()[1:]
	e.events.Schedule(tx.Arrival, events.KindBundleArrival, func() { e.arrive(b, c.To) })

	e.apply(c.From, res)
	e.pump(c.From)
}

func (e *Engine) arrive(b model.Bundle, node string) {
	if e.err != nil {
		return
	}
	if node == b.Destination {
		e.deliver(b, node)
		return
	}
	if e.admit(node, b, nil) {
		e.pump(node)
	}
}

func (e *Engine) deliver(b model.Bundle, node string) {
	now := e.clock.Now()
	if b.Expired(now) {
		e.drop(b, node, model.ReasonDeadlineExpired)
		return
	}
	if err := e.tasks.MarkDelivered(b.TaskID, now, b.Hops); err != nil {
		e.log.Warn(e.ctx, "task status not updated", logging.String("task_id", b.TaskID), logging.Err(err))
	}
	e.record(outcome.Event{
		Kind:     outcome.KindBundleDelivered,
		TaskID:   b.TaskID,
		BundleID: b.ID,
		Node:     node,
		Latency:  now.Sub(b.CreatedAt),
		Size:     b.Size,
		Priority: b.Priority,
	})
}

// apply reports the side effects of a controller transition at node.
func (e *Engine) apply(node string, res controller.Result) {
	for _, b := range res.Expired {
		e.drop(b, node, model.ReasonDeadlineExpired)
	}
	for _, b := range res.Deferred {
		e.record(outcome.Event{
			Kind:     outcome.KindBundleDeferred,
			TaskID:   b.TaskID,
			BundleID: b.ID,
			Node:     node,
			Reason:   model.ReasonCongestionUnavailable,
			Size:     b.Size,
			Priority: b.Priority,
		})
	}
	e.observeBuffer(node)
}
