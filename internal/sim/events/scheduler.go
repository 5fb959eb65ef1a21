// Package events provides the discrete-event queue the simulation runs on.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/timectrl"
)

// Kind labels an event for logging and metrics.
type Kind string

const (
	KindRequestArrival Kind = "request.arrival"
	KindSchedule       Kind = "request.schedule"
	KindAcquisition    Kind = "task.acquisition"
	KindContactStart   Kind = "contact.start"
	KindContactEnd     Kind = "contact.end"
	KindTxComplete     Kind = "tx.complete"
	KindBundleArrival  Kind = "bundle.arrival"
	KindBundleExpiry   Kind = "bundle.expiry"
)

// Scheduler schedules callbacks to run at specific simulation times based on a
// SimClock. The engine pulls the next event time with NextAt, advances the
// clock to it and calls RunDue.
type Scheduler interface {
	// Schedule registers f to run at simulation time at. Events at the same
	// instant run in the order they were scheduled.
	Schedule(at time.Time, kind Kind, f func()) (id string)

	// Cancel is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes all events whose time is <= Now(), including events
	// scheduled for the current instant by callbacks. It returns the number
	// of callbacks run.
	RunDue() int

	// NextAt returns the time of the earliest pending event.
	NextAt() (time.Time, bool)

	// Len returns the number of pending events.
	Len() int
}

type scheduledEvent struct {
	id        string
	kind      Kind
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by 'when', then insertion
	index   map[string]*scheduledEvent
	ran     map[Kind]uint64
}

// NewScheduler creates an event scheduler backed by clock.
func NewScheduler(clock timectrl.SimClock) Scheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
		ran:   make(map[Kind]uint64),
	}
}

func (s *eventScheduler) Schedule(at time.Time, kind Kind, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{id: id, kind: kind, when: at, f: f}

	// Insert after any event with the same time to keep FIFO order.
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy.
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// dropCancelledLocked discards cancelled events at the head of the queue.
// Caller must hold s.mu.
func (s *eventScheduler) dropCancelledLocked() {
	for len(s.events) > 0 && s.events[0].cancelled {
		s.events = s.events[1:]
	}
}

func (s *eventScheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropCancelledLocked()
	if len(s.events) == 0 {
		return time.Time{}, false
	}
	return s.events[0].when, true
}

func (s *eventScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *eventScheduler) RunDue() int {
	ran := 0
	for {
		now := s.clock.Now()

		s.mu.Lock()
		s.dropCancelledLocked()
		if len(s.events) == 0 || s.events[0].when.After(now) {
			s.mu.Unlock()
			return ran
		}
		ev := s.events[0]
		s.events = s.events[1:]
		delete(s.index, ev.id)
		s.ran[ev.kind]++
		s.mu.Unlock()

		// Callbacks run outside the lock so they can schedule further events.
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}

// Counts returns how many events of each kind have run so far.
func Counts(s Scheduler) map[Kind]uint64 {
	if f, ok := s.(interface{ counts() map[Kind]uint64 }); ok {
		return f.counts()
	}
	es, ok := s.(*eventScheduler)
	if !ok {
		return nil
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make(map[Kind]uint64, len(es.ran))
	for k, v := range es.ran {
		out[k] = v
	}
	return out
}
