package events

import (
	"time"

	"github.com/signalsfoundry/cgs-simulator/timectrl"
)

// Fake is a Scheduler backed by its own manual clock. Tests move time forward
// with AdvanceTo, which runs every event that became due.
type Fake struct {
	Scheduler
	clock *timectrl.Clock
}

// NewFake creates a fake scheduler starting at start.
func NewFake(start time.Time) *Fake {
	clock := timectrl.NewClock(start)
	return &Fake{Scheduler: NewScheduler(clock), clock: clock}
}

// AdvanceTo sets the fake time to t and runs due events. Time never moves
// backwards; an earlier t only runs events already due.
func (f *Fake) AdvanceTo(t time.Time) int {
	f.clock.AdvanceTo(t)
	return f.RunDue()
}

// Drain advances through every pending event up to and including until.
func (f *Fake) Drain(until time.Time) int {
	ran := 0
	for {
		next, ok := f.NextAt()
		if !ok || next.After(until) {
			return ran
		}
		ran += f.AdvanceTo(next)
	}
}

func (f *Fake) counts() map[Kind]uint64 { return Counts(f.Scheduler) }
