package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Components depend on
// it rather than on a concrete clock so tests can drive time explicitly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how simulation time relates to wall-clock time.
type Mode int

const (
	// RealTime paces event processing against the wall clock, scaled by Speed.
	RealTime Mode = iota
	// Accelerated jumps from event to event without waiting.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// Clock is a manually advanced, monotonic simulation clock. The engine moves
// it to the time of the next event before dispatching that event.
type Clock struct {
	mu      sync.RWMutex
	start   time.Time
	current time.Time

	listeners []func(time.Time)
}

// NewClock returns a clock positioned at start.
func NewClock(start time.Time) *Clock {
	return &Clock{start: start, current: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Start returns the time the clock was created at.
func (c *Clock) Start() time.Time { return c.start }

// Elapsed returns the simulated time since start.
func (c *Clock) Elapsed() time.Duration {
	return c.Now().Sub(c.start)
}

// AddListener registers a callback invoked after every advance.
func (c *Clock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// AdvanceTo moves the clock forward to t. Time never goes backwards; the
// return value reports whether the clock moved.
func (c *Clock) AdvanceTo(t time.Time) bool {
	c.mu.Lock()
	if !t.After(c.current) {
		c.mu.Unlock()
		return false
	}
	c.current = t
	listeners := append([]func(time.Time){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return true
}

// Pacer throttles event processing to wall time in RealTime mode. Speed is the
// number of simulated seconds per wall second.
type Pacer struct {
	Mode  Mode
	Speed float64

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer constructs a pacer. A non-positive speed is treated as 1.
func NewPacer(mode Mode, speed float64) *Pacer {
	if speed <= 0 {
		speed = 1
	}
	return &Pacer{Mode: mode, Speed: speed, sleep: sleepContext}
}

// Wait blocks for the wall-clock equivalent of the simulated step from -> to.
// In Accelerated mode it returns immediately unless ctx is done.
func (p *Pacer) Wait(ctx context.Context, from, to time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.Mode == Accelerated || !to.After(from) {
		return nil
	}
	wall := time.Duration(float64(to.Sub(from)) / p.Speed)
	return p.sleep(ctx, wall)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
