package model

import (
	"fmt"
	"math"
	"time"
)

// Contact is a directed transmission opportunity from From to To during
// [Start, End) at a constant Rate in bytes per second.
type Contact struct {
	ID    string
	From  string
	To    string
	Start time.Time
	End   time.Time
	Rate  float64

	// OWLT is the one-way light time added to every transmission.
	OWLT time.Duration

	// Confidence is the probability that the contact actually occurs.
	Confidence float64
}

// Duration returns the window length.
func (c Contact) Duration() time.Duration { return c.End.Sub(c.Start) }

// Volume returns the number of bytes the contact can carry at its nominal rate.
func (c Contact) Volume() int64 {
	return int64(c.Rate * c.Duration().Seconds())
}

// Active reports whether t falls inside [Start, End).
func (c Contact) Active(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// Overlaps reports whether the windows of c and o intersect.
func (c Contact) Overlaps(o Contact) bool {
	return c.Start.Before(o.End) && o.Start.Before(c.End)
}

func (c Contact) String() string {
	return fmt.Sprintf("%s[%s->%s %s..%s @%.0fB/s]",
		c.ID, c.From, c.To,
		c.Start.UTC().Format(time.RFC3339), c.End.UTC().Format(time.RFC3339), c.Rate)
}

// Never is the transmission time of a bundle that cannot be sent at all.
const Never = time.Duration(math.MaxInt64)

// TransmissionTime is how long size bytes take at rate bytes per second,
// rounded up to the next nanosecond. It saturates at Never for a
// non-positive rate or a duration beyond the range of time.Duration.
func TransmissionTime(size int64, rate float64) time.Duration {
	if size <= 0 {
		return 0
	}
	if rate <= 0 || math.IsNaN(rate) {
		return Never
	}
	ns := math.Ceil(float64(size) * float64(time.Second) / rate)
	if ns >= math.MaxInt64 {
		return Never
	}
	return time.Duration(ns)
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Clip intersects i with [from, to]. The boolean is false when the ranges are
// disjoint. A degenerate range (from == to) keeps the interval containing from.
func (i Interval) Clip(from, to time.Time) (Interval, bool) {
	if !i.End.After(from) || i.Start.After(to) {
		return Interval{}, false
	}
	out := i
	if out.Start.Before(from) {
		out.Start = from
	}
	if out.End.After(to) && to.After(out.Start) {
		out.End = to
	}
	return out, true
}
