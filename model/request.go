package model

import "time"

// Location is an observable point on the ground.
type Location struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
}

// Request asks for imagery of Target to be delivered to Destination.
// Priority 0 is the highest.
type Request struct {
	ID               string
	Target           Location
	SubmittedAt      time.Time
	MaxTimeToAcquire time.Duration
	MaxTimeToDeliver time.Duration
	Priority         int
	Destination      string
	BundleSize       int64
}

// AcquireDeadline is the latest instant at which acquisition may happen.
func (r Request) AcquireDeadline() time.Time {
	return r.SubmittedAt.Add(r.MaxTimeToAcquire)
}
