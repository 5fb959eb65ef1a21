package model

import "time"

// Bundle is a unit of acquired data travelling toward Destination.
type Bundle struct {
	ID          string
	TaskID      string
	Size        int64
	CreatedAt   time.Time
	Deadline    time.Time
	Destination string
	Priority    int
	Custodian   string
	Hops        int

	// Route is the contact path the bundle is following from its custodian.
	// Nil means no route has been assigned yet.
	Route []string
}

// Expired reports whether now is past the bundle deadline.
func (b Bundle) Expired(now time.Time) bool {
	return now.After(b.Deadline)
}
