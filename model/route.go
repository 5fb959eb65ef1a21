package model

import (
	"strings"
	"time"
)

// Hop is one contact traversal on a route.
type Hop struct {
	Contact   Contact
	Departure time.Time
	Arrival   time.Time
}

// Route is an ordered list of hops ending at Arrival. Routes are computed on
// demand and never cached.
type Route struct {
	Source      string
	Destination string
	Hops        []Hop
	Arrival     time.Time
}

// FirstHop returns the first hop of the route, if any.
func (r *Route) FirstHop() (Hop, bool) {
	if r == nil || len(r.Hops) == 0 {
		return Hop{}, false
	}
	return r.Hops[0], true
}

// ContactIDs lists the contact ids along the route.
func (r *Route) ContactIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		ids[i] = h.Contact.ID
	}
	return ids
}

func (r *Route) String() string {
	if r == nil {
		return "<nil>"
	}
	if len(r.Hops) == 0 {
		return r.Source
	}
	nodes := []string{r.Source}
	for _, h := range r.Hops {
		nodes = append(nodes, h.Contact.To)
	}
	return strings.Join(nodes, " -> ")
}
