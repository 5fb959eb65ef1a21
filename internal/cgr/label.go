package cgr

import (
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// label is a partial route ending at node.
type label struct {
	node    string
	arrival time.Time
	hops    int

	rateSum   float64
	rateSqSum float64
	path      []string

	parent *label
	hop    model.Hop
}

func (l *label) extend(c model.Contact, departure, arrival time.Time) *label {
	path := make([]string, len(l.path)+1)
	copy(path, l.path)
	path[len(l.path)] = c.ID

	return &label{
		node:      c.To,
		arrival:   arrival,
		hops:      l.hops + 1,
		rateSum:   l.rateSum + c.Rate,
		rateSqSum: l.rateSqSum + c.Rate*c.Rate,
		path:      path,
		parent:    l,
		hop:       model.Hop{Contact: c, Departure: departure, Arrival: arrival},
	}
}

// rateVariance is the population variance of contact rates along the label.
func (l *label) rateVariance() float64 {
	if l.hops == 0 {
		return 0
	}
	n := float64(l.hops)
	mean := l.rateSum / n
	v := l.rateSqSum/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

func (l *label) route(source, destination string) *model.Route {
	hops := make([]model.Hop, l.hops)
	for cur, i := l, l.hops-1; cur.parent != nil; cur, i = cur.parent, i-1 {
		hops[i] = cur.hop
	}
	return &model.Route{
		Source:      source,
		Destination: destination,
		Hops:        hops,
		Arrival:     l.arrival,
	}
}

func labelLess(a, b *label) bool {
	if !a.arrival.Equal(b.arrival) {
		return a.arrival.Before(b.arrival)
	}
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	if va, vb := a.rateVariance(), b.rateVariance(); va != vb {
		return va < vb
	}
	for i := 0; i < len(a.path) && i < len(b.path); i++ {
		if a.path[i] != b.path[i] {
			return a.path[i] < b.path[i]
		}
	}
	if len(a.path) != len(b.path) {
		return len(a.path) < len(b.path)
	}
	return a.node < b.node
}

// labelQueue is a min-heap of labels.
type labelQueue []*label

func (q labelQueue) Len() int           { return len(q) }
func (q labelQueue) Less(i, j int) bool { return labelLess(q[i], q[j]) }
func (q labelQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *labelQueue) Push(x any) { *q = append(*q, x.(*label)) }

func (q *labelQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
