package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrOverlappingContacts is returned when two contacts of the same directed
	// pair overlap in time.
	ErrOverlappingContacts = errors.New("overlapping contacts for directed pair")

	// ErrInvalidContact is returned for contacts with an empty or inverted
	// window, a non-positive rate, missing endpoints or a duplicate id.
	ErrInvalidContact = errors.New("invalid contact")

	// ErrContactNotFound is returned when a contact id is unknown to the plan.
	ErrContactNotFound = errors.New("contact not found")
)

// ContactPlan is an immutable, time-ordered set of contacts with a per-sender
// index supporting range queries by time.
type ContactPlan struct {
	contacts []model.Contact
	byID     map[string]int

	// bySender holds, per sender, indices into contacts sorted by Start.
	bySender map[string][]int
	// endsBySender holds the running maximum of End over bySender, used to
	// binary-search the first contact whose window has not closed.
	endsBySender map[string][]time.Time

	nodes []string
}

// NewContactPlan validates and indexes contacts. The input slice is copied.
// Contacts are ordered by (Start, From, To, ID).
func NewContactPlan(contacts []model.Contact) (*ContactPlan, error) {
	cs := make([]model.Contact, len(contacts))
	copy(cs, contacts)

	for i := range cs {
		if cs[i].Confidence == 0 {
			cs[i].Confidence = 1
		}
		if err := validateContact(cs[i]); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(cs, func(i, j int) bool {
		return contactLess(cs[i], cs[j])
	})

	p := &ContactPlan{
		contacts:     cs,
		byID:         make(map[string]int, len(cs)),
		bySender:     make(map[string][]int),
		endsBySender: make(map[string][]time.Time),
	}

	nodeSet := make(map[string]struct{})
	for i, c := range cs {
		if _, dup := p.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidContact, c.ID)
		}
		p.byID[c.ID] = i
		p.bySender[c.From] = append(p.bySender[c.From], i)
		nodeSet[c.From] = struct{}{}
		nodeSet[c.To] = struct{}{}
	}

	if err := p.checkOverlaps(); err != nil {
		return nil, err
	}

	for sender, idx := range p.bySender {
		ends := make([]time.Time, len(idx))
		var maxEnd time.Time
		for i, ci := range idx {
			if cs[ci].End.After(maxEnd) {
				maxEnd = cs[ci].End
			}
			ends[i] = maxEnd
		}
		p.endsBySender[sender] = ends
	}

	p.nodes = make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		p.nodes = append(p.nodes, n)
	}
	sort.Strings(p.nodes)

	return p, nil
}

func validateContact(c model.Contact) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidContact)
	case c.From == "" || c.To == "":
		return fmt.Errorf("%w: %s has an empty endpoint", ErrInvalidContact, c.ID)
	case c.From == c.To:
		return fmt.Errorf("%w: %s is a self-loop on %q", ErrInvalidContact, c.ID, c.From)
	case !c.End.After(c.Start):
		return fmt.Errorf("%w: %s ends at or before its start", ErrInvalidContact, c.ID)
	case c.Rate <= 0:
		return fmt.Errorf("%w: %s has non-positive rate %v", ErrInvalidContact, c.ID, c.Rate)
	case c.OWLT < 0:
		return fmt.Errorf("%w: %s has negative owlt", ErrInvalidContact, c.ID)
	case c.Confidence < 0 || c.Confidence > 1:
		return fmt.Errorf("%w: %s confidence %v outside [0,1]", ErrInvalidContact, c.ID, c.Confidence)
	}
	return nil
}

func contactLess(a, b model.Contact) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.From != b.From {
		return a.From < b.From
	}
	if a.To != b.To {
		return a.To < b.To
	}
	return a.ID < b.ID
}

// checkOverlaps walks each sender's contacts in start order and reports the
// first pair of overlapping windows toward the same receiver.
func (p *ContactPlan) checkOverlaps() error {
	for _, idx := range p.bySender {
		last := make(map[string]model.Contact)
		for _, ci := range idx {
			c := p.contacts[ci]
			if prev, ok := last[c.To]; ok && prev.Overlaps(c) {
				return fmt.Errorf("%w: %s and %s (%s->%s)",
					ErrOverlappingContacts, prev.ID, c.ID, c.From, c.To)
			}
			if prev, ok := last[c.To]; !ok || c.End.After(prev.End) {
				last[c.To] = c
			}
		}
	}
	return nil
}

// ContactsFrom returns, in time order, the contacts sent by node whose window
// has not closed by at (End > at). Contacts already open at at are included
// since they can still be boarded.
func (p *ContactPlan) ContactsFrom(node string, at time.Time) []model.Contact {
	idx := p.bySender[node]
	if len(idx) == 0 {
		return nil
	}
	ends := p.endsBySender[node]
	first := sort.Search(len(ends), func(i int) bool {
		return ends[i].After(at)
	})

	out := make([]model.Contact, 0, len(idx)-first)
	for _, ci := range idx[first:] {
		c := p.contacts[ci]
		if c.End.After(at) {
			out = append(out, c)
		}
	}
	return out
}

// ContactsBetween returns the contacts from -> to in time order.
func (p *ContactPlan) ContactsBetween(from, to string) []model.Contact {
	var out []model.Contact
	for _, ci := range p.bySender[from] {
		if p.contacts[ci].To == to {
			out = append(out, p.contacts[ci])
		}
	}
	return out
}

// Contacts returns a copy of every contact in plan order.
func (p *ContactPlan) Contacts() []model.Contact {
	out := make([]model.Contact, len(p.contacts))
	copy(out, p.contacts)
	return out
}

// Get returns the contact with the given id.
func (p *ContactPlan) Get(id string) (model.Contact, error) {
	i, ok := p.byID[id]
	if !ok {
		return model.Contact{}, fmt.Errorf("%w: %q", ErrContactNotFound, id)
	}
	return p.contacts[i], nil
}

// Nodes returns every node id referenced by the plan, sorted.
func (p *ContactPlan) Nodes() []string {
	out := make([]string, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Len returns the number of contacts.
func (p *ContactPlan) Len() int { return len(p.contacts) }

// Horizon returns the earliest start and latest end over all contacts.
func (p *ContactPlan) Horizon() (start, end time.Time) {
	if len(p.contacts) == 0 {
		return time.Time{}, time.Time{}
	}
	start = p.contacts[0].Start
	for _, c := range p.contacts {
		if c.End.After(end) {
			end = c.End
		}
	}
	return start, end
}

// VolumeBetween sums the nominal volume of contacts matching keep.
func (p *ContactPlan) VolumeBetween(keep func(model.Contact) bool) int64 {
	var total int64
	for _, c := range p.contacts {
		if keep(c) {
			total += c.Volume()
		}
	}
	return total
}
