package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// ErrUnknownNode is returned when a node id is not registered.
var ErrUnknownNode = errors.New("unknown node")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventLocationAdded
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type     EventType
	Node     model.Node
	Location model.Location
}

// KnowledgeBase is an in-memory, thread-safe store for the nodes and target
// locations of a run.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes     map[string]model.Node
	locations map[string]model.Location

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:     make(map[string]model.Node),
		locations: make(map[string]model.Location),
		subs:      make(map[int]func(Event)),
	}
}

// AddNode registers n. It returns an error if the ID already exists or the
// node is malformed.
func (kb *KnowledgeBase) AddNode(n model.Node) error {
	if n.ID == "" {
		return errors.New("node id is empty")
	}
	if !n.Role.Valid() {
		return fmt.Errorf("node %q has unknown role %q", n.ID, n.Role)
	}
	if n.StorageCapacity < 0 || n.MaxContacts < 0 {
		return fmt.Errorf("node %q has negative capacity or contact limit", n.ID)
	}

	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q already exists", n.ID)
	}
	kb.nodes[n.ID] = n
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(Event{Type: EventNodeAdded, Node: n})
	}
	return nil
}

// AddLocation registers a target location.
func (kb *KnowledgeBase) AddLocation(l model.Location) error {
	if l.ID == "" {
		return errors.New("location id is empty")
	}

	kb.mu.Lock()
	if _, exists := kb.locations[l.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("location with ID %q already exists", l.ID)
	}
	kb.locations[l.ID] = l
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(Event{Type: EventLocationAdded, Location: l})
	}
	return nil
}

// GetNode returns the node with the given ID.
func (kb *KnowledgeBase) GetNode(id string) (model.Node, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return model.Node{}, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return n, nil
}

// HasNode reports whether id is registered.
func (kb *KnowledgeBase) HasNode(id string) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	_, ok := kb.nodes[id]
	return ok
}

// GetLocation returns the location with the given ID.
func (kb *KnowledgeBase) GetLocation(id string) (model.Location, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	l, ok := kb.locations[id]
	return l, ok
}

// ListNodes returns a snapshot of all nodes sorted by ID.
func (kb *KnowledgeBase) ListNodes() []model.Node {
	kb.mu.RLock()
	res := make([]model.Node, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AcquisitionNodes returns the nodes able to acquire imagery, sorted by ID.
func (kb *KnowledgeBase) AcquisitionNodes() []model.Node {
	var res []model.Node
	for _, n := range kb.ListNodes() {
		if n.CanAcquire {
			res = append(res, n)
		}
	}
	return res
}

// ListLocations returns a snapshot of all locations sorted by ID.
func (kb *KnowledgeBase) ListLocations() []model.Location {
	kb.mu.RLock()
	res := make([]model.Location, 0, len(kb.locations))
	for _, l := range kb.locations {
		res = append(res, l)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = kb.subs[id]
	}
	return out
}
