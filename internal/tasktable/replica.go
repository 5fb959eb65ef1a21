package tasktable

import (
	"sync"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// Replica is one node's view of the table. It receives every committed task
// and keeps the ones assigned to its node, handing each to onLocal.
type Replica struct {
	node string

	mu    sync.RWMutex
	seen  int
	local []model.Task

	onLocal     func(model.Task)
	unsubscribe func()
}

// NewReplica subscribes a replica for node to table. Tasks committed before
// the call are replayed first.
func NewReplica(table *Table, node string, onLocal func(model.Task)) *Replica {
	r := &Replica{node: node, onLocal: onLocal}
	r.unsubscribe = table.Subscribe(r.receive)
	for _, task := range table.ForNode(node) {
		r.receive(task)
	}
	return r
}

func (r *Replica) receive(task model.Task) {
	r.mu.Lock()
	r.seen++
	if task.Assignee != r.node {
		r.mu.Unlock()
		return
	}
	for _, existing := range r.local {
		if existing.ID == task.ID {
			r.mu.Unlock()
			return
		}
	}
	r.local = append(r.local, task)
	r.mu.Unlock()

	if r.onLocal != nil {
		r.onLocal(task)
	}
}

// Node returns the replica's node id.
func (r *Replica) Node() string { return r.node }

// Tasks returns the locally assigned tasks in the order received.
func (r *Replica) Tasks() []model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Task, len(r.local))
	copy(out, r.local)
	return out
}

// Seen returns how many task notifications the replica has received.
func (r *Replica) Seen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen
}

// Close stops replication.
func (r *Replica) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
