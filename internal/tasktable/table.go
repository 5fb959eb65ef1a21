// Package tasktable holds the append-only record of committed tasks.
package tasktable

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrInvalidTask is returned for tasks that violate model invariants,
	// such as a negative bundle size. It indicates corrupted input.
	ErrInvalidTask = errors.New("invalid task")

	// ErrDuplicateTask is returned when a task id is committed twice.
	ErrDuplicateTask = errors.New("task already committed")

	// ErrAcquisitionConflict is returned when the assignee already has a
	// task at the same acquisition instant.
	ErrAcquisitionConflict = errors.New("acquisition slot already taken")

	// ErrTaskNotFound is returned by Get for unknown ids.
	ErrTaskNotFound = errors.New("task not found")
)

type slotKey struct {
	node string
	at   int64
}

// Table is an append-only arena of tasks indexed by id. Insertion order is
// commit order. Committed tasks are never modified or removed.
type Table struct {
	mu     sync.RWMutex
	tasks  []model.Task
	byID   map[string]int
	byNode map[string][]int
	slots  map[slotKey]string

	nextSub int
	subs    map[int]func(model.Task)
}

// New returns an empty table.
func New() *Table {
	return &Table{
		byID:   make(map[string]int),
		byNode: make(map[string][]int),
		slots:  make(map[slotKey]string),
		subs:   make(map[int]func(model.Task)),
	}
}

// Commit appends task and notifies subscribers in subscription order. It
// fails without side effects if the task is invalid, duplicated or collides
// with an existing task on the same node and acquisition instant.
func (t *Table) Commit(task model.Task) error {
	if err := validate(task); err != nil {
		return err
	}

	t.mu.Lock()
	if _, dup := t.byID[task.ID]; dup {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	key := slotKey{node: task.Assignee, at: task.AcquireAt.UnixNano()}
	if other, taken := t.slots[key]; taken {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s at %s held by %s",
			ErrAcquisitionConflict, task.Assignee, task.AcquireAt.Format(time.RFC3339Nano), other)
	}

	idx := len(t.tasks)
	t.tasks = append(t.tasks, task)
	t.byID[task.ID] = idx
	t.byNode[task.Assignee] = append(t.byNode[task.Assignee], idx)
	t.slots[key] = task.ID

	subs := t.subscribersLocked()
	t.mu.Unlock()

	// Notify outside the lock so subscribers may read the table.
	for _, fn := range subs {
		fn(task)
	}
	return nil
}

func validate(task model.Task) error {
	switch {
	case task.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidTask)
	case task.Assignee == "":
		return fmt.Errorf("%w: %s has no assignee", ErrInvalidTask, task.ID)
	case task.BundleSize < 0:
		return fmt.Errorf("%w: %s has negative bundle size %d", ErrInvalidTask, task.ID, task.BundleSize)
	case task.DeliveryDeadline.Before(task.AcquireAt):
		return fmt.Errorf("%w: %s delivery deadline precedes acquisition", ErrInvalidTask, task.ID)
	}
	return nil
}

// Available reports whether node has no task at the acquisition instant at.
func (t *Table) Available(node string, at time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, taken := t.slots[slotKey{node: node, at: at.UnixNano()}]
	return !taken
}

// Get returns the task with the given id.
func (t *Table) Get(id string) (model.Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.tasks[i], nil
}

// Len returns the number of committed tasks.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// List returns every task in commit order.
func (t *Table) List() []model.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Task, len(t.tasks))
	copy(out, t.tasks)
	return out
}

// ForNode returns node's tasks ordered by acquisition time.
func (t *Table) ForNode(node string) []model.Task {
	t.mu.RLock()
	idx := t.byNode[node]
	out := make([]model.Task, len(idx))
	for i, ti := range idx {
		out[i] = t.tasks[ti]
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AcquireAt.Before(out[j].AcquireAt)
	})
	return out
}

// Subscribe registers fn to receive every task committed from now on. It
// returns an unsubscribe function.
func (t *Table) Subscribe(fn func(model.Task)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Table) subscribersLocked() []func(model.Task) {
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(model.Task), len(ids))
	for i, id := range ids {
		out[i] = t.subs[id]
	}
	return out
}
