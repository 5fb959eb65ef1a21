// Package state tracks the mutable bookkeeping of a simulation run: the
// lifecycle of every committed task and per-contact transfer telemetry.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

var (
	// ErrTaskNotTracked indicates a status update for an unknown task.
	ErrTaskNotTracked = errors.New("task not tracked")
	// ErrTaskTracked indicates a task was registered twice.
	ErrTaskTracked = errors.New("task already tracked")
	// ErrInvalidStatusTransition indicates a status change the lifecycle
	// does not allow, for example leaving a terminal status.
	ErrInvalidStatusTransition = errors.New("invalid task status transition")
)

// TaskRecord is the run-time view of a committed task. Tasks themselves are
// immutable; their status lives here.
type TaskRecord struct {
	Task        model.Task
	Status      model.TaskStatus
	BundleID    string
	AcquiredAt  time.Time
	DeliveredAt time.Time
	FailedAt    time.Time
	FailReason  model.Reason
	Hops        int
}

// Latency is the time from acquisition to delivery, or zero if undelivered.
func (r TaskRecord) Latency() time.Duration {
	if r.Status != model.TaskDelivered {
		return 0
	}
	return r.DeliveredAt.Sub(r.AcquiredAt)
}

// RunState is a concurrency-safe task status index.
type RunState struct {
	mu    sync.RWMutex
	tasks map[string]*TaskRecord
	order []string
}

// NewRunState creates an empty index.
func NewRunState() *RunState {
	return &RunState{tasks: make(map[string]*TaskRecord)}
}

// Track registers task as pending.
func (s *RunState) Track(task model.Task) error {
	if task.ID == "" {
		return errors.New("task ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskTracked, task.ID)
	}
	s.tasks[task.ID] = &TaskRecord{Task: task, Status: model.TaskPending}
	s.order = append(s.order, task.ID)
	return nil
}

// MarkAcquired moves a pending task to acquired.
func (s *RunState) MarkAcquired(taskID, bundleID string, at time.Time) error {
	return s.transition(taskID, func(r *TaskRecord) error {
		if r.Status != model.TaskPending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatusTransition, taskID, r.Status)
		}
		r.Status = model.TaskAcquired
		r.BundleID = bundleID
		r.AcquiredAt = at
		return nil
	})
}

// MarkDelivered moves an acquired task to delivered.
func (s *RunState) MarkDelivered(taskID string, at time.Time, hops int) error {
	return s.transition(taskID, func(r *TaskRecord) error {
		if r.Status != model.TaskAcquired {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatusTransition, taskID, r.Status)
		}
		r.Status = model.TaskDelivered
		r.DeliveredAt = at
		r.Hops = hops
		return nil
	})
}

// MarkFailed moves a pending or acquired task to failed.
func (s *RunState) MarkFailed(taskID string, reason model.Reason, at time.Time) error {
	return s.transition(taskID, func(r *TaskRecord) error {
		if r.Status == model.TaskDelivered || r.Status == model.TaskFailed {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatusTransition, taskID, r.Status)
		}
		r.Status = model.TaskFailed
		r.FailReason = reason
		r.FailedAt = at
		return nil
	})
}

func (s *RunState) transition(taskID string, fn func(*TaskRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotTracked, taskID)
	}
	return fn(r)
}

// Get returns a copy of the record for taskID.
func (s *RunState) Get(taskID string) (TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tasks[taskID]
	if !ok {
		return TaskRecord{}, false
	}
	return *r, true
}

// List returns copies of all records in tracking order.
func (s *RunState) List() []TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// CountByStatus returns the number of tasks in each status.
func (s *RunState) CountByStatus() map[model.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.TaskStatus]int, 4)
	for _, r := range s.tasks {
		out[r.Status]++
	}
	return out
}

// Unfinished returns pending and acquired tasks sorted by id.
func (s *RunState) Unfinished() []TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TaskRecord
	for _, r := range s.tasks {
		if r.Status == model.TaskPending || r.Status == model.TaskAcquired {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task.ID < out[j].Task.ID })
	return out
}
