package state

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRunState_Lifecycle(t *testing.T) {
	s := NewRunState()
	if err := s.Track(model.Task{ID: "task-r1"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := s.Track(model.Task{ID: "task-r1"}); !errors.Is(err, ErrTaskTracked) {
		t.Fatalf("expected ErrTaskTracked, got %v", err)
	}

	if err := s.MarkAcquired("task-r1", "b-task-r1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("MarkAcquired: %v", err)
	}
	if err := s.MarkDelivered("task-r1", t0.Add(11*time.Minute), 2); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	r, ok := s.Get("task-r1")
	if !ok {
		t.Fatalf("expected record")
	}
	if r.Status != model.TaskDelivered || r.BundleID != "b-task-r1" || r.Hops != 2 {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Latency() != 10*time.Minute {
		t.Fatalf("expected 10m latency, got %v", r.Latency())
	}
}

func TestRunState_InvalidTransitions(t *testing.T) {
	s := NewRunState()
	_ = s.Track(model.Task{ID: "a"})
	_ = s.Track(model.Task{ID: "b"})

	if err := s.MarkDelivered("a", t0, 1); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected pending -> delivered to fail, got %v", err)
	}
	if err := s.MarkFailed("a", model.ReasonBufferOverflow, t0); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := s.MarkAcquired("a", "b-a", t0); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected failed task to stay failed, got %v", err)
	}
	if err := s.MarkFailed("a", model.ReasonDeadlineExpired, t0); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected double failure to be rejected, got %v", err)
	}
	if err := s.MarkAcquired("zzz", "b", t0); !errors.Is(err, ErrTaskNotTracked) {
		t.Fatalf("expected ErrTaskNotTracked, got %v", err)
	}

	counts := s.CountByStatus()
	if counts[model.TaskFailed] != 1 || counts[model.TaskPending] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if un := s.Unfinished(); len(un) != 1 || un[0].Task.ID != "b" {
		t.Fatalf("unexpected unfinished %+v", un)
	}
	if r, _ := s.Get("a"); r.FailReason != model.ReasonBufferOverflow || r.Latency() != 0 {
		t.Fatalf("unexpected failed record %+v", r)
	}
}

func TestRunState_ListKeepsTrackingOrder(t *testing.T) {
	s := NewRunState()
	for _, id := range []string{"z", "a", "m"} {
		_ = s.Track(model.Task{ID: id})
	}
	list := s.List()
	if len(list) != 3 || list[0].Task.ID != "z" || list[2].Task.ID != "m" {
		t.Fatalf("unexpected order %+v", list)
	}
}
