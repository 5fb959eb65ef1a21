package model

import "time"

// Task is a committed acquisition assignment. Tasks are immutable once they
// enter the task table.
type Task struct {
	ID                string
	RequestID         string
	Assignee          string
	Target            Location
	AcquireAt         time.Time
	BundleSize        int64
	Destination       string
	Priority          int
	DeliveryDeadline  time.Time
	PredictedDelivery time.Time
	CommittedAt       time.Time

	// Route is the planned contact path from Assignee to Destination.
	Route []string
}

// MaxTimeToDeliver is the delivery budget measured from acquisition.
func (t Task) MaxTimeToDeliver() time.Duration {
	return t.DeliveryDeadline.Sub(t.AcquireAt)
}

// TaskStatus tracks the lifecycle of a task as seen by the engine.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAcquired  TaskStatus = "acquired"
	TaskDelivered TaskStatus = "delivered"
	TaskFailed    TaskStatus = "failed"
)
