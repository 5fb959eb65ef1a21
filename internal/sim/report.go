package sim

import (
	"time"

	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/internal/sim/events"
	"github.com/signalsfoundry/cgs-simulator/internal/sim/state"
	"github.com/signalsfoundry/cgs-simulator/model"
)

// Report summarizes a run.
type Report struct {
	RunID string    `json:"run_id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Stats  outcome.Stats            `json:"stats"`
	Events map[events.Kind]uint64   `json:"events"`
	Tasks  map[model.TaskStatus]int `json:"tasks"`

	// Contacts holds telemetry for every contact that opened or was refused.
	Contacts []state.ContactTelemetry `json:"contacts,omitempty"`

	// Pending counts events still queued when the run stopped.
	Pending int `json:"pending_events"`
}

func (e *Engine) report() *Report {
	return &Report{
		RunID:    e.runID,
		Start:    e.cfg.Start,
		End:      e.clock.Now(),
		Stats:    e.summary.Stats(),
		Events:   events.Counts(e.events),
		Tasks:    e.tasks.CountByStatus(),
		Contacts: e.telemetry.ListAll(),
		Pending:  e.events.Len(),
	}
}
