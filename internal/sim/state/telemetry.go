package state

import (
	"errors"
	"sort"
	"sync"
)

// ContactTelemetry captures what happened on one contact during a run.
type ContactTelemetry struct {
	ContactID string
	From      string
	To        string

	// Opened is false if the contact never started, for example because
	// the sender was at its contact limit.
	Opened  bool
	Refused bool

	BytesTx uint64
	Bundles int
	Aborted int
}

// TelemetryState is a concurrency-safe store of contact telemetry.
type TelemetryState struct {
	mu        sync.RWMutex
	byContact map[string]*ContactTelemetry
}

// NewTelemetryState creates a new TelemetryState instance.
func NewTelemetryState() *TelemetryState {
	return &TelemetryState{byContact: make(map[string]*ContactTelemetry)}
}

// Update applies fn to the telemetry of contactID, creating it if needed.
func (t *TelemetryState) Update(contactID, from, to string, fn func(*ContactTelemetry)) error {
	if contactID == "" {
		return errors.New("contact ID is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byContact[contactID]
	if !ok {
		m = &ContactTelemetry{ContactID: contactID, From: from, To: to}
		t.byContact[contactID] = m
	}
	fn(m)
	return nil
}

// RecordTransfer adds one completed transmission of size bytes.
func (t *TelemetryState) RecordTransfer(contactID, from, to string, size int64) {
	_ = t.Update(contactID, from, to, func(m *ContactTelemetry) {
		m.BytesTx += uint64(size)
		m.Bundles++
	})
}

// Get returns a copy of the telemetry for contactID, or nil.
func (t *TelemetryState) Get(contactID string) *ContactTelemetry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byContact[contactID]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// ListAll returns copies of all telemetry sorted by contact id.
func (t *TelemetryState) ListAll() []ContactTelemetry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ContactTelemetry, 0, len(t.byContact))
	for _, m := range t.byContact {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out
}
