package core

import "sync"

// CapacityLedger tracks bytes already transmitted over each contact. It is the
// residual-capacity view consulted by execution-time routing.
type CapacityLedger struct {
	mu       sync.RWMutex
	consumed map[string]int64
}

// NewCapacityLedger returns an empty ledger.
func NewCapacityLedger() *CapacityLedger {
	return &CapacityLedger{consumed: make(map[string]int64)}
}

// Consume records bytes sent over contactID.
func (l *CapacityLedger) Consume(contactID string, bytes int64) {
	if bytes <= 0 {
		return
	}
	l.mu.Lock()
	l.consumed[contactID] += bytes
	l.mu.Unlock()
}

// Consumed returns the bytes recorded against contactID.
func (l *CapacityLedger) Consumed(contactID string) int64 {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.consumed[contactID]
}

// Snapshot returns a copy of the per-contact consumption.
func (l *CapacityLedger) Snapshot() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int64, len(l.consumed))
	for k, v := range l.consumed {
		out[k] = v
	}
	return out
}
