// Package sqlitestore persists outcome events in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	ts INTEGER NOT NULL,
	request_id TEXT,
	task_id TEXT,
	bundle_id TEXT,
	node TEXT,
	peer TEXT,
	contact_id TEXT,
	reason TEXT,
	acquire_at INTEGER,
	predicted_delivery INTEGER,
	latency_ns INTEGER,
	size INTEGER,
	priority INTEGER
);
CREATE INDEX IF NOT EXISTS idx_events_run_kind ON events(run_id, kind);
CREATE INDEX IF NOT EXISTS idx_events_bundle ON events(bundle_id);`

// Store is an outcome.Recorder backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema. The
// path ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New applies the schema to an open database and takes ownership of it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts ev. An event without a run id takes the one carried by ctx.
func (s *Store) Record(ctx context.Context, ev outcome.Event) error {
	if ev.RunID == "" {
		ev.RunID = logging.RunIDFromContext(ctx)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO events(
		run_id, kind, ts, request_id, task_id, bundle_id, node, peer, contact_id, reason,
		acquire_at, predicted_delivery, latency_ns, size, priority
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.RunID, string(ev.Kind), ev.Time.UnixNano(), ev.RequestID, ev.TaskID, ev.BundleID,
		ev.Node, ev.Peer, ev.ContactID, string(ev.Reason),
		nanos(ev.AcquireAt), nanos(ev.PredictedDelivery), int64(ev.Latency), ev.Size, ev.Priority,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// Events returns the events of runID in insertion order. An empty kind
// matches every kind.
func (s *Store) Events(ctx context.Context, runID string, kind outcome.Kind) ([]outcome.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		run_id, kind, ts, request_id, task_id, bundle_id, node, peer, contact_id, reason,
		acquire_at, predicted_delivery, latency_ns, size, priority
	FROM events WHERE run_id = ? AND (? = '' OR kind = ?) ORDER BY id`, runID, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []outcome.Event
	for rows.Next() {
		var (
			ev                 outcome.Event
			k, reason          string
			ts, acq, pred, lat int64
		)
		if err := rows.Scan(&ev.RunID, &k, &ts, &ev.RequestID, &ev.TaskID, &ev.BundleID,
			&ev.Node, &ev.Peer, &ev.ContactID, &reason, &acq, &pred, &lat, &ev.Size, &ev.Priority); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = outcome.Kind(k)
		ev.Reason = model.Reason(reason)
		ev.Time = time.Unix(0, ts).UTC()
		ev.AcquireAt = fromNanos(acq)
		ev.PredictedDelivery = fromNanos(pred)
		ev.Latency = time.Duration(lat)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByKind returns the number of events per kind for runID.
func (s *Store) CountByKind(ctx context.Context, runID string) (map[outcome.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	counts := make(map[outcome.Kind]int)
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[outcome.Kind(k)] = n
	}
	return counts, rows.Err()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
