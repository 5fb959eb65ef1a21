package commands

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/signalsfoundry/cgs-simulator/internal/cgr"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome/sqlitestore"
	"github.com/signalsfoundry/cgs-simulator/internal/sim"
)

const passScenario = "testdata/pass.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CGS_TRACING_ENABLED", "false")

	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", passScenario)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{`"single-pass" is valid`, "contacts:   2", "downlink:   120000 bytes", "mean inter-arrival 5m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestValidate_MissingFile(t *testing.T) {
	if _, err := execute(t, "validate", "testdata/nope.yaml"); err == nil {
		t.Fatalf("expected error for missing scenario")
	}
}

func TestRoute(t *testing.T) {
	out, err := execute(t, "route", passScenario, "--from", "sat1", "--to", "gs1", "--at", "100", "--alternatives", "2")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(out, "Route 1: sat1 -> gs1  arrival +10m5s") {
		t.Fatalf("expected first route over down-1, got:\n%s", out)
	}
	if !strings.Contains(out, "Route 2:") || !strings.Contains(out, "down-2") {
		t.Fatalf("expected an alternative over down-2, got:\n%s", out)
	}
}

func TestRoute_Infeasible(t *testing.T) {
	_, err := execute(t, "route", passScenario, "--from", "sat1", "--to", "gs1", "--size", "100000000")
	if !errors.Is(err, cgr.ErrInfeasibleRoute) {
		t.Fatalf("expected ErrInfeasibleRoute, got %v", err)
	}
}

func TestRun_WritesSinks(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "events.jsonl.zst")
	db := filepath.Join(dir, "events.db")

	out, err := execute(t, "run", passScenario, "--journal", journal, "--sqlite", db, "--json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var report sim.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Stats.Delivered == 0 {
		t.Fatalf("expected at least one delivery, got %+v", report.Stats)
	}

	events, err := outcome.OpenJournal(journal)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if len(events) == 0 || events[0].RunID != report.RunID {
		t.Fatalf("expected journal events for run %s, got %d events", report.RunID, len(events))
	}

	store, err := sqlitestore.Open(context.Background(), db)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	defer store.Close()
	counts, err := store.CountByKind(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("CountByKind: %v", err)
	}
	if counts[outcome.KindBundleDelivered] != report.Stats.Delivered {
		t.Fatalf("expected %d deliveries in sqlite, got %v", report.Stats.Delivered, counts)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total != len(events) {
		t.Fatalf("expected sqlite and journal to agree, got %d vs %d", total, len(events))
	}
}

func TestRun_TextReportAndUntil(t *testing.T) {
	out, err := execute(t, "run", passScenario, "--until", "300")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "+5m0s") || !strings.Contains(out, "delivered:  0") {
		t.Fatalf("expected a run stopped at 300s with no deliveries, got:\n%s", out)
	}
	if !strings.Contains(out, "rerouted:   0") {
		t.Fatalf("expected a rerouted line in the report, got:\n%s", out)
	}
}

func TestSweep(t *testing.T) {
	out, err := execute(t, "sweep", passScenario, "--seeds", "3", "--first-seed", "5", "--parallel", "2", "--json")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var results []sweepResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results: %v\n%s", err, out)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Seed != uint64(5+i) {
			t.Fatalf("result %d: expected seed %d, got %d", i, 5+i, r.Seed)
		}
		if r.Requests < 1 || r.Requests > 5 {
			t.Fatalf("seed %d: expected between 1 and 5 requests, got %d", r.Seed, r.Requests)
		}
	}
}
