package scenario

import (
	"testing"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

func TestInterArrivalFromCongestion(t *testing.T) {
	got, err := InterArrivalFromCongestion(24*time.Hour, 10000, 100, 0.5)
	if err != nil {
		t.Fatalf("InterArrivalFromCongestion: %v", err)
	}
	if got != 1728*time.Second {
		t.Fatalf("expected 1728s, got %v", got)
	}
	if _, err := InterArrivalFromCongestion(time.Hour, 0, 1, 0.5); err == nil {
		t.Fatalf("expected zero capacity to fail")
	}
	if _, err := InterArrivalFromCongestion(time.Hour, 10, 1, 0); err == nil {
		t.Fatalf("expected zero congestion to fail")
	}
}

func drain(src RequestSource) []model.Request {
	var out []model.Request
	for {
		r, ok := src.Next()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestGenerator_DeterministicAndOrdered(t *testing.T) {
	s, err := Load("testdata/generated.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	plan, err := s.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	capacity := s.DownloadCapacity(plan)
	if capacity != 10000 {
		t.Fatalf("expected capacity 10000, got %d", capacity)
	}

	first, _ := s.Source(capacity)
	second, _ := s.Source(capacity)
	a, b := drain(first), drain(second)
	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("expected equal non-empty streams, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("request %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
		if i > 0 && a[i].SubmittedAt.Before(a[i-1].SubmittedAt) {
			t.Fatalf("requests out of order at %d", i)
		}
		if !a[i].SubmittedAt.Before(s.End()) {
			t.Fatalf("request %s after scenario end", a[i].ID)
		}
		if a[i].Priority < 0 || a[i].Priority > 2 || a[i].Target.ID != "tgt1" || a[i].BundleSize != 100 {
			t.Fatalf("unexpected request %+v", a[i])
		}
	}
	// Mean spacing of 1728s over a day gives about 50 arrivals.
	if len(a) < 20 || len(a) > 100 {
		t.Fatalf("implausible number of arrivals %d", len(a))
	}
}

func TestGenerator_Count(t *testing.T) {
	gen, err := NewGenerator(GeneratorConfig{
		Count:            3,
		MeanInterArrival: time.Second,
		Targets:          []model.Location{{ID: "t"}},
		Destinations:     []string{"gs"},
	}, GeneratorDefaults{Start: epoch, End: epoch.Add(time.Hour), BundleSize: 1})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if got := len(drain(gen)); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

func TestMerge_InterleavesByTime(t *testing.T) {
	at := func(s int) time.Time { return epoch.Add(time.Duration(s) * time.Second) }
	a := NewSliceSource([]model.Request{{ID: "a2", SubmittedAt: at(20)}, {ID: "a1", SubmittedAt: at(10)}})
	b := NewSliceSource([]model.Request{{ID: "b1", SubmittedAt: at(10)}, {ID: "b2", SubmittedAt: at(15)}})

	var ids []string
	for _, r := range drain(Merge(a, b)) {
		ids = append(ids, r.ID)
	}
	want := []string{"a1", "b1", "b2", "a2"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
