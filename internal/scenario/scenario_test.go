package scenario

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLoad_FormatsAgree(t *testing.T) {
	for _, path := range []string{"testdata/basic.json", "testdata/basic.yaml", "testdata/basic.hcl"} {
		t.Run(path, func(t *testing.T) {
			s, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if s.Name != "single-pass" || !s.Epoch.Equal(epoch) || s.Duration != 2*time.Hour {
				t.Fatalf("unexpected header %q %v %v", s.Name, s.Epoch, s.Duration)
			}
			if s.Params.CongestionFactor != 0.1 || s.Params.BundleSize != 500 || s.Params.MaxTimeToAcquire != time.Hour {
				t.Fatalf("unexpected params %+v", s.Params)
			}
			if len(s.Nodes) != 2 || s.Nodes[0].Role != model.RoleSpace || !s.Nodes[0].CanAcquire || s.Nodes[0].MaxContacts != 2 {
				t.Fatalf("unexpected nodes %+v", s.Nodes)
			}
			if len(s.Contacts) != 2 {
				t.Fatalf("expected inline and plan-file contacts, got %d", len(s.Contacts))
			}
			inline := s.Contacts[0]
			if inline.ID != "down-1" || !inline.Start.Equal(epoch.Add(10*time.Minute)) || inline.OWLT != 10*time.Millisecond {
				t.Fatalf("unexpected inline contact %+v", inline)
			}
			fromPlan := s.Contacts[1]
			if fromPlan.ID != "c2" || !fromPlan.Start.Equal(epoch.Add(30*time.Minute)) || fromPlan.Rate != 100 {
				t.Fatalf("unexpected plan-file contact %+v", fromPlan)
			}
			if len(s.Windows) != 1 || s.Windows[0].PeakElevation != 45 || !s.Windows[0].End.Equal(epoch.Add(200*time.Second)) {
				t.Fatalf("unexpected windows %+v", s.Windows)
			}

			if len(s.Requests) != 1 {
				t.Fatalf("expected 1 request, got %d", len(s.Requests))
			}
			r := s.Requests[0]
			if r.Target.Name != "Paris" || r.Priority != 1 || r.BundleSize != 500 || r.MaxTimeToDeliver != 2*time.Hour {
				t.Fatalf("expected defaults applied to request, got %+v", r)
			}
		})
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	if _, err := Load("testdata/plan.txt"); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	if _, err := Decode([]byte(`{"duration": 10, "bogus": 1}`), FormatJSON, "x.json"); err == nil {
		t.Fatalf("expected unknown json field to fail")
	}
	if _, err := Decode([]byte("duration: 10\nbogus: 1\n"), FormatYAML, "x.yaml"); err == nil {
		t.Fatalf("expected unknown yaml field to fail")
	}
	if _, err := Decode([]byte("duration = 10\nbogus = 1\n"), FormatHCL, "x.hcl"); err == nil {
		t.Fatalf("expected unknown hcl attribute to fail")
	}
}

func baseFile() *File {
	return &File{
		Epoch:    "2024-01-01T00:00:00Z",
		Duration: 3600,
		Nodes: []NodeSpec{
			{ID: "sat1", Role: "space", CanAcquire: true},
			{ID: "gs1", Role: "ground"},
			{ID: "tgt", Role: "target"},
		},
		Contacts: []ContactSpec{{ID: "c", From: "sat1", To: "gs1", Start: 0, End: 100, Rate: 1}},
	}
}

func TestBuild_Validation(t *testing.T) {
	cases := map[string]struct {
		mutate  func(f *File)
		dangles bool
	}{
		"zero duration":       {mutate: func(f *File) { f.Duration = 0 }},
		"bad epoch":           {mutate: func(f *File) { f.Epoch = "yesterday" }},
		"duplicate node":      {mutate: func(f *File) { f.Nodes = append(f.Nodes, NodeSpec{ID: "gs1", Role: "ground"}) }},
		"unknown role":        {mutate: func(f *File) { f.Nodes[0].Role = "balloon" }},
		"bad congestion":      {mutate: func(f *File) { f.Parameters = &ParametersSpec{CongestionFactor: 1} }},
		"bad eviction policy": {mutate: func(f *File) { f.Parameters = &ParametersSpec{EvictionPolicy: "random"} }},
		"contact to nowhere": {dangles: true, mutate: func(f *File) {
			f.Contacts = append(f.Contacts, ContactSpec{ID: "x", From: "sat1", To: "mars", End: 10, Rate: 1})
		}},
		"request target unknown": {dangles: true, mutate: func(f *File) {
			f.Requests = []RequestSpec{{ID: "r", Target: "atlantis", Destination: "gs1"}}
		}},
		"request destination unknown": {dangles: true, mutate: func(f *File) {
			f.Requests = []RequestSpec{{ID: "r", Target: "tgt", Destination: "gs9"}}
		}},
		"duplicate request": {mutate: func(f *File) {
			f.Requests = []RequestSpec{{ID: "r", Target: "tgt", Destination: "gs1"}, {ID: "r", Target: "tgt", Destination: "gs1"}}
		}},
		"window node unknown": {dangles: true, mutate: func(f *File) {
			f.Visibility = []WindowSpec{{Node: "sat9", Location: "tgt", Start: 0, End: 10}}
		}},
		"generator without rate": {mutate: func(f *File) {
			f.Generator = &GeneratorSpec{Targets: []string{"tgt"}, Destinations: []string{"gs1"}}
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := baseFile()
			tc.mutate(f)
			_, err := Build(f, nil)
			if !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("expected ErrInvalidScenario, got %v", err)
			}
			if tc.dangles && !errors.Is(err, ErrUnknownReference) {
				t.Fatalf("expected ErrUnknownReference, got %v", err)
			}
		})
	}
}

func TestBuild_TargetNodesAreObservable(t *testing.T) {
	f := baseFile()
	f.Requests = []RequestSpec{{ID: "r", Target: "tgt", Destination: "gs1", SubmittedAt: 5}}
	s, err := Build(f, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Requests[0].Target.ID != "tgt" || !s.Requests[0].SubmittedAt.Equal(epoch.Add(5*time.Second)) {
		t.Fatalf("unexpected request %+v", s.Requests[0])
	}
}

func TestScenario_Artifacts(t *testing.T) {
	s, err := Load("testdata/basic.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	plan, err := s.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Len() != 2 {
		t.Fatalf("expected 2 contacts in plan, got %d", plan.Len())
	}
	// Two 600s passes at 100 B/s.
	if got := s.DownloadCapacity(plan); got != 120000 {
		t.Fatalf("expected download capacity 120000, got %d", got)
	}

	reg, err := s.KnowledgeBase()
	if err != nil {
		t.Fatalf("KnowledgeBase: %v", err)
	}
	if len(reg.AcquisitionNodes()) != 1 {
		t.Fatalf("expected one acquisition node")
	}
	if _, ok := reg.GetLocation("paris"); !ok {
		t.Fatalf("expected paris registered")
	}

	src, err := s.Source(s.DownloadCapacity(plan))
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if r, ok := src.Next(); !ok || r.ID != "r1" {
		t.Fatalf("expected r1 from source, got %+v", r)
	}
	if _, ok := src.Next(); ok {
		t.Fatalf("expected source to be exhausted")
	}
}
