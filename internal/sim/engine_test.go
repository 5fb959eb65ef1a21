package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/cgs-simulator/core"
	"github.com/signalsfoundry/cgs-simulator/internal/cgs"
	"github.com/signalsfoundry/cgs-simulator/internal/observability"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/internal/scenario"
	"github.com/signalsfoundry/cgs-simulator/internal/visibility"
	"github.com/signalsfoundry/cgs-simulator/kb"
	"github.com/signalsfoundry/cgs-simulator/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sec(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

var (
	paris  = model.Location{ID: "paris"}
	london = model.Location{ID: "london"}
)

type fixture struct {
	nodes      []model.Node
	contacts   []model.Contact
	windows    []visibility.Window
	requests   []model.Request
	congestion float64
}

func contact(id, from, to string, start, end int, rate float64) model.Contact {
	return model.Contact{ID: id, From: from, To: to, Start: sec(start), End: sec(end), Rate: rate}
}

func window(node string, loc model.Location, start, end int) visibility.Window {
	return visibility.Window{Node: node, Location: loc.ID, Interval: model.Interval{Start: sec(start), End: sec(end)}}
}

func request(id string, loc model.Location, submitted int, size int64, priority int) model.Request {
	return model.Request{
		ID:               id,
		Target:           loc,
		SubmittedAt:      sec(submitted),
		MaxTimeToAcquire: time.Hour,
		MaxTimeToDeliver: 2 * time.Hour,
		Priority:         priority,
		Destination:      "gs1",
		BundleSize:       size,
	}
}

// basicFixture has one acquisition pass over paris at 100s and one downlink
// at 600s.
func basicFixture() fixture {
	return fixture{
		nodes: []model.Node{
			{ID: "sat1", Role: model.RoleSpace, StorageCapacity: 10000, CanAcquire: true},
			{ID: "gs1", Role: model.RoleGround},
		},
		contacts: []model.Contact{contact("down", "sat1", "gs1", 600, 1200, 100)},
		windows:  []visibility.Window{window("sat1", paris, 100, 200)},
		requests: []model.Request{request("r1", paris, 0, 500, 1)},
	}
}

type collector struct {
	events []outcome.Event
}

func (c *collector) Record(_ context.Context, ev outcome.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) kinds() []outcome.Kind {
	out := make([]outcome.Kind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func (c *collector) first(kind outcome.Kind) (outcome.Event, bool) {
	for _, ev := range c.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return outcome.Event{}, false
}

func newEngine(t *testing.T, f fixture, opts ...Option) (*Engine, *collector) {
	t.Helper()
	plan, err := core.NewContactPlan(f.contacts)
	if err != nil {
		t.Fatalf("NewContactPlan: %v", err)
	}
	nodes := kb.NewKnowledgeBase()
	for _, n := range f.nodes {
		if err := nodes.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	rec := &collector{}
	e, err := New(Config{
		Plan:             plan,
		Nodes:            nodes,
		Visibility:       visibility.NewStatic(f.windows),
		Requests:         scenario.NewSliceSource(f.requests),
		Start:            t0,
		Horizon:          sec(7200),
		CongestionFactor: f.congestion,
	}, append([]Option{WithRecorder(rec)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, rec
}

func run(t *testing.T, e *Engine) *Report {
	t.Helper()
	report, err := e.Run(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func TestRun_DeliversOverSinglePass(t *testing.T) {
	e, rec := newEngine(t, basicFixture())
	report := run(t, e)

	want := []outcome.Kind{
		outcome.KindRequestAccepted,
		outcome.KindBundleAcquired,
		outcome.KindBundleForwarded,
		outcome.KindBundleDelivered,
	}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	accepted, _ := rec.first(outcome.KindRequestAccepted)
	if accepted.Node != "sat1" || !accepted.AcquireAt.Equal(sec(100)) || !accepted.PredictedDelivery.Equal(sec(605)) {
		t.Fatalf("unexpected acceptance %+v", accepted)
	}
	delivered, _ := rec.first(outcome.KindBundleDelivered)
	if !delivered.Time.Equal(sec(605)) || delivered.Latency != 505*time.Second {
		t.Fatalf("expected delivery at 605s after 505s, got %v after %v", delivered.Time, delivered.Latency)
	}
	if delivered.RunID != e.RunID() {
		t.Fatalf("expected run id %s, got %s", e.RunID(), delivered.RunID)
	}

	if report.Stats.Delivered != 1 || report.Stats.DeliveryRatio != 1 {
		t.Fatalf("unexpected stats %+v", report.Stats)
	}
	if report.Tasks[model.TaskDelivered] != 1 {
		t.Fatalf("expected one delivered task, got %v", report.Tasks)
	}
	if len(report.Contacts) != 1 || report.Contacts[0].BytesTx != 500 || !report.Contacts[0].Opened {
		t.Fatalf("unexpected contact telemetry %+v", report.Contacts)
	}
	if report.Pending != 0 || report.End.Before(sec(1200)) {
		t.Fatalf("expected every event to run, got %d pending at %v", report.Pending, report.End)
	}
	if e.Buffer("sat1").Used() != 0 {
		t.Fatalf("expected sat1 buffer to be empty, got %d", e.Buffer("sat1").Used())
	}
}

func TestRun_RelaysOverMultipleHops(t *testing.T) {
	f := basicFixture()
	f.nodes = append(f.nodes, model.Node{ID: "sat2", Role: model.RoleSpace})
	f.contacts = []model.Contact{
		contact("isl", "sat1", "sat2", 300, 400, 100),
		contact("down", "sat2", "gs1", 500, 600, 100),
	}
	e, rec := newEngine(t, f)
	run(t, e)

	delivered, ok := rec.first(outcome.KindBundleDelivered)
	if !ok || !delivered.Time.Equal(sec(505)) {
		t.Fatalf("expected delivery at 505s, got %+v", delivered)
	}
	tasks := e.Tasks()
	if len(tasks) != 1 || tasks[0].Hops != 2 || tasks[0].Latency() != 405*time.Second {
		t.Fatalf("unexpected task record %+v", tasks)
	}
}

func TestRun_RejectionReasons(t *testing.T) {
	f := basicFixture()
	f.requests = []model.Request{
		request("nobody-sees-london", london, 0, 500, 1),
		request("too-big", paris, 0, 100000, 1),
	}
	e, rec := newEngine(t, f)
	report := run(t, e)

	if report.Stats.Rejected != 2 || report.Stats.Accepted != 0 {
		t.Fatalf("unexpected stats %+v", report.Stats)
	}
	reasons := map[string]model.Reason{}
	for _, ev := range rec.events {
		if ev.Kind == outcome.KindRequestRejected {
			reasons[ev.RequestID] = ev.Reason
		}
	}
	if reasons["nobody-sees-london"] != model.ReasonNoCapableNode {
		t.Fatalf("expected no_capable_node, got %q", reasons["nobody-sees-london"])
	}
	if reasons["too-big"] != model.ReasonInfeasibleRoute {
		t.Fatalf("expected infeasible_route, got %q", reasons["too-big"])
	}
}

func TestRun_CongestionMissesDeadline(t *testing.T) {
	f := basicFixture()
	// Nominal delivery at 605s fits the 609s deadline; at half rate the
	// transmission would finish at 610s.
	f.requests[0].MaxTimeToDeliver = 509 * time.Second
	f.congestion = 0.5

	e, rec := newEngine(t, f)
	report := run(t, e)

	if report.Stats.Accepted != 1 || report.Stats.Delivered != 0 {
		t.Fatalf("unexpected stats %+v", report.Stats)
	}
	if report.Stats.Deferred != 1 {
		t.Fatalf("expected the bundle to be deferred once, got %d", report.Stats.Deferred)
	}
	dropped, ok := rec.first(outcome.KindBundleDropped)
	if !ok || dropped.Reason != model.ReasonDeadlineExpired {
		t.Fatalf("expected deadline drop, got %+v", dropped)
	}
	if !dropped.Time.After(sec(609)) || dropped.Time.After(sec(610)) {
		t.Fatalf("expected drop right after the deadline, got %v", dropped.Time)
	}
	if report.Tasks[model.TaskFailed] != 1 {
		t.Fatalf("expected failed task, got %v", report.Tasks)
	}
}

func TestRun_BufferOverflow(t *testing.T) {
	cases := []struct {
		name          string
		secondPrio    int
		wantDropped   string
		wantDelivered string
	}{
		{name: "equal priority is not evicted", secondPrio: 1, wantDropped: "b-task-r2", wantDelivered: "b-task-r1"},
		{name: "higher priority evicts", secondPrio: 0, wantDropped: "b-task-r1", wantDelivered: "b-task-r2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := basicFixture()
			f.nodes[0].StorageCapacity = 600
			f.windows = append(f.windows, window("sat1", london, 300, 400))
			f.requests = []model.Request{
				request("r1", paris, 0, 500, 1),
				request("r2", london, 0, 500, tc.secondPrio),
			}
			e, rec := newEngine(t, f)
			report := run(t, e)

			dropped, ok := rec.first(outcome.KindBundleDropped)
			if !ok || dropped.BundleID != tc.wantDropped || dropped.Reason != model.ReasonBufferOverflow {
				t.Fatalf("expected %s dropped for overflow, got %+v", tc.wantDropped, dropped)
			}
			delivered, ok := rec.first(outcome.KindBundleDelivered)
			if !ok || delivered.BundleID != tc.wantDelivered {
				t.Fatalf("expected %s delivered, got %+v", tc.wantDelivered, delivered)
			}
			if report.Stats.Reasons[model.ReasonBufferOverflow] != 1 {
				t.Fatalf("unexpected reasons %v", report.Stats.Reasons)
			}
		})
	}
}

func TestRun_ContactLimitRefusesAndFreesAtEnd(t *testing.T) {
	f := basicFixture()
	f.nodes[0].MaxContacts = 1
	f.nodes = append(f.nodes, model.Node{ID: "gs2", Role: model.RoleGround})
	f.contacts = []model.Contact{
		contact("c-a", "sat1", "gs1", 600, 1200, 100),
		contact("c-b", "sat1", "gs2", 700, 900, 100),
		contact("c-c", "sat1", "gs2", 1200, 1300, 100),
	}
	e, rec := newEngine(t, f)
	report := run(t, e)

	refused, ok := rec.first(outcome.KindContactRefused)
	if !ok || refused.ContactID != "c-b" || refused.Reason != model.ReasonContactLimit {
		t.Fatalf("expected c-b refused, got %+v", refused)
	}
	if report.Stats.Refused != 1 {
		t.Fatalf("expected one refusal, got %d", report.Stats.Refused)
	}
	opened := map[string]bool{}
	for _, c := range report.Contacts {
		opened[c.ContactID] = c.Opened
	}
	if !opened["c-a"] || opened["c-b"] || !opened["c-c"] {
		t.Fatalf("unexpected contact telemetry %+v", report.Contacts)
	}
}

func TestRun_CongestionReroutesBundle(t *testing.T) {
	f := basicFixture()
	// The 500-byte bundle fits "early" at nominal rate but not at half rate.
	f.contacts = []model.Contact{
		contact("early", "sat1", "gs1", 600, 606, 100),
		contact("late", "sat1", "gs1", 800, 900, 100),
	}
	f.congestion = 0.5
	e, rec := newEngine(t, f)
	report := run(t, e)

	rerouted, ok := rec.first(outcome.KindBundleRerouted)
	if !ok || rerouted.ContactID != "late" || rerouted.BundleID != "b-task-r1" {
		t.Fatalf("expected b-task-r1 rerouted onto late, got %+v", rerouted)
	}
	if !rerouted.PredictedDelivery.Equal(sec(810)) {
		t.Fatalf("expected new route to arrive at 810s, got %v", rerouted.PredictedDelivery)
	}
	delivered, ok := rec.first(outcome.KindBundleDelivered)
	if !ok || !delivered.Time.Equal(sec(810)) {
		t.Fatalf("expected delivery at 810s, got %+v", delivered)
	}
	if report.Stats.Rerouted != 1 {
		t.Fatalf("expected one reroute, got %d", report.Stats.Rerouted)
	}
}

func TestRun_RelayDoesNotCountAsReroute(t *testing.T) {
	f := basicFixture()
	f.nodes = append(f.nodes, model.Node{ID: "sat2", Role: model.RoleSpace})
	f.contacts = []model.Contact{
		contact("isl", "sat1", "sat2", 300, 400, 100),
		contact("down", "sat2", "gs1", 500, 600, 100),
	}
	e, _ := newEngine(t, f)
	report := run(t, e)
	if report.Stats.Forwarded != 2 || report.Stats.Rerouted != 0 {
		t.Fatalf("expected two planned hops and no reroute, got %+v", report.Stats)
	}
}

func TestRun_RefusedContactIsRoutedAround(t *testing.T) {
	f := basicFixture()
	f.nodes[0].MaxContacts = 2
	f.nodes = append(f.nodes,
		model.Node{ID: "sat2", Role: model.RoleSpace},
		model.Node{ID: "gs2", Role: model.RoleGround},
	)
	f.contacts = []model.Contact{
		contact("relay", "sat1", "sat2", 500, 2000, 100),
		contact("busy", "sat1", "gs2", 500, 2000, 100),
		contact("down", "sat1", "gs1", 600, 700, 100),
		contact("relay-down", "sat2", "gs1", 1000, 1100, 100),
	}
	f.windows = []visibility.Window{window("sat1", paris, 650, 700)}
	e, rec := newEngine(t, f)
	report := run(t, e)

	accepted, _ := rec.first(outcome.KindRequestAccepted)
	if !accepted.PredictedDelivery.Equal(sec(655)) {
		t.Fatalf("expected the plan to use down, got predicted delivery %v", accepted.PredictedDelivery)
	}
	refused, ok := rec.first(outcome.KindContactRefused)
	if !ok || refused.ContactID != "down" {
		t.Fatalf("expected down refused, got %+v", refused)
	}
	rerouted, ok := rec.first(outcome.KindBundleRerouted)
	if !ok || rerouted.ContactID != "relay" {
		t.Fatalf("expected reroute onto relay, got %+v", rerouted)
	}
	delivered, ok := rec.first(outcome.KindBundleDelivered)
	if !ok || !delivered.Time.Equal(sec(1005)) {
		t.Fatalf("expected delivery over the relay at 1005s, got %+v", delivered)
	}
	if report.Stats.Delivered != 1 || report.Stats.Rerouted != 1 {
		t.Fatalf("unexpected stats %+v", report.Stats)
	}
}

func TestRun_StopsAtUntil(t *testing.T) {
	e, _ := newEngine(t, basicFixture())
	report, err := e.Run(context.Background(), sec(300))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.End.Equal(sec(300)) {
		t.Fatalf("expected run to stop at 300s, got %v", report.End)
	}
	if report.Tasks[model.TaskAcquired] != 1 || report.Stats.Delivered != 0 {
		t.Fatalf("expected acquired but undelivered task, got %v / %+v", report.Tasks, report.Stats)
	}
	if report.Pending == 0 {
		t.Fatalf("expected pending events after an early stop")
	}
	if _, err := e.Run(context.Background(), time.Time{}); !errors.Is(err, ErrAlreadyRan) {
		t.Fatalf("expected ErrAlreadyRan, got %v", err)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	e, _ := newEngine(t, basicFixture())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, time.Time{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidRequestIsFatal(t *testing.T) {
	f := basicFixture()
	f.requests[0].BundleSize = -1
	e, _ := newEngine(t, f)
	if _, err := e.Run(context.Background(), time.Time{}); !errors.Is(err, cgs.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	plan, err := core.NewContactPlan([]model.Contact{contact("c1", "sat1", "ghost", 0, 10, 1)})
	if err != nil {
		t.Fatalf("NewContactPlan: %v", err)
	}
	nodes := kb.NewKnowledgeBase()
	_ = nodes.AddNode(model.Node{ID: "sat1", Role: model.RoleSpace})

	if _, err := New(Config{Plan: plan, Nodes: nodes}); !errors.Is(err, kb.ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	_ = nodes.AddNode(model.Node{ID: "ghost", Role: model.RoleGround})
	if _, err := New(Config{Plan: plan, Nodes: nodes, CongestionFactor: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for empty config, got %v", err)
	}
}

func TestRun_Metrics(t *testing.T) {
	c, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	e, _ := newEngine(t, basicFixture(), WithMetrics(c))
	report := run(t, e)

	if got := testutil.ToFloat64(c.Requests.WithLabelValues("accepted", "none")); got != 1 {
		t.Fatalf("expected 1 accepted request, got %v", got)
	}
	if got := testutil.ToFloat64(c.Bundles.WithLabelValues("delivered", "none")); got != 1 {
		t.Fatalf("expected 1 delivered bundle, got %v", got)
	}
	if got := testutil.ToFloat64(c.ActiveContacts); got != 0 {
		t.Fatalf("expected no active contacts after the run, got %v", got)
	}
	if got := testutil.ToFloat64(c.BufferOccupancy.WithLabelValues("sat1")); got != 0 {
		t.Fatalf("expected empty sat1 buffer, got %v", got)
	}
	if got, want := testutil.ToFloat64(c.SimTime), float64(report.End.UnixNano())/1e9; got != want {
		t.Fatalf("expected sim time gauge %v, got %v", want, got)
	}
}

func generatedScenario(t *testing.T) *scenario.Scenario {
	t.Helper()
	s, err := scenario.Build(&scenario.File{
		Name:       "generated",
		Epoch:      "2024-01-01T00:00:00Z",
		Duration:   7200,
		Parameters: &scenario.ParametersSpec{Seed: 7, BundleSize: 100, MaxTimeToDeliver: 600},
		Nodes: []scenario.NodeSpec{
			{ID: "sat1", Role: "space", StorageCapacity: 1500, CanAcquire: true},
			{ID: "gs1", Role: "ground"},
			{ID: "tgt1", Role: "target"},
		},
		Contacts: []scenario.ContactSpec{
			{ID: "down", From: "sat1", To: "gs1", Start: 0, End: 1000, Rate: 10},
			{ID: "down-2", From: "sat1", To: "gs1", Start: 3000, End: 3600, Rate: 5},
			{ID: "look", From: "sat1", To: "tgt1", Start: 0, End: 7200, Rate: 1},
		},
		Generator: &scenario.GeneratorSpec{
			Congestion:   0.5,
			Targets:      []string{"tgt1"},
			Destinations: []string{"gs1"},
			MaxPriority:  2,
		},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return s
}

func TestRun_GeneratedScenarioIsDeterministic(t *testing.T) {
	journal := func() ([]byte, *Engine, *Report) {
		var buf bytes.Buffer
		jw := outcome.NewJournalWriter(&buf, false)
		e, err := NewFromScenario(generatedScenario(t), WithRunID("fixed"), WithRecorder(jw))
		if err != nil {
			t.Fatalf("NewFromScenario: %v", err)
		}
		report := run(t, e)
		if err := jw.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		return buf.Bytes(), e, report
	}

	first, e, report := journal()
	second, _, _ := journal()
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical journals for the same seed")
	}
	if report.Stats.Requests == 0 || report.Stats.Accepted == 0 {
		t.Fatalf("expected generated requests to be scheduled, got %+v", report.Stats)
	}

	for _, rec := range e.Tasks() {
		if rec.Status == model.TaskDelivered && rec.DeliveredAt.After(rec.Task.DeliveryDeadline) {
			t.Fatalf("task %s delivered at %v after deadline %v", rec.Task.ID, rec.DeliveredAt, rec.Task.DeliveryDeadline)
		}
	}
	if used := e.Buffer("sat1").Used(); used > 1500 {
		t.Fatalf("buffer occupancy %d exceeds capacity", used)
	}
}
