package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/model"
)

func newCollector(t *testing.T) (*SimCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	return collector, reg
}

func TestRecordCountsOutcomes(t *testing.T) {
	collector, reg := newCollector(t)
	ctx := context.Background()

	for _, ev := range []outcome.Event{
		{Kind: outcome.KindRequestAccepted},
		{Kind: outcome.KindRequestAccepted},
		{Kind: outcome.KindRequestRejected, Reason: model.ReasonInfeasibleRoute},
		{Kind: outcome.KindBundleDelivered, Latency: 90 * time.Second},
		{Kind: outcome.KindBundleDropped, Reason: model.ReasonBufferOverflow},
		{Kind: outcome.KindBundleRerouted},
		{Kind: outcome.KindContactRefused, Reason: model.ReasonContactLimit},
	} {
		if err := collector.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("accepted", "none")); got != 2 {
		t.Fatalf("cgs_requests_total accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("rejected", "infeasible_route")); got != 1 {
		t.Fatalf("cgs_requests_total rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Bundles.WithLabelValues("dropped", "buffer_overflow")); got != 1 {
		t.Fatalf("cgs_bundles_total dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Bundles.WithLabelValues("rerouted", "none")); got != 1 {
		t.Fatalf("cgs_bundles_total rerouted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ContactsRefused); got != 1 {
		t.Fatalf("cgs_contacts_refused_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "cgs_bundle_delivery_latency_seconds", nil); count != 1 {
		t.Fatalf("cgs_bundle_delivery_latency_seconds sample_count = %d, want 1", count)
	}
}

func TestObserveRouteLabelsResult(t *testing.T) {
	collector, reg := newCollector(t)
	collector.ObserveRoute(2*time.Millisecond, true)
	collector.ObserveRoute(time.Millisecond, false)
	collector.ObserveRoute(time.Millisecond, false)

	if count := histogramSampleCount(t, reg, "cgs_route_computation_duration_seconds", map[string]string{"result": "found"}); count != 1 {
		t.Fatalf("found sample_count = %d, want 1", count)
	}
	if count := histogramSampleCount(t, reg, "cgs_route_computation_duration_seconds", map[string]string{"result": "infeasible"}); count != 2 {
		t.Fatalf("infeasible sample_count = %d, want 2", count)
	}
}

func TestGaugesAndHitRatioClamp(t *testing.T) {
	collector, _ := newCollector(t)
	collector.SetBufferOccupancy("sat1", 1500)
	collector.SetActiveContacts(3)
	collector.SetQueuedRequests(7)
	collector.SetVisibilityHitRatio(1.7)

	if got := testutil.ToFloat64(collector.BufferOccupancy.WithLabelValues("sat1")); got != 1500 {
		t.Fatalf("cgs_buffer_occupancy_bytes = %v, want 1500", got)
	}
	if got := testutil.ToFloat64(collector.ActiveContacts); got != 3 {
		t.Fatalf("cgs_active_contacts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.RequestsQueued); got != 7 {
		t.Fatalf("cgs_requests_queued = %v, want 7", got)
	}
	if got := testutil.ToFloat64(collector.VisibilityCacheRatio); got != 1 {
		t.Fatalf("cgs_visibility_cache_hit_ratio = %v, want clamped 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.SetBufferOccupancy("n", 1)
	c.SetActiveContacts(1)
	c.SetSimTime(time.Now())
	c.ObserveRoute(time.Millisecond, true)
	c.SetQueuedRequests(1)
	c.SetVisibilityHitRatio(0.5)
	if err := c.Record(context.Background(), outcome.Event{Kind: outcome.KindBundleDelivered}); err != nil {
		t.Fatalf("nil Record: %v", err)
	}
	if c.Gatherer() != nil {
		t.Fatalf("expected nil gatherer")
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	first.SetActiveContacts(4)
	if got := testutil.ToFloat64(second.ActiveContacts); got != 4 {
		t.Fatalf("expected shared gauge, got %v", got)
	}
}

func TestMetricsHandlerExposesSimMetrics(t *testing.T) {
	collector, _ := newCollector(t)
	_ = collector.Record(context.Background(), outcome.Event{Kind: outcome.KindBundleForwarded})
	collector.SetBufferOccupancy("gs1", 42)
	collector.ObserveRoute(time.Millisecond, true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"cgs_bundles_total",
		"cgs_buffer_occupancy_bytes",
		"cgs_route_computation_duration_seconds",
		"cgs_active_contacts",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, `cgs_buffer_occupancy_bytes{node="gs1"} 42`) {
		t.Fatalf("/metrics output missing occupancy sample: %s", body)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
