package outcome

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// Stats is a point-in-time view of a Summary.
type Stats struct {
	Requests  int `json:"requests"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Acquired  int `json:"acquired"`
	Forwarded int `json:"forwarded"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
	Deferred  int `json:"deferred"`
	Rerouted  int `json:"rerouted"`
	Refused   int `json:"contacts_refused"`

	Reasons map[model.Reason]int `json:"reasons,omitempty"`

	MeanLatency time.Duration `json:"mean_latency_ns"`
	P50Latency  time.Duration `json:"p50_latency_ns"`
	P95Latency  time.Duration `json:"p95_latency_ns"`
	MaxLatency  time.Duration `json:"max_latency_ns"`

	// DeliveryRatio is Delivered / Accepted, or 0 with no accepted requests.
	DeliveryRatio float64 `json:"delivery_ratio"`
}

// Summary aggregates outcome events in memory.
type Summary struct {
	mu        sync.Mutex
	counts    map[Kind]int
	reasons   map[model.Reason]int
	latencies []time.Duration
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{
		counts:  make(map[Kind]int),
		reasons: make(map[model.Reason]int),
	}
}

func (s *Summary) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[ev.Kind]++
	if ev.Reason != model.ReasonNone {
		s.reasons[ev.Reason]++
	}
	if ev.Kind == KindBundleDelivered {
		s.latencies = append(s.latencies, ev.Latency)
	}
	return nil
}

// Stats computes the current aggregate.
func (s *Summary) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Accepted:  s.counts[KindRequestAccepted],
		Rejected:  s.counts[KindRequestRejected],
		Acquired:  s.counts[KindBundleAcquired],
		Forwarded: s.counts[KindBundleForwarded],
		Delivered: s.counts[KindBundleDelivered],
		Dropped:   s.counts[KindBundleDropped],
		Deferred:  s.counts[KindBundleDeferred],
		Rerouted:  s.counts[KindBundleRerouted],
		Refused:   s.counts[KindContactRefused],
		Reasons:   make(map[model.Reason]int, len(s.reasons)),
	}
	st.Requests = st.Accepted + st.Rejected
	for r, n := range s.reasons {
		st.Reasons[r] = n
	}
	if st.Accepted > 0 {
		st.DeliveryRatio = float64(st.Delivered) / float64(st.Accepted)
	}

	if len(s.latencies) > 0 {
		sorted := append([]time.Duration(nil), s.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var total time.Duration
		for _, l := range sorted {
			total += l
		}
		st.MeanLatency = total / time.Duration(len(sorted))
		st.P50Latency = percentile(sorted, 0.50)
		st.P95Latency = percentile(sorted, 0.95)
		st.MaxLatency = sorted[len(sorted)-1]
	}
	return st
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
