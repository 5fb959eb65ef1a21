package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// schedulerMetrics covers route computation and request scheduling.
type schedulerMetrics struct {
	RouteComputationDuration *prometheus.HistogramVec
	RequestsQueued           prometheus.Gauge
	VisibilityCacheRatio     prometheus.Gauge
}

func newSchedulerMetrics(reg prometheus.Registerer) (schedulerMetrics, error) {
	routeHistogram, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cgs_route_computation_duration_seconds",
		Help:    "Wall-clock duration of contact graph route computations, labeled by result.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"result"}), "cgs_route_computation_duration_seconds")
	if err != nil {
		return schedulerMetrics{}, err
	}

	queueGauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cgs_requests_queued",
		Help: "Requests waiting in the scheduler queue.",
	}), "cgs_requests_queued")
	if err != nil {
		return schedulerMetrics{}, err
	}

	cacheRatio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cgs_visibility_cache_hit_ratio",
		Help: "Hit ratio for the scheduler's visibility window cache.",
	}), "cgs_visibility_cache_hit_ratio")
	if err != nil {
		return schedulerMetrics{}, err
	}

	return schedulerMetrics{
		RouteComputationDuration: routeHistogram,
		RequestsQueued:           queueGauge,
		VisibilityCacheRatio:     cacheRatio,
	}, nil
}

// ObserveRoute records a route computation. It matches the cgr.Observer
// signature.
func (c *SimCollector) ObserveRoute(d time.Duration, found bool) {
	if c == nil || c.RouteComputationDuration == nil {
		return
	}
	result := "found"
	if !found {
		result = "infeasible"
	}
	c.RouteComputationDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SetQueuedRequests updates the queue depth gauge.
func (c *SimCollector) SetQueuedRequests(count int) {
	if c == nil || c.RequestsQueued == nil {
		return
	}
	c.RequestsQueued.Set(float64(count))
}

// SetVisibilityHitRatio sets the visibility cache hit ratio.
func (c *SimCollector) SetVisibilityHitRatio(ratio float64) {
	if c == nil || c.VisibilityCacheRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.VisibilityCacheRatio.Set(ratio)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
