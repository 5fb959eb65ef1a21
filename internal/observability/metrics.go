package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/model"
)

// SimCollector bundles Prometheus metrics for a simulation run. It implements
// outcome.Recorder so it can sit next to the journal and summary sinks. All
// methods are safe on a nil receiver.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Requests        *prometheus.CounterVec
	Bundles         *prometheus.CounterVec
	ContactsRefused prometheus.Counter
	DeliveryLatency prometheus.Histogram

	BufferOccupancy *prometheus.GaugeVec
	ActiveContacts  prometheus.Gauge
	SimTime         prometheus.Gauge

	schedulerMetrics
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cgs_requests_total",
		Help: "Acquisition requests decided by the scheduler, labeled by status and rejection reason.",
	}, []string{"status", "reason"}), "cgs_requests_total")
	if err != nil {
		return nil, err
	}

	bundles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cgs_bundles_total",
		Help: "Bundle lifecycle events, labeled by status and drop reason.",
	}, []string{"status", "reason"}), "cgs_bundles_total")
	if err != nil {
		return nil, err
	}

	refused, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cgs_contacts_refused_total",
		Help: "Contacts that could not be opened because a node reached its contact limit.",
	}), "cgs_contacts_refused_total")
	if err != nil {
		return nil, err
	}

	latency, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cgs_bundle_delivery_latency_seconds",
		Help:    "Simulated time from acquisition to delivery.",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200, 86400},
	}), "cgs_bundle_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}

	occupancy, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cgs_buffer_occupancy_bytes",
		Help: "Bytes currently stored in each node's buffer.",
	}, []string{"node"}), "cgs_buffer_occupancy_bytes")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cgs_active_contacts",
		Help: "Contacts currently open.",
	}), "cgs_active_contacts")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cgs_sim_time_seconds",
		Help: "Current simulation clock as a Unix timestamp.",
	}), "cgs_sim_time_seconds")
	if err != nil {
		return nil, err
	}

	sched, err := newSchedulerMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		Requests:         requests,
		Bundles:          bundles,
		ContactsRefused:  refused,
		DeliveryLatency:  latency,
		BufferOccupancy:  occupancy,
		ActiveContacts:   active,
		SimTime:          simTime,
		schedulerMetrics: sched,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Record updates counters from an outcome event.
func (c *SimCollector) Record(_ context.Context, ev outcome.Event) error {
	if c == nil {
		return nil
	}
	reason := reasonLabel(ev.Reason)
	switch ev.Kind {
	case outcome.KindRequestAccepted:
		c.Requests.WithLabelValues("accepted", reason).Inc()
	case outcome.KindRequestRejected:
		c.Requests.WithLabelValues("rejected", reason).Inc()
	case outcome.KindBundleAcquired:
		c.Bundles.WithLabelValues("acquired", reason).Inc()
	case outcome.KindBundleForwarded:
		c.Bundles.WithLabelValues("forwarded", reason).Inc()
	case outcome.KindBundleDelivered:
		c.Bundles.WithLabelValues("delivered", reason).Inc()
		c.DeliveryLatency.Observe(ev.Latency.Seconds())
	case outcome.KindBundleDropped:
		c.Bundles.WithLabelValues("dropped", reason).Inc()
	case outcome.KindBundleDeferred:
		c.Bundles.WithLabelValues("deferred", reason).Inc()
	case outcome.KindBundleRerouted:
		c.Bundles.WithLabelValues("rerouted", reason).Inc()
	case outcome.KindContactRefused:
		c.ContactsRefused.Inc()
	}
	return nil
}

// SetBufferOccupancy sets the occupancy gauge for node.
func (c *SimCollector) SetBufferOccupancy(node string, bytes int64) {
	if c == nil || c.BufferOccupancy == nil {
		return
	}
	c.BufferOccupancy.WithLabelValues(node).Set(float64(bytes))
}

// SetActiveContacts sets the open contact gauge.
func (c *SimCollector) SetActiveContacts(n int) {
	if c == nil || c.ActiveContacts == nil {
		return
	}
	c.ActiveContacts.Set(float64(n))
}

// SetSimTime publishes the simulation clock.
func (c *SimCollector) SetSimTime(t time.Time) {
	if c == nil || c.SimTime == nil {
		return
	}
	c.SimTime.Set(float64(t.UnixNano()) / 1e9)
}

func reasonLabel(r model.Reason) string {
	if r == model.ReasonNone {
		return "none"
	}
	return string(r)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
