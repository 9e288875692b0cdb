// Package metrics exposes route dispatch metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "miniroute"

// Collector records dispatch outcomes on a private registry.
type Collector struct {
	registry *prometheus.Registry

	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	inFlight   prometheus.Gauge
}

// NewCollector registers the dispatch metrics on registry. A nil registry
// gets a fresh one with the Go and process collectors.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatches_total",
			Help:      "Routed messages by channel and final status.",
		}, []string{"channel", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one message, assistant calls included.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"channel"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_errors_total",
			Help:      "Dispatches that failed, by channel and failing phase.",
		}, []string{"channel", "phase"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatches_in_flight",
			Help:      "Messages currently being dispatched.",
		}),
	}

	registry.MustRegister(c.dispatches, c.duration, c.errors, c.inFlight)
	return c
}

// RecordDispatch counts one finished dispatch.
func (c *Collector) RecordDispatch(channel string, status string, duration time.Duration) {
	c.dispatches.WithLabelValues(channel, status).Inc()
	c.duration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordError counts one failed dispatch. phase is the router phase that
// failed, or "internal" when the failure happened outside the router.
func (c *Collector) RecordError(channel string, phase string) {
	if phase == "" {
		phase = "internal"
	}
	c.errors.WithLabelValues(channel, phase).Inc()
}

// Begin marks a dispatch as started; the returned func marks it done.
func (c *Collector) Begin() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry for Prometheus scrapes.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
