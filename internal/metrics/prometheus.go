package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports events as a counter and a histogram labelled by name.
type Prometheus struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	timings  *prometheus.HistogramVec
}

// NewPrometheus registers the processor collectors on a fresh registry.
func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Processor events by name.",
	}, []string{"name"})

	timings := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "duration_seconds",
		Help:      "Processor step durations by name.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"name"})

	reg.MustRegister(events, timings)

	return &Prometheus{
		registry: reg,
		events:   events,
		timings:  timings,
	}
}

// Incr implements Sink.
func (p *Prometheus) Incr(name string) {
	p.events.WithLabelValues(name).Inc()
}

// Timing implements Sink.
func (p *Prometheus) Timing(name string, d time.Duration) {
	p.timings.WithLabelValues(name).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
