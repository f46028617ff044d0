// Package metrics exposes request and probe counters for prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screepsapi/internal/models"
)

// Collector records request outcomes and probe rounds on its own registry.
type Collector struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	probeRounds *prometheus.CounterVec
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "screepsapi",
			Name:      "requests_total",
			Help:      "Requests by target kind and outcome.",
		}, []string{"kind", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "screepsapi",
			Name:      "rate_limited_total",
			Help:      "Successful responses carrying the rate limit marker.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "screepsapi",
			Name:      "request_duration_seconds",
			Help:      "Request latency, including requests cut off by the deadline.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		probeRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "screepsapi",
			Name:      "probe_rounds_total",
			Help:      "Private host probe rounds by result.",
		}, []string{"result"}),
	}
	c.registry.MustRegister(c.requests, c.rateLimited, c.duration, c.probeRounds)
	return c
}

// Record implements request.OutcomeSink.
func (c *Collector) Record(out models.Outcome) {
	kind := string(out.Request.Kind)
	c.requests.WithLabelValues(kind, string(out.Kind)).Inc()
	c.duration.WithLabelValues(kind).Observe(out.Latency.Seconds())
	if out.RateLimited {
		c.rateLimited.WithLabelValues(kind).Inc()
	}
}

// ObserveProbeRound implements discovery.RoundObserver.
func (c *Collector) ObserveProbeRound(found bool) {
	result := "miss"
	if found {
		result = "found"
	}
	c.probeRounds.WithLabelValues(result).Inc()
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
