// Package metrics owns the prometheus collectors for the store, the workflow
// engine, the sync adapter and the HTTP API.
package metrics

import (
	"clinicflow/pkg/domain"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinicflow"

// Collectors holds every clinicflow metric on its own registry, so tests and
// multiple services in one process never collide on the default registerer.
type Collectors struct {
	registry *prometheus.Registry

	storePuts    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	syncPublish  *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New registers the collectors plus the Go runtime and process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collectors{
		registry: reg,
		storePuts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_puts_total",
			Help:      "Document writes by kind and outcome.",
		}, []string{"kind", "result"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encounter_transitions_total",
			Help:      "Committed encounter status changes.",
		}, []string{"from", "to"}),
		syncPublish: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_publish_total",
			Help:      "Sync publish attempts by publisher and outcome.",
		}, []string{"publisher", "result"}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_publish_duration_seconds",
			Help:      "Sync publish latency.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"publisher"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObservePut records a store write outcome.
func (c *Collectors) ObservePut(kind domain.Kind, result string) {
	c.storePuts.WithLabelValues(string(kind), result).Inc()
}

// ObserveTransition records a committed status change.
func (c *Collectors) ObserveTransition(from, to domain.EncounterStatus) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObservePublish records one sync publish attempt.
func (c *Collectors) ObservePublish(publisher, result string, elapsed time.Duration) {
	c.syncPublish.WithLabelValues(publisher, result).Inc()
	c.syncDuration.WithLabelValues(publisher).Observe(elapsed.Seconds())
}

// ObserveHTTP records a served request. path should be the route template,
// not the raw URL, to keep label cardinality bounded.
func (c *Collectors) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (c *Collectors) TrackInFlight() func() {
	c.httpInFlight.Inc()
	return c.httpInFlight.Dec
}
