// Package metrics holds the Prometheus instruments of the focus service.
//
// Each Metrics owns a private registry so tests and multiple servers in one
// process never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Execute outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds the service counters.
//
//   - focus_compute_total{status} - results by status
//   - focus_compute_duration_seconds - engine and fetch time per compute
//   - focus_execute_total{op,outcome} - executor calls
//   - focus_events_logged_total{type} - user events appended
//   - focus_dismissals_total - dismissals recorded
//   - focus_fetch_errors_total{source} - bundle fetch failures
//   - focus_compute_panics_total - computes recovered from a panic
type Metrics struct {
	registry *prometheus.Registry

	ComputeTotal    *prometheus.CounterVec
	ComputeDuration prometheus.Histogram
	ExecuteTotal    *prometheus.CounterVec
	EventsLogged    *prometheus.CounterVec
	Dismissals      prometheus.Counter
	FetchErrors     *prometheus.CounterVec
	ComputePanics   prometheus.Counter
}

// New creates the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ComputeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "focus_compute_total",
				Help: "Total number of focus computations by result status",
			},
			[]string{"status"},
		),
		ComputeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "focus_compute_duration_seconds",
				Help:    "Duration of focus computations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
		),
		ExecuteTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "focus_execute_total",
				Help: "Total number of executed commands by op and outcome",
			},
			[]string{"op", "outcome"},
		),
		EventsLogged: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "focus_events_logged_total",
				Help: "Total number of user events logged by type",
			},
			[]string{"type"},
		),
		Dismissals: f.NewCounter(
			prometheus.CounterOpts{
				Name: "focus_dismissals_total",
				Help: "Total number of candidate dismissals",
			},
		),
		FetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "focus_fetch_errors_total",
				Help: "Total number of bundle fetch failures by source",
			},
			[]string{"source"},
		),
		ComputePanics: f.NewCounter(
			prometheus.CounterOpts{
				Name: "focus_compute_panics_total",
				Help: "Total number of computations recovered from a panic",
			},
		),
	}
}

// RecordCompute records one computation.
func (m *Metrics) RecordCompute(status string, d time.Duration) {
	m.ComputeTotal.WithLabelValues(status).Inc()
	m.ComputeDuration.Observe(d.Seconds())
}

// RecordExecute records one executor call.
func (m *Metrics) RecordExecute(op string, ok bool) {
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFailed
	}
	m.ExecuteTotal.WithLabelValues(op, outcome).Inc()
}

// RecordEvent records one logged user event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsLogged.WithLabelValues(eventType).Inc()
}

// RecordDismissal records one dismissal.
func (m *Metrics) RecordDismissal() {
	m.Dismissals.Inc()
}

// RecordFetchError records one failed bundle fetch.
func (m *Metrics) RecordFetchError(source string) {
	m.FetchErrors.WithLabelValues(source).Inc()
}

// RecordPanic records one recovered panic.
func (m *Metrics) RecordPanic() {
	m.ComputePanics.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
