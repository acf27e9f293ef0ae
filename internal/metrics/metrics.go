// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors and the registry they are registered on.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	transitions *prometheus.CounterVec
	stage       *prometheus.HistogramVec
	indexCalls  *prometheus.CounterVec
	retries     *prometheus.CounterVec
	records     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vecpipe_runs_total",
			Help: "Pipeline runs by final state",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vecpipe_state_transitions_total",
			Help: "State machine transitions by entered state",
		}, []string{"state"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vecpipe_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		indexCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vecpipe_index_calls_total",
			Help: "Index service calls by operation and outcome",
		}, []string{"op", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vecpipe_index_retries_total",
			Help: "Retried index service attempts by operation",
		}, []string{"op"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vecpipe_records_total",
			Help: "Records by outcome (written, skipped)",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.transitions, m.stage, m.indexCalls, m.retries, m.records,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunFinished counts a run ending in state.
func (m *Metrics) RunFinished(state string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
}

// Transition counts entry into state.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stage.WithLabelValues(stage).Observe(d.Seconds())
}

// IndexCall counts one logical index call (all attempts) and its outcome.
func (m *Metrics) IndexCall(op string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.indexCalls.WithLabelValues(op, status).Inc()
}

// Retry counts one retried attempt of op.
func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// Records adds n records with the given outcome.
func (m *Metrics) Records(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(outcome).Add(float64(n))
}
