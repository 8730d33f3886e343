// Package metrics exposes Prometheus collectors for resolution runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "profile_resolver"

// Outcome labels for RecordsTotal.
const (
	OutcomeResolved   = "resolved"
	OutcomeUnresolved = "unresolved"
	OutcomeSkipped    = "skipped"
)

// Metrics holds the collectors of one process. All methods are safe on a
// nil receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// RecordsTotal counts processed records by outcome.
	RecordsTotal *prometheus.CounterVec

	// AttemptsTotal counts adapter attempts by adapter and result
	// (success, rejected, or a failure reason).
	AttemptsTotal *prometheus.CounterVec

	// AttemptSeconds measures adapter latency.
	AttemptSeconds *prometheus.HistogramVec

	// ResolvedTotal counts stored outcomes by resolver tag.
	ResolvedTotal *prometheus.CounterVec

	// WorkerTimeouts counts search workers killed at the deadline.
	WorkerTimeouts prometheus.Counter

	// LastRunUnix is the completion time of the last batch.
	LastRunUnix prometheus.Gauge

	// BreakerState is the search circuit state: 0 closed, 1 open,
	// 2 half-open.
	BreakerState *prometheus.GaugeVec
}

// New creates collectors on a private registry, together with the Go
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
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records processed by outcome.",
		}, []string{"outcome"}),
		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_attempts_total",
			Help:      "Adapter attempts by adapter and result.",
		}, []string{"adapter", "result"}),
		AttemptSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_attempt_seconds",
			Help:      "Adapter attempt latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
		}, []string{"adapter"}),
		ResolvedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolved_total",
			Help:      "Outcomes stored by resolver tag.",
		}, []string{"resolver"}),
		WorkerTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_timeouts_total",
			Help:      "Search workers killed at the deadline.",
		}),
		LastRunUnix: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last batch run.",
		}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state by source (0 closed, 1 open, 2 half-open).",
		}, []string{"circuit"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one adapter attempt.
func (m *Metrics) ObserveAttempt(adapter, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(adapter, result).Inc()
	m.AttemptSeconds.WithLabelValues(adapter).Observe(d.Seconds())
}

// ObserveRecord records the outcome of one record.
func (m *Metrics) ObserveRecord(outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolved records a stored outcome.
func (m *Metrics) ObserveResolved(resolver string) {
	if m == nil {
		return
	}
	m.ResolvedTotal.WithLabelValues(resolver).Inc()
}

// ObserveTimeout records a worker killed at the deadline.
func (m *Metrics) ObserveTimeout() {
	if m == nil {
		return
	}
	m.WorkerTimeouts.Inc()
}

// RunFinished stamps the completion time of a batch.
func (m *Metrics) RunFinished(at time.Time) {
	if m == nil {
		return
	}
	m.LastRunUnix.Set(float64(at.Unix()))
}

// ObserveBreaker records a circuit breaker transition.
func (m *Metrics) ObserveBreaker(circuit string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(circuit).Set(float64(state))
}
