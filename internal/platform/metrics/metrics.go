// Package metrics holds the Prometheus collectors the gateway reports into.
// Handlers, the resilience policy, the job engine, and realtime sessions all
// record here; /metrics exposes the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	RetryExhausted    *prometheus.CounterVec
	StreamChunksTotal *prometheus.CounterVec
	JobPollIterations *prometheus.HistogramVec
	JobDuration       *prometheus.HistogramVec
	RealtimeSessions  *prometheus.GaugeVec
	RealtimeMessages  *prometheus.CounterVec
}

// New builds the collector set on the given registerer. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refract",
			Name:      "requests_total",
			Help:      "Upstream operations attempted, by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refract",
			Name:      "request_duration_seconds",
			Help:      "Wall-clock duration of upstream operations.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "operation"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refract",
			Name:      "retries_total",
			Help:      "Retry attempts made by the resilience policy.",
		}, []string{"provider", "operation"}),

		RetryExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refract",
			Name:      "retry_exhausted_total",
			Help:      "Operations that failed after the retry budget ran out.",
		}, []string{"provider", "operation"}),

		StreamChunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refract",
			Name:      "stream_chunks_total",
			Help:      "Normalized streaming chunks emitted to clients.",
		}, []string{"provider"}),

		JobPollIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refract",
			Name:      "job_poll_iterations",
			Help:      "Status polls needed before an async job reached a terminal state.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		}, []string{"provider"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "refract",
			Name:      "job_duration_seconds",
			Help:      "Submit-to-terminal duration of async jobs.",
			Buckets:   []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"provider", "status"}),

		RealtimeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "refract",
			Name:      "realtime_sessions",
			Help:      "Realtime audio sessions currently open.",
		}, []string{"provider"}),

		RealtimeMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refract",
			Name:      "realtime_messages_total",
			Help:      "Realtime messages relayed, by provider and direction.",
		}, []string{"provider", "direction"}),
	}
}

// ObserveRequest records one completed operation.
func (m *Metrics) ObserveRequest(provider, operation, outcome string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// Nop returns a Metrics backed by a throwaway registry, for callers that
// don't care about reporting.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

var defaultMetrics *Metrics

// SetDefault installs the process-wide collector set. Called once during
// bootstrap, before any provider is constructed.
func SetDefault(m *Metrics) {
	defaultMetrics = m
}

// Default returns the process-wide collector set, or a nop set when
// bootstrap never installed one (tests, mostly).
func Default() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = Nop()
	}
	return defaultMetrics
}
