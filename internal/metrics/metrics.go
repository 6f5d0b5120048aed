package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Generation metrics
	GenerationsTotal     *prometheus.CounterVec
	GenerationDuration   *prometheus.HistogramVec
	GenerationsInFlight  prometheus.Gauge
	ProviderBreakerState *prometheus.GaugeVec

	// Persistence metrics
	PersistTotal    *prometheus.CounterVec
	PersistAttempts prometheus.Histogram
	ResyncedTotal   prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "afterwon"
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),

		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Generation attempts by outcome",
			},
			[]string{"outcome"}, // succeeded, failed, rejected, busy
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Time spent waiting on the image provider",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		GenerationsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "in_flight",
				Help:      "Generations currently waiting on the provider",
			},
		),
		ProviderBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		PersistTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "persist",
				Name:      "jobs_total",
				Help:      "Persistence jobs by outcome",
			},
			[]string{"outcome"}, // stored, degraded
		),
		PersistAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "persist",
				Name:      "attempts",
				Help:      "Upload attempts used per persistence job",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),
		ResyncedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "persist",
				Name:      "resynced_total",
				Help:      "Degraded generations re-enqueued by the scheduler",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records a finished provider call.
func (m *Metrics) RecordGeneration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRejection counts a request that never reached the provider.
func (m *Metrics) RecordRejection(outcome string) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.GenerationsInFlight.Inc()
}

func (m *Metrics) GenerationFinished() {
	if m == nil {
		return
	}
	m.GenerationsInFlight.Dec()
}

func (m *Metrics) SetBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.ProviderBreakerState.WithLabelValues(provider).Set(float64(state))
}

func (m *Metrics) RecordPersist(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.PersistTotal.WithLabelValues(outcome).Inc()
	m.PersistAttempts.Observe(float64(attempts))
}

func (m *Metrics) RecordResync(n int) {
	if m == nil {
		return
	}
	m.ResyncedTotal.Add(float64(n))
}
