// Package metrics exposes Prometheus metrics for the voice gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Admission metrics
	AdmissionDenials *prometheus.CounterVec

	// Capture metrics
	TurnsAccepted *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec

	// Logger metrics
	FlushedTurns  prometheus.Counter
	FlushFailures prometheus.Counter

	// Janitor metrics
	JanitorReclaimed *prometheus.CounterVec

	// Cost metrics
	CostUSDTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on its own
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicegate"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active voice sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of voice sessions by end reason",
		},
		[]string{"end_reason"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Voice session duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	admissionDenials := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denials_total",
			Help:      "Total admission denials by reason",
		},
		[]string{"reason"},
	)

	turnsAccepted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_accepted_total",
			Help:      "Conversation turns accepted for persistence",
		},
		[]string{"speaker"},
	)

	eventsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Speech events dropped by reason",
		},
		[]string{"reason"},
	)

	flushedTurns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_turns_total",
			Help:      "Conversation turns written to storage",
		},
	)

	flushFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Failed turn batch writes",
		},
	)

	janitorReclaimed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_reclaimed_total",
			Help:      "Sessions force-closed by the janitor, by sweep",
		},
		[]string{"sweep"},
	)

	costUSDTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Total session cost in USD",
		},
		[]string{"tier"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		admissionDenials,
		turnsAccepted,
		eventsDropped,
		flushedTurns,
		flushFailures,
		janitorReclaimed,
		costUSDTotal,
		rateLimitHits,
	)

	return &Metrics{
		registry:         registry,
		RequestsTotal:    requestsTotal,
		RequestDuration:  requestDuration,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		AdmissionDenials: admissionDenials,
		TurnsAccepted:    turnsAccepted,
		EventsDropped:    eventsDropped,
		FlushedTurns:     flushedTurns,
		FlushFailures:    flushFailures,
		JanitorReclaimed: janitorReclaimed,
		CostUSDTotal:     costUSDTotal,
		RateLimitHits:    rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(endpoint string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSessionStart records a newly admitted session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending for any reason.
func (m *Metrics) RecordSessionEnd(endReason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(endReason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordAdmissionDenial records a denied session-start attempt.
func (m *Metrics) RecordAdmissionDenial(reason string) {
	m.AdmissionDenials.WithLabelValues(reason).Inc()
}

// RecordTurnAccepted records a transcript accepted as a conversation turn.
func (m *Metrics) RecordTurnAccepted(speaker string) {
	m.TurnsAccepted.WithLabelValues(speaker).Inc()
}

// RecordEventDropped records a rejected speech event.
func (m *Metrics) RecordEventDropped(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordFlush records a successful batch write.
func (m *Metrics) RecordFlush(turns int) {
	m.FlushedTurns.Add(float64(turns))
}

// RecordFlushFailure records a failed batch write.
func (m *Metrics) RecordFlushFailure() {
	m.FlushFailures.Inc()
}

// RecordReclaimed records a session force-closed by a janitor sweep.
func (m *Metrics) RecordReclaimed(sweep string) {
	m.JanitorReclaimed.WithLabelValues(sweep).Inc()
}

// RecordCost records a finalized session's cost.
func (m *Metrics) RecordCost(tier string, costUSD float64) {
	if costUSD > 0 {
		m.CostUSDTotal.WithLabelValues(tier).Add(costUSD)
	}
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
