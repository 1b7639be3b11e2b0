// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lokai_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokai_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsActive tracks live pipeline sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lokai_sessions_active",
			Help: "Number of active streaming sessions",
		},
	)

	// TurnsTotal tracks turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokai_turns_total",
			Help: "Total inference turns by outcome",
		},
		[]string{"model", "outcome"},
	)

	// TurnDuration tracks how long a turn streams for.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lokai_turn_duration_seconds",
			Help:    "Inference turn duration",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		},
		[]string{"model", "outcome"},
	)

	// UpstreamChunksTotal tracks streamed chunks by result.
	UpstreamChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokai_upstream_chunks_total",
			Help: "Upstream chunks received, by decode result",
		},
		[]string{"model", "result"},
	)

	// FramesTotal tracks outbound frames by kind.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokai_frames_total",
			Help: "Outbound frames written",
		},
		[]string{"kind"},
	)

	// PersistFailuresTotal tracks assistant messages that could not be stored.
	PersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lokai_assistant_persist_failures_total",
			Help: "Assistant messages that failed to persist",
		},
	)

	// MessagesTotal tracks persisted messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokai_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// EventsPublishedTotal tracks message events sent to NATS.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokai_events_published_total",
			Help: "Message events published to NATS",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the outcome of one inference turn.
func RecordTurn(model, outcome string, duration float64) {
	TurnsTotal.WithLabelValues(model, outcome).Inc()
	TurnDuration.WithLabelValues(model, outcome).Observe(duration)
}

// RecordChunk records one upstream chunk; result is "ok" or "skipped".
func RecordChunk(model, result string) {
	UpstreamChunksTotal.WithLabelValues(model, result).Inc()
}

// RecordFrame records one outbound frame.
func RecordFrame(kind string) {
	FramesTotal.WithLabelValues(kind).Inc()
}

// IncrementSessions increments the active session count.
func IncrementSessions() {
	SessionsActive.Inc()
}

// DecrementSessions decrements the active session count.
func DecrementSessions() {
	SessionsActive.Dec()
}
