// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested tracks inbound events applied to local state.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_ingested_total",
			Help: "Inbound events applied to the local store",
		},
		[]string{"event"},
	)

	// EventsDropped tracks inbound events dropped without touching state.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_dropped_total",
			Help: "Inbound events dropped without mutating the local store",
		},
		[]string{"event", "reason"},
	)

	// CommandsEmitted tracks outbound commands by event name.
	CommandsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_commands_emitted_total",
			Help: "Outbound commands emitted over the transport",
		},
		[]string{"event"},
	)

	// CommandsRejected tracks commands rejected by local validation.
	CommandsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_commands_rejected_total",
			Help: "Commands rejected locally before any emission",
		},
		[]string{"event"},
	)

	// ConnectionState is 1 while connected, 0 otherwise.
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_connection_state",
			Help: "1 when the event-stream connection is established",
		},
	)

	// ConnectsTotal tracks successful connection establishments.
	ConnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_connects_total",
			Help: "Successful connection establishments",
		},
	)

	// DisconnectsTotal tracks connection losses.
	DisconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_disconnects_total",
			Help: "Connection losses",
		},
	)

	// ConversationsLoaded tracks the size of the local conversation list.
	ConversationsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_conversations_loaded",
			Help: "Conversations currently held in the local store",
		},
	)

	// MessagesLoaded tracks the size of the active message window.
	MessagesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_messages_loaded",
			Help: "Messages currently held in the active conversation window",
		},
	)

	// RequestDuration tracks debug server request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_debug_request_duration_seconds",
			Help:    "Debug HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total debug server requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_debug_requests_total",
			Help: "Total debug HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordIngested records one applied inbound event.
func RecordIngested(event string) {
	EventsIngested.WithLabelValues(event).Inc()
}

// RecordDropped records one dropped inbound event with its reason.
func RecordDropped(event, reason string) {
	EventsDropped.WithLabelValues(event, reason).Inc()
}

// RecordCommand records one emitted outbound command.
func RecordCommand(event string) {
	CommandsEmitted.WithLabelValues(event).Inc()
}

// RecordRequest records metrics for a debug HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetConnected flips the connection state gauge.
func SetConnected(connected bool) {
	if connected {
		ConnectionState.Set(1)
	} else {
		ConnectionState.Set(0)
	}
}
