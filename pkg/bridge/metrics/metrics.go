// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge. A nil *Metrics is
// valid and records nothing, so call sites never have to branch.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	AudioBytesTotal *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec

	TranscodeErrorsTotal prometheus.Counter
	FunctionCallsTotal   *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxbridge"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of bridged calls currently in progress",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of bridged calls",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Bridged call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes relayed across the bridge",
		},
		[]string{"direction"},
	)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Protocol frames handled, by side and event type",
		},
		[]string{"side", "event"},
	)

	transcodeErrorsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_errors_total",
			Help:      "Audio chunks dropped due to transcode failures",
		},
	)

	functionCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_calls_total",
			Help:      "Tool invocations requested by the model",
		},
		[]string{"name", "status"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioBytesTotal,
		eventsTotal,
		transcodeErrorsTotal,
		functionCallsTotal,
	)

	return &Metrics{
		registry:             registry,
		SessionsActive:       sessionsActive,
		SessionsTotal:        sessionsTotal,
		SessionDuration:      sessionDuration,
		AudioBytesTotal:      audioBytesTotal,
		EventsTotal:          eventsTotal,
		TranscodeErrorsTotal: transcodeErrorsTotal,
		FunctionCallsTotal:   functionCallsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new bridged call starting.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a bridged call ending.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordAudio records relayed audio bytes. Direction is "inbound" for caller
// audio and "outbound" for assistant audio.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordEvent records one handled protocol frame.
func (m *Metrics) RecordEvent(side, event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(side, event).Inc()
}

// RecordTranscodeError records an audio chunk dropped during conversion.
func (m *Metrics) RecordTranscodeError() {
	if m == nil {
		return
	}
	m.TranscodeErrorsTotal.Inc()
}

// RecordFunctionCall records one tool invocation outcome.
func (m *Metrics) RecordFunctionCall(name, status string) {
	if m == nil {
		return
	}
	m.FunctionCallsTotal.WithLabelValues(name, status).Inc()
}
