// Package metrics provides Prometheus metrics for the relay and the review
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lingualive"

// Frame directions
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsRejected *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Relay traffic
	AudioFrames    *prometheus.CounterVec
	TextTurns      prometheus.Counter
	ProtocolErrors prometheus.Counter
	UpstreamErrors *prometheus.CounterVec

	// Review metrics
	Reviews *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions opened",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active relay sessions",
		}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Total number of relay connections refused",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{1, 10, 30, 60, 120, 300, 600, 1800},
		}),

		AudioFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total audio frames relayed",
		}, []string{"direction"}),
		TextTurns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_turns_total",
			Help:      "Total text turns relayed upstream",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total malformed or unknown messages skipped",
		}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total errors reported to clients",
		}, []string{"code"}),

		Reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Total conversation reviews produced",
		}, []string{"result"}),
	}
}

// RecordSessionStart records a new relay session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordRejected records a refused connection.
func (m *Metrics) RecordRejected(reason string) {
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordAudioFrame counts one relayed audio frame.
func (m *Metrics) RecordAudioFrame(direction string) {
	m.AudioFrames.WithLabelValues(direction).Inc()
}

// RecordTextTurn counts one relayed text turn.
func (m *Metrics) RecordTextTurn() {
	m.TextTurns.Inc()
}

// RecordProtocolError counts a skipped message.
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// RecordUpstreamError counts an error sent to a client.
func (m *Metrics) RecordUpstreamError(code string) {
	m.UpstreamErrors.WithLabelValues(code).Inc()
}

// RecordReview counts a finished review.
func (m *Metrics) RecordReview(fallback bool) {
	result := "model"
	if fallback {
		result = "fallback"
	}
	m.Reviews.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
