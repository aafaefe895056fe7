// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xiaoji",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xiaoji",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xiaoji",
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Calls to the conversation and speech platforms",
		},
		[]string{"op", "outcome"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xiaoji",
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Upstream call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	ReplyFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xiaoji",
			Subsystem: "upstream",
			Name:      "reply_fallback_total",
			Help:      "Replies with no recognized field, returned as the raw body",
		},
	)

	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xiaoji",
			Subsystem: "session",
			Name:      "conversations",
			Help:      "Conversations held in the registry",
		},
	)

	TurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xiaoji",
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Completed user/assistant turns",
		},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xiaoji",
			Subsystem: "speech",
			Name:      "upload_bytes_total",
			Help:      "Audio bytes accepted for recognition",
		},
		[]string{"format"},
	)

	HookFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xiaoji",
			Subsystem: "hooks",
			Name:      "failures_total",
			Help:      "Lifecycle hook handlers that returned an error",
		},
		[]string{"event", "handler"},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

// RecordUpstream records one upstream call. outcome is "success" or "error".
func RecordUpstream(op, outcome string, durationSec float64) {
	UpstreamCallsTotal.WithLabelValues(op, outcome).Inc()
	UpstreamDuration.WithLabelValues(op).Observe(durationSec)
}

// RecordUpload records an accepted audio upload.
func RecordUpload(format string, bytes int) {
	UploadBytesTotal.WithLabelValues(format).Add(float64(bytes))
}

// RecordHookFailure counts one failed hook handler.
func RecordHookFailure(event, handler string) {
	HookFailuresTotal.WithLabelValues(event, handler).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
