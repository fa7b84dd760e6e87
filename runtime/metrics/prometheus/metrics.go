// Package prometheus exports relay session metrics to Prometheus.
package prometheus

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liveinspect"

var (
	// sessionsActive is a gauge of relay sessions currently open.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open relay sessions",
		},
	)

	// sessionsTotal is a counter of finished relay sessions.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished relay sessions",
		},
		[]string{"outcome"}, // outcome: completed, failed, disconnected
	)

	// sessionErrorsTotal is a counter of error messages sent to clients.
	sessionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Total number of session errors reported to clients",
		},
		[]string{"code"},
	)

	// sessionDuration is a histogram of relay session lifetime.
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Histogram of relay session duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"outcome"},
	)

	// upstreamConnectDuration is a histogram of upstream dial and setup time.
	upstreamConnectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_duration_seconds",
			Help:      "Time from client accept to upstream ready in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
	)

	// chunksForwardedTotal is a counter of chunks delivered upstream.
	chunksForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_forwarded_total",
			Help:      "Total number of media chunks forwarded upstream",
		},
		[]string{"mime"},
	)

	// chunkBytesTotal is a counter of payload bytes delivered upstream.
	chunkBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Total media payload bytes forwarded upstream",
		},
		[]string{"mime"},
	)

	// chunksDroppedTotal is a counter of chunks that never reached upstream.
	chunksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total number of media chunks dropped by the relay",
		},
		[]string{"mime"},
	)

	// resultsTotal is a counter of results forwarded to clients.
	resultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Total number of upstream results forwarded to clients",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsTotal,
		sessionErrorsTotal,
		sessionDuration,
		upstreamConnectDuration,
		chunksForwardedTotal,
		chunkBytesTotal,
		chunksDroppedTotal,
		resultsTotal,
	}
)

// RecordSessionStart records an accepted relay session.
func RecordSessionStart() {
	sessionsActive.Inc()
}

// RecordSessionEnd records a finished relay session.
func RecordSessionEnd(outcome string, durationSeconds float64) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordSessionError records an error reported to a client.
func RecordSessionError(code string) {
	sessionErrorsTotal.WithLabelValues(code).Inc()
}

// RecordUpstreamConnect records the time it took to reach ready.
func RecordUpstreamConnect(durationSeconds float64) {
	upstreamConnectDuration.Observe(durationSeconds)
}

// RecordChunkForwarded records a media chunk delivered upstream.
func RecordChunkForwarded(mime string, bytes int) {
	label := mimeLabel(mime)
	chunksForwardedTotal.WithLabelValues(label).Inc()
	if bytes > 0 {
		chunkBytesTotal.WithLabelValues(label).Add(float64(bytes))
	}
}

// RecordChunkDropped records a media chunk the relay could not deliver.
func RecordChunkDropped(mime string) {
	chunksDroppedTotal.WithLabelValues(mimeLabel(mime)).Inc()
}

// RecordResult records a result forwarded to a client.
func RecordResult() {
	resultsTotal.Inc()
}

// mimeLabel strips MIME parameters to keep label cardinality bounded.
func mimeLabel(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(base)
	if base == "" {
		return "unknown"
	}
	return strings.ToLower(base)
}
