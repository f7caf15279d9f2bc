// Package metrics exposes Prometheus collectors for the split service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiosplit"

// Metrics contains all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// Split metrics
	SplitsTotal    *prometheus.CounterVec
	SplitDuration  prometheus.Histogram
	SourceDuration prometheus.Histogram

	// Chunk metrics
	ChunksRendered prometheus.Counter
	RenderDuration prometheus.Histogram

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEvicted  *prometheus.CounterVec
	ArtifactsDeleted prometheus.Counter
	DeleteFailures   prometheus.Counter

	// Retrieval metrics
	Downloads *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SplitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_total",
			Help:      "Split requests by outcome (ok or error kind)",
		}, []string{"outcome"}),
		SplitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "split_duration_seconds",
			Help:      "Wall time of a split request, fetch included",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		}),
		SourceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_audio_duration_seconds",
			Help:      "Duration of split source audio",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4 hours
		}),

		ChunksRendered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_rendered_total",
			Help:      "Total number of chunk artifacts rendered",
		}),
		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_render_duration_seconds",
			Help:      "Time spent rendering one chunk",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of live sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		SessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed, by reason (expired, deleted, shutdown)",
		}, []string{"reason"}),
		ArtifactsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_deleted_total",
			Help:      "Total number of artifacts deleted",
		}),
		DeleteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_delete_failures_total",
			Help:      "Artifact deletions that failed",
		}),

		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Chunk download attempts by outcome",
		}, []string{"outcome"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSplit records the outcome and wall time of one split.
func (m *Metrics) RecordSplit(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SplitsTotal.WithLabelValues(outcome).Inc()
	m.SplitDuration.Observe(elapsed.Seconds())
}

// RecordSource records the duration of a decoded source.
func (m *Metrics) RecordSource(durationSec float64) {
	if m == nil {
		return
	}
	m.SourceDuration.Observe(durationSec)
}

// RecordRender records one rendered chunk.
func (m *Metrics) RecordRender(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChunksRendered.Inc()
	m.RenderDuration.Observe(elapsed.Seconds())
}

// RecordSessionCreated increments the created counter and active gauge.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionsEvicted records n sessions removed for reason.
func (m *Metrics) RecordSessionsEvicted(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SessionsEvicted.WithLabelValues(reason).Add(float64(n))
	m.ActiveSessions.Sub(float64(n))
}

// RecordArtifactDelete records the result of one artifact deletion.
func (m *Metrics) RecordArtifactDelete(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DeleteFailures.Inc()
		return
	}
	m.ArtifactsDeleted.Inc()
}

// RecordDownload records one download attempt.
func (m *Metrics) RecordDownload(outcome string) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
