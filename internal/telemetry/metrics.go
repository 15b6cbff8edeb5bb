// Package telemetry exposes Prometheus metrics for the search service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors behind a private
// registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal       *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	searchResultCount *prometheus.HistogramVec
	searchDegraded    prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	recommendationTotal *prometheus.CounterVec

	documentsIndexed prometheus.Counter
	chunksIndexed    prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quaero",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quaero",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total search pipeline executions by mode and view.",
		},
		[]string{"mode", "view"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quaero",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	searchResultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quaero",
			Subsystem: "search",
			Name:      "result_count",
			Help:      "Distribution of results returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"mode"},
	)
	searchDegraded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches served from a single retrieval path after the other failed.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Result cache hits.",
		},
	)
	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Result cache misses.",
		},
	)
	recommendationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "confidence",
			Name:      "recommendations_total",
			Help:      "Confidence gate outcomes by recommendation.",
		},
		[]string{"recommendation"},
	)
	documentsIndexed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total documents ingested.",
		},
	)
	chunksIndexed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quaero",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total chunks ingested.",
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		searchDuration,
		searchResultCount,
		searchDegraded,
		cacheHits,
		cacheMisses,
		recommendationTotal,
		documentsIndexed,
		chunksIndexed,
	)

	return &Metrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		searchTotal:         searchTotal,
		searchDuration:      searchDuration,
		searchResultCount:   searchResultCount,
		searchDegraded:      searchDegraded,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		recommendationTotal: recommendationTotal,
		documentsIndexed:    documentsIndexed,
		chunksIndexed:       chunksIndexed,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments an HTTP handler with request counters and
// latency histograms.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, r.URL.Path).
			Observe(time.Since(start).Seconds())
	})
}

// RecordSearch observes one completed pipeline execution.
func (m *Metrics) RecordSearch(mode, view string, resultCount int, degraded, fromCache bool, elapsed time.Duration) {
	m.searchTotal.WithLabelValues(mode, view).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.searchResultCount.WithLabelValues(mode).Observe(float64(resultCount))
	if degraded {
		m.searchDegraded.Inc()
	}
	if fromCache {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordRecommendation counts a confidence gate outcome.
func (m *Metrics) RecordRecommendation(recommendation string) {
	m.recommendationTotal.WithLabelValues(recommendation).Inc()
}

// RecordIngest counts one indexed document and its chunks.
func (m *Metrics) RecordIngest(chunkCount int) {
	m.documentsIndexed.Inc()
	m.chunksIndexed.Add(float64(chunkCount))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
