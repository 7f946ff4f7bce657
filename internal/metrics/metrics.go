// Package metrics exposes Prometheus collectors for the storefront service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// Catalog cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	ingestRunsTotal            *prometheus.CounterVec
	columnFallbackTotal        *prometheus.CounterVec
	imagesUploadedTotal        prometheus.Counter
	imageReconciliationsTotal  *prometheus.CounterVec
	catalogCacheTotal          *prometheus.CounterVec
	ledgerAbandonedTasksTotal  prometheus.Counter
	rateLimitedTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_ingest_runs_total",
				Help: "Total number of ingestion runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		columnFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_column_fallback_total",
				Help: "Columns dropped from a write because the backend schema lacks them.",
			},
			[]string{"table", "column"},
		)

		imagesUploadedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storefront_images_uploaded_total",
				Help: "Total number of image files written to object storage.",
			},
		)

		imageReconciliationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_image_reconciliations_total",
				Help: "Image set reconciliations, labeled by outcome (changed, unchanged, failed).",
			},
			[]string{"outcome"},
		)

		catalogCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_catalog_cache_total",
				Help: "Catalog cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		ledgerAbandonedTasksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storefront_ledger_abandoned_tasks_total",
				Help: "Running ingest tasks marked failed by the janitor.",
			},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_rate_limited_total",
				Help: "Requests rejected by a rate limiter, labeled by scope.",
			},
			[]string{"scope"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveIngestRun counts one finished ingestion run.
func ObserveIngestRun(outcome string) {
	Init()
	ingestRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveColumnFallback counts a column dropped during schema negotiation.
func ObserveColumnFallback(table, column string) {
	Init()
	columnFallbackTotal.WithLabelValues(table, column).Inc()
}

// ObserveImagesUploaded adds n uploaded files.
func ObserveImagesUploaded(n int) {
	Init()
	if n > 0 {
		imagesUploadedTotal.Add(float64(n))
	}
}

// ObserveImageReconciliation counts one reconciliation.
func ObserveImageReconciliation(outcome string) {
	Init()
	imageReconciliationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCatalogCache counts a cache hit or miss.
func ObserveCatalogCache(result string) {
	Init()
	catalogCacheTotal.WithLabelValues(result).Inc()
}

// ObserveAbandonedTasks adds n tasks swept by the janitor.
func ObserveAbandonedTasks(n int) {
	Init()
	if n > 0 {
		ledgerAbandonedTasksTotal.Add(float64(n))
	}
}

// ObserveRateLimited counts one request rejected in scope.
func ObserveRateLimited(scope string) {
	Init()
	rateLimitedTotal.WithLabelValues(scope).Inc()
}
