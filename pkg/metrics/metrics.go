// Package metrics exposes Prometheus collectors for upstream calls and the
// analysis cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kotoba"

var (
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Total number of resilient upstream calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of upstream retries",
		},
		[]string{"operation"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of caller-facing errors by category",
		},
		[]string{"category"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Duration of resilient upstream calls including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of analysis cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted from the analysis cache",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of entries in the analysis cache",
		},
	)
)

// RecordCall records the outcome and total latency of one resilient call.
func RecordCall(operation, outcome string, d time.Duration) {
	UpstreamCalls.WithLabelValues(operation, outcome).Inc()
	UpstreamLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRetry records a single retry of an upstream call.
func RecordRetry(operation string) {
	UpstreamRetries.WithLabelValues(operation).Inc()
}

// RecordError records a normalized caller-facing error.
func RecordError(category string) {
	Errors.WithLabelValues(category).Inc()
}

// RecordCacheHit records a cache hit.
func RecordCacheHit() {
	CacheRequests.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	CacheRequests.WithLabelValues("miss").Inc()
}

// RecordCacheEviction records one evicted cache entry.
func RecordCacheEviction() {
	CacheEvictions.Inc()
}

// UpdateCacheEntries sets the current cache size.
func UpdateCacheEntries(n int) {
	CacheEntries.Set(float64(n))
}
