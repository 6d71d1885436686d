// Package metrics holds the Prometheus instrumentation of the summary service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Overview cache

	// OverviewCacheHits counts overview reads served from storage, by granularity.
	OverviewCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_overview_cache_hits_total",
			Help: "Total number of overview reads found in storage",
		},
		[]string{"granularity"},
	)

	// OverviewCacheMisses counts overview reads that found nothing stored, by granularity.
	OverviewCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_overview_cache_misses_total",
			Help: "Total number of overview reads not found in storage",
		},
		[]string{"granularity"},
	)

	// OverviewComputations counts overview recomputations, by granularity.
	OverviewComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_overview_computations_total",
			Help: "Total number of overviews computed",
		},
		[]string{"granularity"},
	)

	// OverviewComputeDuration tracks how long overview computation takes, by granularity.
	OverviewComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "summary_overview_compute_duration_seconds",
			Help:    "Duration of overview computation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"granularity"},
	)

	// OverviewPrunedWrites counts empty overviews not stored because they fall outside the data range.
	OverviewPrunedWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_overview_pruned_writes_total",
			Help: "Total number of empty overviews skipped instead of stored",
		},
		[]string{"granularity"},
	)

	// Product metadata cache

	// ProductCacheHits counts product metadata lookups served from the in-process cache.
	ProductCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_product_cache_hits_total",
			Help: "Total number of product metadata cache hits",
		},
	)

	// ProductCacheMisses counts product metadata lookups that went to storage.
	ProductCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_product_cache_misses_total",
			Help: "Total number of product metadata cache misses",
		},
	)

	// ProductCacheInvalidations counts explicit invalidations after metadata writes.
	ProductCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_product_cache_invalidations_total",
			Help: "Total number of product metadata cache invalidations",
		},
	)

	// Refresh

	// ProductRefreshes counts product extent refreshes by outcome (refreshed, skipped, failed).
	ProductRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_product_refreshes_total",
			Help: "Total number of product extent refresh attempts",
		},
		[]string{"outcome"},
	)

	// DatasetsReceived counts datasets accepted by the ingest endpoint, before indexing.
	DatasetsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_datasets_received_total",
			Help: "Total number of datasets accepted for indexing",
		},
	)

	// DatasetsIndexed counts datasets newly indexed by extent refreshes.
	DatasetsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_datasets_indexed_total",
			Help: "Total number of datasets newly indexed by refreshes",
		},
	)

	// HTTP

	// HTTPRequests counts served requests, by route template, method and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks request latency, by route template and method.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "summary_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
