package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by strategy
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jyotish_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"strategy"},
	)

	// CacheMisses tracks cache misses by strategy
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jyotish_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"strategy"},
	)

	// CacheRejects tracks entries rejected for exceeding the strategy size limit
	CacheRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jyotish_cache_rejects_total",
			Help: "Total number of cache writes rejected as oversize",
		},
		[]string{"strategy"},
	)

	// CacheInvalidations tracks entries removed by tag invalidation
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jyotish_cache_invalidations_total",
			Help: "Total number of cache entries removed by tag invalidation",
		},
	)

	// CacheErrors tracks cache backend errors that were degraded to misses/no-ops
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jyotish_cache_errors_total",
			Help: "Total number of cache backend errors (degraded, not propagated)",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)

	// CacheEntryBytes tracks serialized entry sizes by strategy
	CacheEntryBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jyotish_cache_entry_bytes",
			Help:    "Serialized (uncompressed) cache entry size in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"strategy"},
	)
)
