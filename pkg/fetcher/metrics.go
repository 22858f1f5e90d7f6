package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchTotal tracks logical requests by outcome.
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_fetch_total",
		Help: "Total logical fetch requests by outcome (cache_hit, success, error)",
	}, []string{"outcome"})

	// fetchErrorsTotal tracks terminal failures by kind.
	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_fetch_errors_total",
		Help: "Total terminal fetch failures by kind",
	}, []string{"kind"})

	// retriesTotal tracks retry attempts by failure kind.
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_retries_total",
		Help: "Total retry attempts by failure kind",
	}, []string{"kind"})

	// retryBackoffSeconds tracks backoff durations.
	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jyotish_retry_backoff_seconds",
		Help:    "Backoff duration between retry attempts",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	// retryExhaustedTotal counts requests that ran out of attempts.
	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jyotish_retry_exhausted_total",
		Help: "Total number of requests that exhausted all retry attempts",
	})
)
