// Package ratelimit implements caller-side pacing toward the computation
// provider. The provider publishes no budget headers; the contract is
// simply "about one call per second", enforced here with a token bucket so
// bursts queue instead of hammering the upstream.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	pacerWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jyotish_pacer_waits_total",
		Help: "Total number of requests that had to wait for a pacing token",
	})

	pacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jyotish_pacer_wait_seconds",
		Help:    "Time spent waiting for a pacing token",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// Pacer gates requests with a token bucket.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer allowing requestsPerSecond sustained throughput
// with the given burst capacity.
func NewPacer(requestsPerSecond float64, burst int) (*Pacer, error) {
	if requestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive (got %v)", requestsPerSecond)
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be at least 1 (got %d)", burst)
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}, nil
}

// Wait blocks until a token is available or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}

	if waited := time.Since(start); waited > time.Millisecond {
		pacerWaitsTotal.Inc()
		pacerWaitSeconds.Observe(waited.Seconds())
	}
	return nil
}

// Allow reports whether a token is immediately available, consuming it if so.
func (p *Pacer) Allow() bool {
	return p.limiter.Allow()
}
