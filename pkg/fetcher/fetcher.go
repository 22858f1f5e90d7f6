// Package fetcher orchestrates one logical chart request end-to-end through
// coalescing, cache, circuit breaker, connection pool, the upstream call,
// and retry with exponential backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sidereal-labs/jyotish-client/pkg/breaker"
	"github.com/sidereal-labs/jyotish-client/pkg/cache"
	"github.com/sidereal-labs/jyotish-client/pkg/coalesce"
	"github.com/sidereal-labs/jyotish-client/pkg/logging"
	"github.com/sidereal-labs/jyotish-client/pkg/pool"
	"github.com/sidereal-labs/jyotish-client/pkg/provider"
)

// ResultSink receives successful results for durable storage. The payload
// is opaque to this core.
type ResultSink interface {
	StoreResult(ctx context.Context, key string, payload []byte) error
}

// Config holds the fetcher configuration.
type Config struct {
	// Endpoint names the upstream operation for breaker isolation and
	// request signatures.
	Endpoint string

	// CacheStrategy is the cache strategy for computed charts.
	CacheStrategy string

	// CallTimeout bounds each individual upstream attempt.
	CallTimeout time.Duration

	// Retry is the retry policy.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:      "compute-chart",
		CacheStrategy: cache.StrategyKundli,
		CallTimeout:   30 * time.Second,
		Retry:         DefaultRetryConfig(),
	}
}

// Fetcher runs single logical requests with full resilience handling. All
// collaborators are constructor-injected; one fetcher is created per
// process and shared by callers.
type Fetcher struct {
	computer  provider.ChartComputer
	cache     *cache.Store
	breakers  *breaker.Registry
	pool      *pool.Pool
	coalescer *coalesce.Group
	sink      ResultSink
	config    Config
	logger    zerolog.Logger
}

// New creates a fetcher.
func New(computer provider.ChartComputer, store *cache.Store, breakers *breaker.Registry,
	slots *pool.Pool, coalescer *coalesce.Group, cfg Config) (*Fetcher, error) {

	if computer == nil {
		return nil, fmt.Errorf("chart computer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if breakers == nil {
		return nil, fmt.Errorf("breaker registry is required")
	}
	if slots == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if coalescer == nil {
		return nil, fmt.Errorf("request coalescer is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultConfig().Endpoint
	}
	if cfg.CacheStrategy == "" {
		cfg.CacheStrategy = DefaultConfig().CacheStrategy
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Fetcher{
		computer:  computer,
		cache:     store,
		breakers:  breakers,
		pool:      slots,
		coalescer: coalescer,
		config:    cfg,
		logger:    logging.NewLogger("fetcher"),
	}, nil
}

// SetResultSink installs the persistence collaborator. Hand-off failures
// are logged, never surfaced: durable storage is downstream of this core.
func (f *Fetcher) SetResultSink(sink ResultSink) {
	f.sink = sink
}

// Fetch runs one logical chart request.
//
// Order of checks: breaker fast-path first (an open breaker fails the
// request before any cache miss is counted), then coalescing, then cache,
// then the retrying upstream path.
func (f *Fetcher) Fetch(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
	if err := params.Validate(); err != nil {
		fetchErrorsTotal.WithLabelValues(string(KindValidation)).Inc()
		return nil, &Error{Kind: KindValidation, Endpoint: f.config.Endpoint, Err: err}
	}

	brk := f.breakers.Get(f.config.Endpoint)
	if !brk.Allow() {
		fetchTotal.WithLabelValues("error").Inc()
		fetchErrorsTotal.WithLabelValues(string(KindCircuitOpen)).Inc()
		return nil, &Error{Kind: KindCircuitOpen, Endpoint: f.config.Endpoint}
	}

	sig := coalesce.Signature{
		Method: "compute",
		Target: f.config.Endpoint,
		Params: params.CanonicalParams(),
	}

	result, shared, err := f.coalescer.Do(ctx, sig, func(ctx context.Context) (any, error) {
		return f.fetchUncoalesced(ctx, brk, params)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		f.logger.Debug().Str("endpoint", f.config.Endpoint).Msg("Attached to in-flight request")
	}

	chart, ok := result.(*provider.ChartResult)
	if !ok {
		return nil, fmt.Errorf("unexpected coalesced result type %T", result)
	}
	return chart, nil
}

// fetchUncoalesced is the body of a coalesced call: cache check, then the
// retry loop around single attempts.
func (f *Fetcher) fetchUncoalesced(ctx context.Context, brk *breaker.Breaker, params provider.BirthParams) (*provider.ChartResult, error) {
	cacheKey := params.CacheKey()

	var cached provider.ChartResult
	if f.cache.Get(ctx, cacheKey, f.config.CacheStrategy, &cached) {
		// A hit bypasses breaker and pool entirely.
		fetchTotal.WithLabelValues("cache_hit").Inc()
		return &cached, nil
	}

	// Explicit retry state machine: attempt counter plus a computed delay,
	// driven by a plain loop with a context-aware sleep.
	var lastErr error
	for attempt := 0; attempt < f.config.Retry.MaxAttempts; attempt++ {
		result, err := f.attempt(ctx, brk, params)
		if err == nil {
			if attempt > 0 {
				f.logger.Info().
					Str("endpoint", f.config.Endpoint).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			f.finish(ctx, cacheKey, params, result)
			fetchTotal.WithLabelValues("success").Inc()
			return result, nil
		}

		lastErr = err

		var fe *Error
		if errors.As(err, &fe) && !fe.Retryable() {
			fetchTotal.WithLabelValues("error").Inc()
			fetchErrorsTotal.WithLabelValues(string(fe.Kind)).Inc()
			return nil, err
		}

		if attempt >= f.config.Retry.MaxAttempts-1 {
			break
		}

		delay := f.config.Retry.backoffFor(attempt)
		retriesTotal.WithLabelValues(string(KindOf(err))).Inc()
		retryBackoffSeconds.Observe(delay.Seconds())

		f.logger.Warn().
			Err(err).
			Str("endpoint", f.config.Endpoint).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			fetchTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("context done during retry backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	retryExhaustedTotal.Inc()
	fetchTotal.WithLabelValues("error").Inc()
	fetchErrorsTotal.WithLabelValues(string(KindRetryExhausted)).Inc()

	f.logger.Error().
		Err(lastErr).
		Str("endpoint", f.config.Endpoint).
		Int("max_attempts", f.config.Retry.MaxAttempts).
		Msg("Retry attempts exhausted")

	return nil, &Error{
		Kind:     KindRetryExhausted,
		Endpoint: f.config.Endpoint,
		Attempts: f.config.Retry.MaxAttempts,
		Err:      lastErr,
	}
}

// attempt runs one upstream attempt: pool slot, breaker-guarded call under
// timeout, slot release with health feedback.
func (f *Fetcher) attempt(ctx context.Context, brk *breaker.Breaker, params provider.BirthParams) (*provider.ChartResult, error) {
	slotID, err := f.pool.Acquire()
	if err != nil {
		// Local saturation, not upstream health: retryable, but not
		// reported to the breaker.
		return nil, &Error{Kind: KindCapacityExhausted, Endpoint: f.config.Endpoint, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, f.config.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := brk.Execute(func() (any, error) {
		return f.computer.ComputeChart(callCtx, params)
	})
	elapsed := time.Since(start)

	f.pool.Release(slotID, elapsed, err != nil)

	if err != nil {
		return nil, f.classify(err)
	}

	chart, ok := result.(*provider.ChartResult)
	if !ok {
		return nil, &Error{Kind: KindUpstreamError, Endpoint: f.config.Endpoint,
			Err: fmt.Errorf("unexpected result type %T", result)}
	}
	return chart, nil
}

// classify maps raw attempt errors into the taxonomy.
func (f *Fetcher) classify(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &Error{Kind: KindCircuitOpen, Endpoint: f.config.Endpoint, Err: err}
	case provider.IsTimeout(err):
		return &Error{Kind: KindUpstreamTimeout, Endpoint: f.config.Endpoint, Err: err}
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && apiErr.Class == provider.ErrorClassClient {
		// The upstream judged our input malformed: fatal, never retried.
		return &Error{Kind: KindValidation, Endpoint: f.config.Endpoint, Err: err}
	}

	return &Error{Kind: KindUpstreamError, Endpoint: f.config.Endpoint, Err: err}
}

// finish caches the fresh result and hands it to the persistence sink.
func (f *Fetcher) finish(ctx context.Context, cacheKey string, params provider.BirthParams, result *provider.ChartResult) {
	f.cache.Set(ctx, cacheKey, result, f.config.CacheStrategy, "charts", "date:"+params.Date)

	if f.sink != nil && len(result.Raw) > 0 {
		if err := f.sink.StoreResult(ctx, cacheKey, result.Raw); err != nil {
			f.logger.Warn().Err(err).Str("key", cacheKey).Msg("Result persistence hand-off failed")
		}
	}
}
