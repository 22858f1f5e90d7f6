package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sidereal-labs/jyotish-client/pkg/breaker"
	"github.com/sidereal-labs/jyotish-client/pkg/cache"
	"github.com/sidereal-labs/jyotish-client/pkg/coalesce"
	"github.com/sidereal-labs/jyotish-client/pkg/pool"
	"github.com/sidereal-labs/jyotish-client/pkg/provider"
)

// stubComputer is a scriptable in-process chart computer.
type stubComputer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error)
}

func (s *stubComputer) ComputeChart(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
	s.calls.Add(1)
	return s.fn(ctx, params)
}

func okChart() *provider.ChartResult {
	return &provider.ChartResult{
		Ascendant: "Mesha",
		Raw:       []byte(`{"ascendant":"Mesha"}`),
	}
}

func serverError() error {
	return &provider.APIError{
		StatusCode: http.StatusInternalServerError,
		Class:      provider.ErrorClassServer,
		Message:    "boom",
	}
}

func testParams() provider.BirthParams {
	return provider.BirthParams{
		Date:           "1990-06-15",
		Time:           "05:45",
		Latitude:       27.7172,
		Longitude:      85.3240,
		TimezoneOffset: 5.75,
	}
}

type fetcherDeps struct {
	store    *cache.Store
	breakers *breaker.Registry
	slots    *pool.Pool
}

func newTestFetcher(t *testing.T, computer provider.ChartComputer, cfg Config) (*Fetcher, fetcherDeps) {
	t.Helper()

	deps := fetcherDeps{
		store:    cache.NewStore(cache.NewMemoryBackend()),
		breakers: breaker.NewRegistry(breaker.Config{FailureThreshold: 5, OpenDuration: time.Minute}),
		slots:    pool.New(pool.Config{Size: 10}),
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = RetryConfig{MaxAttempts: 1, BaseBackoff: time.Millisecond}
	}

	f, err := New(computer, deps.store, deps.breakers, deps.slots, coalesce.New(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f, deps
}

func TestFetcher_Success(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return okChart(), nil
	}}
	f, deps := newTestFetcher(t, computer, Config{})

	result, err := f.Fetch(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Ascendant != "Mesha" {
		t.Errorf("Ascendant = %q, want Mesha", result.Ascendant)
	}

	// Success writes through to the cache under the input-hash key.
	var cached provider.ChartResult
	if !deps.store.Get(context.Background(), testParams().CacheKey(), cache.StrategyKundli, &cached) {
		t.Error("successful result not cached")
	}

	// The pool slot must be back.
	if stats := deps.slots.Stats(); stats.InUse != 0 {
		t.Errorf("pool slots in use after success = %d, want 0", stats.InUse)
	}
}

func TestFetcher_CacheHitBypassesUpstream(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return okChart(), nil
	}}
	f, _ := newTestFetcher(t, computer, Config{})

	params := testParams()
	if _, err := f.Fetch(context.Background(), params); err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	if _, err := f.Fetch(context.Background(), params); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}

	if n := computer.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1 (second request served from cache)", n)
	}
}

func TestFetcher_RetriesThenSucceeds(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		if failures.Add(-1) >= 0 {
			return nil, serverError()
		}
		return okChart(), nil
	}}

	f, _ := newTestFetcher(t, computer, Config{
		Retry: RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond},
	})

	result, err := f.Fetch(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result == nil {
		t.Fatal("Fetch returned nil result")
	}
	if n := computer.calls.Load(); n != 3 {
		t.Errorf("upstream called %d times, want 3 (2 failures + success)", n)
	}
}

func TestFetcher_RetryExhausted(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return nil, serverError()
	}}

	f, _ := newTestFetcher(t, computer, Config{
		Retry: RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond},
	})

	_, err := f.Fetch(context.Background(), testParams())
	if !IsRetryExhausted(err) {
		t.Fatalf("err = %v, want retry_exhausted", err)
	}

	var fe *Error
	errors.As(err, &fe)
	if fe.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", fe.Attempts)
	}

	// The terminal wrapper carries the last underlying cause.
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Error("terminal error does not unwrap to the upstream cause")
	}
	if n := computer.calls.Load(); n != 2 {
		t.Errorf("upstream called %d times, want 2", n)
	}
}

func TestFetcher_ValidationFailsFast(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return okChart(), nil
	}}
	f, _ := newTestFetcher(t, computer, Config{})

	params := testParams()
	params.Latitude = 200

	_, err := f.Fetch(context.Background(), params)
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	if n := computer.calls.Load(); n != 0 {
		t.Errorf("upstream called %d times for invalid input, want 0", n)
	}
}

func TestFetcher_UpstreamClientErrorNotRetried(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return nil, &provider.APIError{
			StatusCode: http.StatusBadRequest,
			Class:      provider.ErrorClassClient,
			Message:    "bad birth parameters",
		}
	}}

	f, _ := newTestFetcher(t, computer, Config{
		Retry: RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond},
	})

	_, err := f.Fetch(context.Background(), testParams())
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	if n := computer.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1 (4xx never retried)", n)
	}
}

func TestFetcher_CircuitOpensAndFailsFast(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return nil, serverError()
	}}
	f, _ := newTestFetcher(t, computer, Config{})

	// Use distinct params per call so neither cache nor coalescer interferes.
	params := testParams()
	dates := []string{"1990-01-01", "1990-01-02", "1990-01-03", "1990-01-04", "1990-01-05"}
	for _, date := range dates {
		params.Date = date
		if _, err := f.Fetch(context.Background(), params); err == nil {
			t.Fatal("Fetch succeeded against a failing upstream")
		}
	}

	if n := computer.calls.Load(); n != 5 {
		t.Fatalf("upstream called %d times, want 5", n)
	}

	// Breaker tripped at the threshold: the next call must not reach the
	// upstream at all.
	params.Date = "1990-01-06"
	_, err := f.Fetch(context.Background(), params)
	if !IsCircuitOpen(err) {
		t.Fatalf("err = %v, want circuit_open", err)
	}
	if n := computer.calls.Load(); n != 5 {
		t.Errorf("upstream called %d times after breaker opened, want still 5", n)
	}
}

func TestFetcher_CapacityExhaustedIsRetryable(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return okChart(), nil
	}}

	deps := fetcherDeps{
		store:    cache.NewStore(cache.NewMemoryBackend()),
		breakers: breaker.NewRegistry(breaker.Config{FailureThreshold: 5, OpenDuration: time.Minute}),
		slots:    pool.New(pool.Config{Size: 1}),
	}
	f, err := New(computer, deps.store, deps.breakers, deps.slots, coalesce.New(), Config{
		Retry: RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Hold the only slot so every attempt fails fast with no capacity.
	if _, err := deps.slots.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err = f.Fetch(context.Background(), testParams())
	if !IsRetryExhausted(err) {
		t.Fatalf("err = %v, want retry_exhausted", err)
	}

	var fe *Error
	errors.As(errors.Unwrap(err), &fe)
	if fe == nil || fe.Kind != KindCapacityExhausted {
		t.Errorf("underlying kind = %v, want capacity_exhausted", KindOf(errors.Unwrap(err)))
	}
	if n := computer.calls.Load(); n != 0 {
		t.Errorf("upstream called %d times with no capacity, want 0", n)
	}
}

func TestFetcher_TimeoutClassified(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	f, _ := newTestFetcher(t, computer, Config{
		CallTimeout: 20 * time.Millisecond,
		Retry:       RetryConfig{MaxAttempts: 1, BaseBackoff: time.Millisecond},
	})

	_, err := f.Fetch(context.Background(), testParams())
	if !IsRetryExhausted(err) {
		t.Fatalf("err = %v, want retry_exhausted", err)
	}
	if KindOf(errors.Unwrap(err)) != KindUpstreamTimeout {
		t.Errorf("underlying kind = %v, want upstream_timeout", KindOf(errors.Unwrap(err)))
	}
}

func TestFetcher_CoalescesConcurrentIdenticalRequests(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		once.Do(func() { close(started) })
		<-release
		return okChart(), nil
	}}
	f, _ := newTestFetcher(t, computer, Config{})

	var wg sync.WaitGroup
	results := make([]*provider.ChartResult, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.Fetch(context.Background(), testParams())
	}()

	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.Fetch(context.Background(), testParams())
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := computer.calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1 (identical requests coalesced)", n)
	}
	for i := range results {
		if errs[i] != nil {
			t.Errorf("caller %d error: %v", i, errs[i])
		}
		if results[i] == nil || results[i].Ascendant != "Mesha" {
			t.Errorf("caller %d result = %+v, want shared chart", i, results[i])
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (s *recordingSink) StoreResult(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string][]byte)
	}
	s.entries[key] = payload
	return nil
}

func TestFetcher_HandsResultToSink(t *testing.T) {
	computer := &stubComputer{fn: func(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error) {
		return okChart(), nil
	}}
	f, _ := newTestFetcher(t, computer, Config{})

	sink := &recordingSink{}
	f.SetResultSink(sink)

	if _, err := f.Fetch(context.Background(), testParams()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 1 {
		t.Errorf("sink received %d payloads, want 1", len(sink.entries))
	}
	if payload, ok := sink.entries[testParams().CacheKey()]; !ok || len(payload) == 0 {
		t.Error("sink payload missing or empty for the input-hash key")
	}
}
