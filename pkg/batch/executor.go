// Package batch executes groups of chart requests with bounded concurrency,
// priority ordering, and partial-failure tolerance. One failed unit never
// aborts its batch; every unit settles with either a chart or an error.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sidereal-labs/jyotish-client/pkg/logging"
	"github.com/sidereal-labs/jyotish-client/pkg/provider"
)

// ErrEmptyBatch indicates a batch with no units.
var ErrEmptyBatch = errors.New("batch: no units")

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jyotish_batches_total",
		Help: "Total number of executed batches",
	})

	batchUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_batch_units_total",
		Help: "Total batch units by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jyotish_batch_duration_seconds",
		Help:    "Wall-clock duration of whole batches",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})
)

// ChartFetcher is the single-request dependency of the executor.
type ChartFetcher interface {
	Fetch(ctx context.Context, params provider.BirthParams) (*provider.ChartResult, error)
}

// Config holds executor configuration.
type Config struct {
	// MaxConcurrency bounds units running at once. Units are dispatched in
	// chunks of this size; a chunk starts only after the previous one fully
	// settles.
	MaxConcurrency int

	// Parallel runs units within a chunk concurrently. When false, units
	// run one at a time in priority order.
	Parallel bool
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		Parallel:       true,
	}
}

// Result is the outcome of one batch.
type Result struct {
	BatchID   string
	Units     []UnitResult
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Executor runs batches of chart requests against a fetcher.
type Executor struct {
	fetcher ChartFetcher
	tracker *Tracker
	config  Config
	logger  zerolog.Logger
}

// NewExecutor creates a batch executor. tracker may be nil when progress
// reporting is not needed.
func NewExecutor(f ChartFetcher, tracker *Tracker, cfg Config) (*Executor, error) {
	if f == nil {
		return nil, fmt.Errorf("chart fetcher is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	return &Executor{
		fetcher: f,
		tracker: tracker,
		config:  cfg,
		logger:  logging.NewLogger("batch"),
	}, nil
}

// Execute runs all units and returns one result per unit, in the input
// order. Invalid units settle immediately with a validation error; they are
// never dispatched. Higher-priority units are dispatched strictly before
// lower-priority ones.
func (e *Executor) Execute(ctx context.Context, units []Unit) (*Result, error) {
	if len(units) == 0 {
		return nil, ErrEmptyBatch
	}

	batchID := uuid.NewString()
	start := time.Now()
	batchesTotal.Inc()

	if e.tracker != nil {
		e.tracker.start(batchID, len(units))
	}

	e.logger.Info().
		Str("batch_id", batchID).
		Int("units", len(units)).
		Int("max_concurrency", e.config.MaxConcurrency).
		Msg("Batch started")

	// index pairs a unit with its position in the input so results come
	// back in submission order regardless of dispatch order.
	type indexed struct {
		idx  int
		unit Unit
	}

	results := make([]UnitResult, len(units))
	runnable := make([]indexed, 0, len(units))

	for i, u := range units {
		ensureUnitID(&u)
		if err := u.Params.Validate(); err != nil {
			results[i] = UnitResult{
				UnitID:   u.ID,
				Priority: u.Priority,
				Err:      fmt.Errorf("unit %s: %w", u.ID, err),
			}
			batchUnitsTotal.WithLabelValues("invalid").Inc()
			if e.tracker != nil {
				e.tracker.unitSettled(batchID, true)
			}
			continue
		}
		runnable = append(runnable, indexed{idx: i, unit: u})
	}

	// Stable sort keeps submission order among equal priorities.
	sort.SliceStable(runnable, func(i, j int) bool {
		return runnable[i].unit.Priority > runnable[j].unit.Priority
	})

	for chunkStart := 0; chunkStart < len(runnable); chunkStart += e.config.MaxConcurrency {
		chunkEnd := chunkStart + e.config.MaxConcurrency
		if chunkEnd > len(runnable) {
			chunkEnd = len(runnable)
		}
		chunk := runnable[chunkStart:chunkEnd]

		if err := ctx.Err(); err != nil {
			for _, item := range chunk {
				results[item.idx] = UnitResult{
					UnitID:   item.unit.ID,
					Priority: item.unit.Priority,
					Err:      fmt.Errorf("unit %s: batch interrupted: %w", item.unit.ID, err),
				}
				batchUnitsTotal.WithLabelValues("interrupted").Inc()
				if e.tracker != nil {
					e.tracker.unitSettled(batchID, true)
				}
			}
			continue
		}

		if e.config.Parallel {
			var wg sync.WaitGroup
			for _, item := range chunk {
				wg.Add(1)
				go func(item indexed) {
					defer wg.Done()
					results[item.idx] = e.runUnit(ctx, batchID, item.unit)
				}(item)
			}
			wg.Wait()
		} else {
			for _, item := range chunk {
				results[item.idx] = e.runUnit(ctx, batchID, item.unit)
			}
		}
	}

	result := &Result{
		BatchID:  batchID,
		Units:    results,
		Duration: time.Since(start),
	}
	for _, r := range results {
		if r.Succeeded() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	batchDuration.Observe(result.Duration.Seconds())

	e.logger.Info().
		Str("batch_id", batchID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Batch finished")

	return result, nil
}

// Progress returns the snapshot for a tracked batch.
func (e *Executor) Progress(batchID string) (Progress, error) {
	if e.tracker == nil {
		return Progress{}, ErrBatchNotFound
	}
	return e.tracker.Progress(batchID)
}

func (e *Executor) runUnit(ctx context.Context, batchID string, u Unit) UnitResult {
	if e.tracker != nil {
		e.tracker.unitStarted(batchID)
	}

	u.Attempts++
	u.LastAttemptAt = time.Now()

	start := time.Now()
	chart, err := e.fetcher.Fetch(ctx, u.Params)
	elapsed := time.Since(start)

	r := UnitResult{
		UnitID:   u.ID,
		Priority: u.Priority,
		Chart:    chart,
		Duration: elapsed,
	}
	if err != nil {
		r.Err = fmt.Errorf("unit %s: %w", u.ID, err)
		r.Chart = nil
		batchUnitsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn().
			Err(err).
			Str("batch_id", batchID).
			Str("unit_id", u.ID).
			Str("priority", u.Priority.String()).
			Msg("Batch unit failed")
	} else {
		batchUnitsTotal.WithLabelValues("succeeded").Inc()
	}

	if e.tracker != nil {
		e.tracker.unitSettled(batchID, err != nil)
	}
	return r
}
