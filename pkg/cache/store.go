package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sidereal-labs/jyotish-client/pkg/logging"
)

// Store is the strategy-driven cache facade. All operations degrade on
// backend failure: Get reports a miss, Set reports false, and neither ever
// returns a request-fatal error. One Store is created per process and
// passed explicitly to its users.
type Store struct {
	backend    Backend
	strategies map[string]Strategy
	stats      Stats
	logger     zerolog.Logger

	// now is the clock used for entry creation and expiry checks.
	// Overridable in tests.
	now func() time.Time
}

// NewStore creates a Store on the given backend with the built-in
// strategies registered.
func NewStore(backend Backend) *Store {
	if backend == nil {
		panic("cache backend cannot be nil")
	}

	strategies := make(map[string]Strategy)
	for _, s := range DefaultStrategies() {
		strategies[s.Name] = s
	}

	return &Store{
		backend:    backend,
		strategies: strategies,
		logger:     logging.NewLogger("cache"),
		now:        time.Now,
	}
}

// RegisterStrategy adds or replaces a strategy.
func (s *Store) RegisterStrategy(strategy Strategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}
	s.strategies[strategy.Name] = strategy
	return nil
}

// Strategy returns the registered strategy by name.
func (s *Store) Strategy(name string) (Strategy, bool) {
	strategy, ok := s.strategies[name]
	return strategy, ok
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Get loads the value stored under key into dest. Returns false on miss,
// expiry, unknown strategy, or any backend error. An expired entry is
// evicted as a side effect.
func (s *Store) Get(ctx context.Context, key, strategyName string, dest any) bool {
	start := time.Now()

	strategy, ok := s.strategies[strategyName]
	if !ok {
		s.logger.Warn().Str("strategy", strategyName).Msg("Get with unknown strategy")
		return false
	}

	fullKey := s.fullKey(strategy, key)

	entry, err := s.backend.Get(ctx, fullKey)
	if err != nil {
		if err != ErrNotFound {
			CacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache get error, degrading to miss")
		}
		s.miss(strategy, start)
		return false
	}

	if entry.IsExpiredAt(s.now()) {
		// Evict the stale entry; failure here is not the caller's problem.
		if _, err := s.backend.Delete(ctx, fullKey); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
		}
		s.miss(strategy, start)
		return false
	}

	data := entry.Data
	if entry.Compressed {
		data, err = decompress(data)
		if err != nil {
			CacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache decompress error, degrading to miss")
			s.miss(strategy, start)
			return false
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache decode error, degrading to miss")
		s.miss(strategy, start)
		return false
	}

	if err := s.backend.Touch(ctx, fullKey, s.now()); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
	}

	CacheHits.WithLabelValues(strategy.Name).Inc()
	s.stats.recordHit(time.Since(start))

	s.logger.Debug().
		Str("key", key).
		Str("strategy", strategy.Name).
		Msg("Cache hit")

	return true
}

// Set stores value under key per the strategy. Returns false (without
// mutating the store) when the serialized value exceeds the strategy's
// size limit, and on encode or backend errors.
func (s *Store) Set(ctx context.Context, key string, value any, strategyName string, tags ...string) bool {
	start := time.Now()

	strategy, ok := s.strategies[strategyName]
	if !ok {
		s.logger.Warn().Str("strategy", strategyName).Msg("Set with unknown strategy")
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache encode error, skipping set")
		return false
	}

	if len(raw) > strategy.MaxEntrySize {
		CacheRejects.WithLabelValues(strategy.Name).Inc()
		s.logger.Debug().
			Str("key", key).
			Str("strategy", strategy.Name).
			Int("size", len(raw)).
			Int("max", strategy.MaxEntrySize).
			Msg("Cache entry oversize, rejected")
		return false
	}

	data := raw
	compressed := false
	if strategy.Compress {
		data, err = compress(raw)
		if err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache compress error, skipping set")
			return false
		}
		compressed = true
	}

	now := s.now()
	entry := &Entry{
		Key:        key,
		Data:       data,
		Compressed: compressed,
		CreatedAt:  now,
		TTL:        strategy.TTL,
		Priority:   strategy.Priority,
		Tags:       tags,
		SizeBytes:  len(raw),
	}

	if err := s.backend.Set(ctx, s.fullKey(strategy, key), entry, strategy.TTL); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache set error, degrading to no-op")
		return false
	}

	CacheEntryBytes.WithLabelValues(strategy.Name).Observe(float64(len(raw)))
	s.stats.recordSet(time.Since(start))

	s.logger.Debug().
		Str("key", key).
		Str("strategy", strategy.Name).
		Dur("ttl", strategy.TTL).
		Int("size", len(raw)).
		Msg("Cached entry")

	return true
}

// Delete removes the entry under key. Reports whether an entry existed.
func (s *Store) Delete(ctx context.Context, key, strategyName string) bool {
	start := time.Now()

	strategy, ok := s.strategies[strategyName]
	if !ok {
		return false
	}

	existed, err := s.backend.Delete(ctx, s.fullKey(strategy, key))
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache delete error")
		return false
	}

	s.stats.recordDelete(time.Since(start))
	return existed
}

// InvalidateByTags removes every entry carrying any of the given tags and
// returns the number of entries removed.
func (s *Store) InvalidateByTags(ctx context.Context, tags ...string) int {
	if len(tags) == 0 {
		return 0
	}

	count, err := s.backend.DeleteByTags(ctx, tags)
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		s.logger.Warn().Err(err).Strs("tags", tags).Msg("Tag invalidation error")
		return 0
	}

	CacheInvalidations.Add(float64(count))
	s.logger.Info().Strs("tags", tags).Int("removed", count).Msg("Invalidated by tags")
	return count
}

// MGet loads multiple keys under one strategy. The result maps each hit key
// to its raw serialized value; missed keys are absent.
func (s *Store) MGet(ctx context.Context, strategyName string, keys ...string) map[string]json.RawMessage {
	results := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var raw json.RawMessage
		if s.Get(ctx, key, strategyName, &raw) {
			results[key] = raw
		}
	}
	return results
}

// MSet stores multiple key/value pairs under one strategy with shared tags.
// Returns the number of entries actually stored.
func (s *Store) MSet(ctx context.Context, strategyName string, values map[string]any, tags ...string) int {
	stored := 0
	for key, value := range values {
		if s.Set(ctx, key, value, strategyName, tags...) {
			stored++
		}
	}
	return stored
}

// fullKey namespaces the caller key by strategy.
func (s *Store) fullKey(strategy Strategy, key string) string {
	return fmt.Sprintf("jyotish:%s:%s", strategy.Name, key)
}

// miss records a miss against both metric surfaces.
func (s *Store) miss(strategy Strategy, start time.Time) {
	CacheMisses.WithLabelValues(strategy.Name).Inc()
	s.stats.recordMiss(time.Since(start))
}
