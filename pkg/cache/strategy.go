package cache

import (
	"fmt"
	"time"
)

// InvalidationMode describes how entries stored under a strategy are removed.
type InvalidationMode string

const (
	// InvalidateTime removes entries by TTL expiry only.
	InvalidateTime InvalidationMode = "time"

	// InvalidateManual removes entries only via explicit Delete calls.
	InvalidateManual InvalidationMode = "manual"

	// InvalidateTag removes entries via InvalidateByTags in addition to TTL expiry.
	InvalidateTag InvalidationMode = "tag"
)

// Priority is the retention priority of a strategy's entries.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Strategy is an immutable cache configuration, looked up by name.
type Strategy struct {
	// Name identifies the strategy in operations and metrics.
	Name string

	// TTL is how long entries stored under this strategy stay valid.
	TTL time.Duration

	// MaxEntrySize is the maximum serialized entry size in bytes.
	// Set rejects larger values without mutating the store.
	MaxEntrySize int

	// Compress enables gzip compression of the stored bytes.
	Compress bool

	// Invalidation is the invalidation mode for this strategy.
	Invalidation InvalidationMode

	// Priority is the retention priority of entries.
	Priority Priority
}

// Validate checks that the strategy is usable.
func (s Strategy) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if s.TTL <= 0 {
		return fmt.Errorf("strategy %q: ttl must be positive", s.Name)
	}
	if s.MaxEntrySize <= 0 {
		return fmt.Errorf("strategy %q: max entry size must be positive", s.Name)
	}
	switch s.Invalidation {
	case InvalidateTime, InvalidateManual, InvalidateTag:
	default:
		return fmt.Errorf("strategy %q: unknown invalidation mode %q", s.Name, s.Invalidation)
	}
	return nil
}

// Built-in strategy names.
const (
	StrategyKundli    = "kundli"
	StrategyDashas    = "dashas"
	StrategyPanchang  = "panchang"
	StrategyGeocoding = "geocoding"
	StrategyAnalytics = "analytics"
)

// DefaultStrategies returns the built-in strategy set.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:         StrategyKundli,
			TTL:          24 * time.Hour,
			MaxEntrySize: 1 << 20, // 1 MB
			Compress:     true,
			Invalidation: InvalidateTag,
			Priority:     PriorityHigh,
		},
		{
			Name:         StrategyDashas,
			TTL:          1 * time.Hour,
			MaxEntrySize: 512 << 10,
			Compress:     true,
			Invalidation: InvalidateTime,
			Priority:     PriorityMedium,
		},
		{
			Name:         StrategyPanchang,
			TTL:          30 * time.Minute,
			MaxEntrySize: 256 << 10,
			Compress:     false,
			Invalidation: InvalidateTime,
			Priority:     PriorityLow,
		},
		{
			Name:         StrategyGeocoding,
			TTL:          7 * 24 * time.Hour,
			MaxEntrySize: 128 << 10,
			Compress:     false,
			Invalidation: InvalidateManual,
			Priority:     PriorityHigh,
		},
		{
			Name:         StrategyAnalytics,
			TTL:          5 * time.Minute,
			MaxEntrySize: 64 << 10,
			Compress:     true,
			Invalidation: InvalidateTime,
			Priority:     PriorityLow,
		},
	}
}
