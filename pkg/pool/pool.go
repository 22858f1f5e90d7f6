// Package pool provides a fixed-size pool of reusable execution slots with
// advisory health tracking. The pool is admission control, not connection
// management: slots are bookkeeping positions in an arena, never destroyed,
// only recycled between available/busy and demoted/promoted in health.
package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sidereal-labs/jyotish-client/pkg/logging"
)

// ErrNoCapacity indicates no usable slot is free. Acquire fails fast rather
// than queueing; callers treat this as a retryable condition.
var ErrNoCapacity = errors.New("connection pool: no capacity")

// Prometheus metrics for pool state.
var (
	poolSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jyotish_pool_slots_in_use",
		Help: "Number of pool slots currently acquired",
	})

	poolAcquireFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jyotish_pool_acquire_failures_total",
		Help: "Total number of fail-fast acquisitions with no free slot",
	})

	poolUnhealthySlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jyotish_pool_unhealthy_slots",
		Help: "Number of slots currently marked unhealthy",
	})
)

// Health is the advisory health state of a slot.
type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// Slot is one reusable execution slot. Exposed copies are snapshots; all
// mutation happens inside the pool under its lock.
type Slot struct {
	// ID is the slot's position in the arena.
	ID int

	// Available reports whether the slot is free.
	Available bool

	// Health is the advisory health state.
	Health Health

	// LastUsedAt is when the slot was last released.
	LastUsedAt time.Time

	// RequestCount is the number of times the slot has been acquired.
	RequestCount int64

	// ErrorCount is the number of failed executions on the slot.
	ErrorCount int64

	// LastResponseTime is the duration of the most recent execution.
	LastResponseTime time.Duration
}

// Config holds pool configuration.
type Config struct {
	// Size is the fixed number of slots.
	Size int

	// DegradedThreshold demotes a slot to degraded when its last response
	// time meets or exceeds it.
	DegradedThreshold time.Duration

	// UnhealthyThreshold demotes a slot to unhealthy when its last
	// response time meets or exceeds it.
	UnhealthyThreshold time.Duration

	// RecoveryInterval is how long an unhealthy slot rests before it is
	// probed again (re-admitted as degraded).
	RecoveryInterval time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:               200,
		DegradedThreshold:  2 * time.Second,
		UnhealthyThreshold: 10 * time.Second,
		RecoveryInterval:   30 * time.Second,
	}
}

// Pool is a fixed arena of slots indexed by position.
type Pool struct {
	mu     sync.Mutex
	slots  []Slot
	config Config
	logger zerolog.Logger

	// now is the pool clock. Overridable in tests.
	now func() time.Time
}

// New creates a pool with cfg.Size slots, all healthy and available.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = DefaultConfig().UnhealthyThreshold
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultConfig().RecoveryInterval
	}

	slots := make([]Slot, cfg.Size)
	for i := range slots {
		slots[i] = Slot{
			ID:        i,
			Available: true,
			Health:    Healthy,
		}
	}

	return &Pool{
		slots:  slots,
		config: cfg,
		logger: logging.NewLogger("pool"),
		now:    time.Now,
	}
}

// Size returns the fixed slot count.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire returns the index of the first available, non-unhealthy slot and
// marks it busy. It never blocks: with no usable slot it returns
// ErrNoCapacity immediately. An unhealthy slot that has rested for the
// recovery interval is re-admitted as degraded.
func (p *Pool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := range p.slots {
		slot := &p.slots[i]
		if !slot.Available {
			continue
		}

		if slot.Health == Unhealthy {
			if now.Sub(slot.LastUsedAt) < p.config.RecoveryInterval {
				continue
			}
			slot.Health = Degraded
			poolUnhealthySlots.Dec()
			p.logger.Debug().Int("slot", slot.ID).Msg("Unhealthy slot re-admitted for probing")
		}

		slot.Available = false
		slot.RequestCount++
		poolSlotsInUse.Inc()
		return slot.ID, nil
	}

	poolAcquireFailures.Inc()
	return -1, ErrNoCapacity
}

// Release returns the slot to the pool, stamps its usage time, and updates
// its health from the observed response time. failed additionally bumps the
// slot's error count.
func (p *Pool) Release(id int, responseTime time.Duration, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.slots) {
		return
	}

	slot := &p.slots[id]
	if slot.Available {
		// Double release; nothing to do.
		return
	}

	slot.Available = true
	slot.LastUsedAt = p.now()
	slot.LastResponseTime = responseTime
	if failed {
		slot.ErrorCount++
	}

	prev := slot.Health
	switch {
	case responseTime >= p.config.UnhealthyThreshold:
		slot.Health = Unhealthy
	case responseTime >= p.config.DegradedThreshold:
		slot.Health = Degraded
	default:
		slot.Health = Healthy
	}

	if prev != slot.Health {
		if slot.Health == Unhealthy {
			poolUnhealthySlots.Inc()
		} else if prev == Unhealthy {
			poolUnhealthySlots.Dec()
		}
		p.logger.Warn().
			Int("slot", id).
			Str("from", string(prev)).
			Str("to", string(slot.Health)).
			Dur("response_time", responseTime).
			Msg("Slot health changed")
	}

	poolSlotsInUse.Dec()
}

// SlotInfo returns a snapshot of the slot at the given index.
func (p *Pool) SlotInfo(id int) (Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.slots) {
		return Slot{}, false
	}
	return p.slots[id], true
}

// Stats summarizes pool occupancy and health.
type Stats struct {
	Size      int
	Available int
	InUse     int
	Degraded  int
	Unhealthy int
}

// Stats returns a snapshot of pool occupancy and health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{Size: len(p.slots)}
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.Available {
			stats.Available++
		} else {
			stats.InUse++
		}
		switch slot.Health {
		case Degraded:
			stats.Degraded++
		case Unhealthy:
			stats.Unhealthy++
		}
	}
	return stats
}
