package cache

import (
	"sync"
	"time"
)

// latencyWindowSize bounds the sliding window used for the mean latency.
const latencyWindowSize = 256

// Stats tracks in-process counters for one Store. Prometheus metrics cover
// fleet-level observability; Stats exists for cheap local introspection
// (health endpoints, tests).
type Stats struct {
	mu      sync.Mutex
	hits    int64
	misses  int64
	sets    int64
	deletes int64

	// Ring buffer of the most recent operation latencies.
	window [latencyWindowSize]time.Duration
	next   int
	filled int
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Hits       int64
	Misses     int64
	Sets       int64
	Deletes    int64
	HitRate    float64
	AvgLatency time.Duration
}

func (s *Stats) recordHit(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.observeLocked(d)
}

func (s *Stats) recordMiss(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
	s.observeLocked(d)
}

func (s *Stats) recordSet(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.observeLocked(d)
}

func (s *Stats) recordDelete(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	s.observeLocked(d)
}

func (s *Stats) observeLocked(d time.Duration) {
	s.window[s.next] = d
	s.next = (s.next + 1) % latencyWindowSize
	if s.filled < latencyWindowSize {
		s.filled++
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Hits:    s.hits,
		Misses:  s.misses,
		Sets:    s.sets,
		Deletes: s.deletes,
	}

	if total := s.hits + s.misses; total > 0 {
		snap.HitRate = float64(s.hits) / float64(total)
	}

	if s.filled > 0 {
		var sum time.Duration
		for i := 0; i < s.filled; i++ {
			sum += s.window[i]
		}
		snap.AvgLatency = sum / time.Duration(s.filled)
	}

	return snap
}
