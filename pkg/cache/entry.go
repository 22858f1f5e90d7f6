package cache

import (
	"time"
)

// Entry is a stored cache record. Data holds the serialized value, gzip
// compressed when Compressed is set.
type Entry struct {
	// Key is the caller-supplied key (without the strategy namespace).
	Key string `json:"key"`

	// Data is the stored bytes (possibly compressed).
	Data []byte `json:"data"`

	// Compressed marks Data as gzip-compressed.
	Compressed bool `json:"compressed"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`

	// TTL is the validity window from CreatedAt.
	TTL time.Duration `json:"ttl"`

	// Priority is the retention priority inherited from the strategy.
	Priority Priority `json:"priority"`

	// Tags are the invalidation tags attached at Set time.
	Tags []string `json:"tags,omitempty"`

	// SizeBytes is the serialized (uncompressed) value size.
	SizeBytes int `json:"size_bytes"`

	// AccessCount is the number of successful reads.
	AccessCount int64 `json:"access_count"`

	// LastAccessedAt is the time of the most recent successful read.
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// ExpiresAt returns the instant the entry becomes stale.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// IsExpiredAt reports whether the entry is stale at the given instant.
// An entry is valid iff now - CreatedAt < TTL.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// RemainingTTL returns the time until expiry at the given instant.
// Returns 0 if already expired.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
