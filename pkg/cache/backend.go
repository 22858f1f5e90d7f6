package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist in the backend.
var ErrNotFound = errors.New("cache entry not found")

// Backend is the storage layer behind a Store. Implementations must be safe
// for concurrent use. The Store layers expiry checks, compression, size
// limits, and failure degradation on top.
type Backend interface {
	// Get returns the entry stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry under key with the given retention. The backend
	// indexes entry.Tags for DeleteByTags.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Delete removes the entry under key. Reports whether an entry existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteByTags removes every entry carrying any of the given tags and
	// returns the number of entries removed.
	DeleteByTags(ctx context.Context, tags []string) (int, error)

	// Touch records a successful read at the given instant. Backends may
	// implement it as a no-op when write amplification is not worth it.
	Touch(ctx context.Context, key string, at time.Time) error
}
