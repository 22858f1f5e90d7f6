// Package cache provides a typed, strategy-driven cache for computed
// astrology results with tag invalidation and pluggable backends.
//
// Every operation is performed under a named Strategy that fixes the TTL,
// the maximum entry size, whether the stored bytes are gzip-compressed, how
// entries are invalidated, and the retention priority. The built-in
// strategies mirror the product's cache configuration:
//
//	kundli     24h   1 MB    compressed   tag-invalidated      high
//	dashas     1h    512 KB  compressed   time-invalidated     medium
//	panchang   30m   256 KB  plain        time-invalidated     low
//	geocoding  7d    128 KB  plain        manually invalidated high
//	analytics  5m    64 KB   compressed   time-invalidated     low
//
// Two backends are provided: a Redis backend (production, shared across
// processes) and an in-memory backend (local mode and tests). Backend
// failures never propagate to callers: a failed read degrades to a miss and
// a failed write degrades to a no-op, so the surrounding request pipeline
// keeps functioning with the cache entirely unavailable.
//
// Compression is an internal storage transform. Callers always see the
// exact value they stored; the compressed form never escapes the package.
package cache
