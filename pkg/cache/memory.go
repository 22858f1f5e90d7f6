package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a process-local backend backed by a map with a tag index.
// It is used in local mode and in tests; expiry is enforced lazily on read
// by the Store, so the backend itself never runs a sweeper.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	// byTag maps tag -> set of keys carrying it.
	byTag map[string]map[string]struct{}
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*Entry),
		byTag:   make(map[string]map[string]struct{}),
	}
}

// Get returns the entry stored under key, or ErrNotFound.
func (b *MemoryBackend) Get(ctx context.Context, key string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	// Copy so callers never share the stored struct.
	cp := *entry
	return &cp, nil
}

// Set stores the entry and indexes its tags.
func (b *MemoryBackend) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.entries[key]; ok {
		b.unindexLocked(key, old.Tags)
	}

	cp := *entry
	b.entries[key] = &cp

	for _, tag := range cp.Tags {
		keys, ok := b.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			b.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Delete removes the entry under key.
func (b *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	b.unindexLocked(key, entry.Tags)
	delete(b.entries, key)
	return true, nil
}

// DeleteByTags removes every entry carrying any of the given tags.
func (b *MemoryBackend) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := make(map[string]struct{})
	for _, tag := range tags {
		for key := range b.byTag[tag] {
			removed[key] = struct{}{}
		}
	}

	for key := range removed {
		if entry, ok := b.entries[key]; ok {
			b.unindexLocked(key, entry.Tags)
			delete(b.entries, key)
		}
	}
	return len(removed), nil
}

// Touch bumps the access bookkeeping of the stored entry.
func (b *MemoryBackend) Touch(ctx context.Context, key string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.entries[key]; ok {
		entry.AccessCount++
		entry.LastAccessedAt = at
	}
	return nil
}

// Len returns the number of stored entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// unindexLocked removes key from the tag index. Caller holds b.mu.
func (b *MemoryBackend) unindexLocked(key string, tags []string) {
	for _, tag := range tags {
		if keys, ok := b.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(b.byTag, tag)
			}
		}
	}
}
