package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tagKeyPrefix = "jyotish:tag:"

// RedisBackend stores entries as JSON values with Redis-side TTL and keeps a
// Redis set per tag for invalidation.
type RedisBackend struct {
	redis *redis.Client
}

// NewRedisBackend creates a backend on the given Redis client.
func NewRedisBackend(redisClient *redis.Client) *RedisBackend {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisBackend{redis: redisClient}
}

// Get returns the entry stored under key, or ErrNotFound.
func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := b.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Set stores the entry with the given TTL and indexes its tags.
func (b *RedisBackend) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := b.redis.Pipeline()
	pipe.Set(ctx, key, data, ttl)
	for _, tag := range entry.Tags {
		tagKey := tagKeyPrefix + tag
		pipe.SAdd(ctx, tagKey, key)
		// Keep the tag set around at least as long as its newest member.
		pipe.Expire(ctx, tagKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry under key.
func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.redis.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

// DeleteByTags removes every entry carrying any of the given tags.
func (b *RedisBackend) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		tagKey := tagKeyPrefix + tag
		keys, err := b.redis.SMembers(ctx, tagKey).Result()
		if err != nil {
			return 0, fmt.Errorf("redis smembers: %w", err)
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
		if err := b.redis.Del(ctx, tagKey).Err(); err != nil {
			return 0, fmt.Errorf("redis del tag set: %w", err)
		}
	}

	if len(seen) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	n, err := b.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

// Touch is a no-op for Redis: per-read access bookkeeping is not worth a
// write round trip on the shared backend.
func (b *RedisBackend) Touch(ctx context.Context, key string, at time.Time) error {
	return nil
}
