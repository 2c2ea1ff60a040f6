package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount is the number of keys fetched per SCAN iteration during
// pattern deletes.
const scanCount = 100

// RedisStore is the durable backend. Entries survive process restarts
// and are shared between processes pointed at the same Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an established Redis client. Use store.New for
// probed construction with fallback.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

// Get returns the data stored under key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores data under key with the given TTL. A ttl of 0 stores the
// entry without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every entry in the selected database.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}

// DeleteByPattern removes every entry whose key starts with prefix.
// Uses SCAN for safe iteration over keys.
func (s *RedisStore) DeleteByPattern(ctx context.Context, prefix string) error {
	var cursor uint64
	var keysToDelete []string

	matchPattern := prefix + "*"

	for {
		var keys []string
		var err error
		keys, cursor, err = s.client.Scan(ctx, cursor, matchPattern, scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %q: %w", matchPattern, err)
		}

		keysToDelete = append(keysToDelete, keys...)

		if cursor == 0 {
			break
		}
	}

	if len(keysToDelete) > 0 {
		if err := s.client.Del(ctx, keysToDelete...).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("redis del %q: %w", matchPattern, err)
		}
	}

	return nil
}

// Size returns the current entry count of the selected database.
func (s *RedisStore) Size(ctx context.Context) (int, error) {
	n, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
