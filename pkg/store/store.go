// Package store provides pluggable key-value persistence for cache
// entries, with an in-memory backend that is always available and a
// Redis backend for durable per-origin storage.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotFound indicates the requested key does not exist in the store.
var ErrNotFound = errors.New("store: key not found")

// Store is the persistence contract shared by all backends. Callers
// get per-key read-after-write consistency within a single process and
// nothing stronger; concurrent writers to the same key resolve
// last-set-wins.
type Store interface {
	// Get returns the data stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// DeleteByPattern removes every entry whose key starts with prefix.
	DeleteByPattern(ctx context.Context, prefix string) error

	// Size returns the current entry count.
	Size(ctx context.Context) (int, error)
}

// Config selects and parameterizes the backend.
type Config struct {
	// RedisAddr is the Redis host:port. Empty selects the in-memory
	// backend without probing.
	RedisAddr string

	// RedisPassword is the Redis AUTH password (empty for none).
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// PingTimeout bounds the connection probe at construction.
	PingTimeout time.Duration
}

// DefaultPingTimeout bounds the Redis probe when Config.PingTimeout is zero.
const DefaultPingTimeout = 2 * time.Second

// New selects a backend once at construction. With a Redis address
// configured it probes the connection with a single PING; if the probe
// fails it logs and returns the in-memory backend instead, so callers
// never see an initialization error.
func New(cfg Config, logger zerolog.Logger) Store {
	if cfg.RedisAddr == "" {
		logger.Debug().Msg("No Redis address configured, using in-memory store")
		return NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().
			Err(err).
			Str("addr", cfg.RedisAddr).
			Msg("Redis unavailable, falling back to in-memory store")
		client.Close()
		return NewMemoryStore()
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis store")
	return NewRedisStore(client)
}
