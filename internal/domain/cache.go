package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two tiers: local in-process (Community) + Redis (Pro).
// All methods require accountID for strict per-account isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found or expired.
	Get(ctx context.Context, accountID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration. Writes always refresh
	// both value and expiry.
	Set(ctx context.Context, accountID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, accountID string, key string) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for velocity-style counts.
	IncrementCounter(ctx context.Context, accountID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local in-process cache settings (Community tier).
	// Eviction is insertion-ordered: when over capacity the
	// earliest-inserted entry is dropped, regardless of access.
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-tier settings
	EnableTwoTier bool // If true, check local first, then Redis
}
