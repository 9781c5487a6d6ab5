package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/clickshield/clickshield/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns the in-process FIFO cache.
// For Pro tier with two-tier enabled: returns TwoTierCache wrapping FIFO + Redis.
// For Pro tier without two-tier: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewFIFOCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoTier {
			return NewTwoTierCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoTierCache implements the two-tier caching strategy.
// L1: local FIFO cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoTierCache struct {
	local  *FIFOCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoTierCache creates a two-tier cache with FIFO + Redis.
func NewTwoTierCache(cfg domain.CacheConfig) (*TwoTierCache, error) {
	local := NewFIFOCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoTierCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoTierCache) Get(ctx context.Context, accountID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, accountID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, accountID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, accountID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoTierCache) Set(ctx context.Context, accountID string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, accountID, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.Set(ctx, accountID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoTierCache) Delete(ctx context.Context, accountID string, key string) error {
	if err := c.local.Delete(ctx, accountID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, accountID, key)
}

// IncrementCounter uses Redis for distributed atomic counters.
// L1 is not used for counters to ensure accuracy across nodes.
func (c *TwoTierCache) IncrementCounter(ctx context.Context, accountID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, accountID, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoTierCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoTierCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoTierCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
