// Package redis provides an executor.Cache backed by Redis.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ioc-platform/agentcore/runtime/executor"
)

// Cache implements executor.Cache on a Redis client.
type Cache struct {
	client redis.UniversalClient
}

var _ executor.Cache = (*Cache)(nil)

// New builds a Redis-backed cache.
func New(client redis.UniversalClient) (*Cache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Cache{client: client}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set stores the value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Ping verifies connectivity, for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Name identifies the cache for health checks.
func (c *Cache) Name() string { return "executor-redis" }
