// Package cache is a best-effort TTL key/value layer over Redis. It is
// a freshness gate, not a data store: the persistent database stays the
// source of truth, and every operation here degrades to a miss or no-op
// when Redis is unreachable.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client; a zero-value or unconfigured Cache always
// misses.
type Cache struct {
	client *redis.Client
}

// New connects to Redis from a redis:// URL. An empty URL yields a
// disabled cache; an unreachable server is only logged, since the
// client may succeed once Redis comes up.
func New(ctx context.Context, url string) (*Cache, error) {
	if url == "" {
		slog.Warn("Redis URL not configured, cache disabled")
		return &Cache{}, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis unreachable, cache degraded", "error", err)
	} else {
		slog.Info("Redis connection established", "addr", opts.Addr)
	}

	return &Cache{client: client}, nil
}

// Get returns the value for key. Missing keys and transport errors both
// read as a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Cache get failed", "key", key, "error", err)
		}
		return "", false
	}
	return value, true
}

// Set stores a value with a TTL, reporting whether the write landed.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if c == nil || c.client == nil {
		return false
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("Cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if c == nil || c.client == nil {
		return false
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("Cache delete failed", "key", key, "error", err)
		return false
	}
	return true
}

// ClearPrefix removes every key matching the glob pattern.
func (c *Cache) ClearPrefix(ctx context.Context, pattern string) bool {
	if c == nil || c.client == nil {
		return false
	}

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("Cache scan failed", "pattern", pattern, "error", err)
		return false
	}
	if len(keys) == 0 {
		return true
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("Cache clear failed", "pattern", pattern, "error", err)
		return false
	}
	return true
}

// Ping reports whether Redis answers; used by health checks only.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("cache not configured")
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
