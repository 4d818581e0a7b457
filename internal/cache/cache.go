// Package cache is the global key/value cache shared by every process.
// All operations return a future immediately and run on their own
// goroutine; values are stored as JSON.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"netcluster/internal/future"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"go.uber.org/zap"
)

// Cache is the asynchronous facade over a Backend.
type Cache struct {
	backend Backend
	timeout time.Duration
	logger  *logs.Logger
	metrics *metrics.Registry
}

// New wraps backend. timeout bounds every individual operation.
func New(backend Backend, timeout time.Duration, logger *logs.Logger, reg *metrics.Registry) *Cache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Cache{
		backend: backend,
		timeout: timeout,
		logger:  logger,
		metrics: reg,
	}
}

func (c *Cache) Backend() Backend { return c.backend }

// Set stores v under key with no expiry.
func (c *Cache) Set(key string, v any) *future.Future[struct{}] {
	return c.SetEx(key, v, 0)
}

// SetEx stores v under key for ttl.
func (c *Cache) SetEx(key string, v any, ttl time.Duration) *future.Future[struct{}] {
	return run(c, "set", key, func(ctx context.Context) (struct{}, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return struct{}{}, err
		}
		if err := c.backend.Set(ctx, key, string(raw), ttl); err != nil {
			return struct{}{}, err
		}
		c.metrics.Inc(metrics.CacheSetsTotal)
		return struct{}{}, nil
	})
}

// Push appends v to the list at key and resolves with the new length.
func (c *Cache) Push(key string, v any) *future.Future[int64] {
	return run(c, "push", key, func(ctx context.Context) (int64, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return 0, err
		}
		n, err := c.backend.Push(ctx, key, string(raw))
		if err != nil {
			return 0, err
		}
		c.metrics.Inc(metrics.CacheSetsTotal)
		return n, nil
	})
}

// RemoveFromList removes list elements equal to v: count > 0 from the
// head, count < 0 from the tail, 0 every match.
func (c *Cache) RemoveFromList(key string, v any, count int64) *future.Future[int64] {
	return run(c, "lrem", key, func(ctx context.Context) (int64, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return 0, err
		}
		return c.backend.RemoveFromList(ctx, key, string(raw), count)
	})
}

// Remove deletes key and reports whether it existed.
func (c *Cache) Remove(key string) *future.Future[bool] {
	return run(c, "del", key, func(ctx context.Context) (bool, error) {
		return c.backend.Delete(ctx, key)
	})
}

// InvalidateAll deletes every key matching prefix + ":*".
func (c *Cache) InvalidateAll(prefix string) *future.Future[int64] {
	return run(c, "invalidate", prefix+":*", func(ctx context.Context) (int64, error) {
		n, err := c.backend.DeletePrefix(ctx, prefix)
		c.metrics.Add(metrics.CacheInvalidatedTotal, n)
		if err == nil {
			c.logger.Debug("cache prefix invalidated", zap.String("prefix", prefix), zap.Int64("removed", n))
		}
		return n, err
	})
}

// Get reads key as a T. It resolves with nil when the key is absent.
func Get[T any](c *Cache, key string) *future.Future[*T] {
	return run(c, "get", key, func(ctx context.Context) (*T, error) {
		c.metrics.Inc(metrics.CacheGetsTotal)
		raw, ok, err := c.backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.metrics.Inc(metrics.CacheMissesTotal)
			return nil, nil
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return &v, nil
	})
}

// GetAll reads the list at key as []T. A missing key is an empty list.
func GetAll[T any](c *Cache, key string) *future.Future[[]T] {
	return run(c, "lrange", key, func(ctx context.Context) ([]T, error) {
		c.metrics.Inc(metrics.CacheGetsTotal)
		raws, err := c.backend.Range(ctx, key)
		if err != nil {
			return nil, err
		}
		out := make([]T, 0, len(raws))
		for _, raw := range raws {
			var v T
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
}

func run[T any](c *Cache, op, key string, fn func(ctx context.Context) (T, error)) *future.Future[T] {
	return future.Go(func() (T, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		v, err := fn(ctx)
		if err != nil {
			c.metrics.Inc(metrics.CacheErrorsTotal)
			c.logger.Warn("cache operation failed",
				zap.String("op", op),
				zap.String("key", key),
				zap.Error(err),
			)
			var zero T
			return zero, fmt.Errorf("%w: %s %s: %w", ErrCache, op, key, err)
		}
		return v, nil
	})
}
