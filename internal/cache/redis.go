package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanPageSize = 100

// RedisBackend stores cache keys in Redis. It usually shares the client of
// the Redis transport.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrongType(err)
	}
	return v, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Push(ctx context.Context, key, value string) (int64, error) {
	n, err := r.client.RPush(ctx, key, value).Result()
	return n, wrongType(err)
}

func (r *RedisBackend) Range(ctx context.Context, key string) ([]string, error) {
	vs, err := r.client.LRange(ctx, key, 0, -1).Result()
	return vs, wrongType(err)
}

func (r *RedisBackend) RemoveFromList(ctx context.Context, key, value string, count int64) (int64, error) {
	n, err := r.client.LRem(ctx, key, count, value).Result()
	return n, wrongType(err)
}

func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	return n > 0, err
}

// DeletePrefix walks the keyspace with SCAN and deletes each page of
// matches in one pipeline.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	pattern := escapeGlob(prefix) + ":*"

	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return removed, err
		}

		if len(keys) > 0 {
			cmds, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
				for _, k := range keys {
					p.Del(ctx, k)
				}
				return nil
			})
			if err != nil {
				return removed, err
			}
			for _, cmd := range cmds {
				removed += cmd.(*redis.IntCmd).Val()
			}
		}

		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func wrongType(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return errors.Join(ErrWrongType, err)
	}
	return err
}
