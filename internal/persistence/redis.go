package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"netcluster/internal/logs"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// RedisProvider keeps a collection as msgpack documents in the hash
// "doc:<collection>", one field per key.
type RedisProvider[T any] struct {
	client  *redis.Client
	hash    string
	logger  *logs.Logger
	started *atomic.Bool
}

func NewRedisProvider[T any](client *redis.Client, collection string, logger *logs.Logger) *RedisProvider[T] {
	return &RedisProvider[T]{
		client:  client,
		hash:    "doc:" + collection,
		logger:  logger,
		started: atomic.NewBool(false),
	}
}

// Start checks the connection.
func (p *RedisProvider[T]) Start(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("start %s: %w", p.hash, err)
	}
	p.started.Store(true)
	p.logger.Info("persistence provider started", zap.String("hash", p.hash))
	return nil
}

func (p *RedisProvider[T]) Save(ctx context.Context, key string, doc T) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	raw, err := msgpack.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", p.hash, key, err)
	}
	if err := p.client.HSet(ctx, p.hash, key, raw).Err(); err != nil {
		return fmt.Errorf("save %s/%s: %w", p.hash, key, err)
	}
	return nil
}

func (p *RedisProvider[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var doc T
	if !p.started.Load() {
		return doc, false, ErrNotStarted
	}

	raw, err := p.client.HGet(ctx, p.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, fmt.Errorf("get %s/%s: %w", p.hash, key, err)
	}
	if err := msgpack.Unmarshal(raw, &doc); err != nil {
		return doc, false, fmt.Errorf("decode %s/%s: %w", p.hash, key, err)
	}
	return doc, true, nil
}

func (p *RedisProvider[T]) GetAll(ctx context.Context) ([]T, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}

	fields, err := p.client.HGetAll(ctx, p.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", p.hash, err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		var doc T
		if err := msgpack.Unmarshal([]byte(fields[k]), &doc); err != nil {
			// One corrupt document should not hide the rest.
			p.logger.Warn("skipping undecodable document",
				zap.String("hash", p.hash),
				zap.String("key", k),
				zap.Error(err),
			)
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}
