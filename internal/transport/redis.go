package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"netcluster/internal/config"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Redis is a Transport over Redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client  *redis.Client
	logger  *logs.Logger
	metrics *metrics.Registry
	closed  *atomic.Bool

	mu   sync.Mutex
	subs map[*redisSub]struct{}
}

// ConnectRedis dials host:port with the given credential and pings it under
// the retry policy before returning.
func ConnectRedis(
	ctx context.Context,
	cfg config.RedisPolicy,
	retry config.RetryPolicy,
	logger *logs.Logger,
	reg *metrics.Registry,
) (*Redis, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	_, err := Retry(ctx, retry, func(ctx context.Context) (string, error) {
		return client.Ping(ctx).Result()
	}, func(attempt int, err error) {
		reg.Inc(metrics.TransportConnectRetriesTotal)
		logger.Warn("redis ping failed, retrying",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect redis %s: %v", ErrTransport, addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", addr))
	return NewRedis(client, logger, reg), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, logger *logs.Logger, reg *metrics.Registry) *Redis {
	return &Redis{
		client:  client,
		logger:  logger,
		metrics: reg,
		closed:  atomic.NewBool(false),
		subs:    make(map[*redisSub]struct{}),
	}
}

// Client exposes the underlying connection so the cache can share it.
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if r.closed.Load() {
		return publishFailed(r.metrics, topic, ErrClosed)
	}
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return publishFailed(r.metrics, topic, err)
	}
	r.metrics.Inc(metrics.TransportPublishTotal)
	return nil
}

// Subscribe waits for the server to confirm the subscription, so messages
// published after it returns are not missed.
func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransport, topic, err)
	}

	s := &redisSub{ps: ps, owner: r, done: make(chan struct{})}
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	go s.loop(ps.Channel(), h)
	return s, nil
}

func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	subs := make([]*redisSub, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return r.client.Close()
}

type redisSub struct {
	ps    *redis.PubSub
	owner *Redis
	once  sync.Once
	done  chan struct{}
}

func (s *redisSub) loop(messages <-chan *redis.Message, h Handler) {
	defer close(s.done)
	for message := range messages {
		deliver(h, message.Channel, []byte(message.Payload), s.owner.logger, s.owner.metrics)
	}
}

func (s *redisSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
		err = s.ps.Close()
	})
	return err
}
