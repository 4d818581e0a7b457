package transport

import (
	"context"
	"fmt"

	"netcluster/internal/config"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// NATS is a Transport over core NATS subjects. Each subscription gets its
// own delivery goroutine from the client library.
type NATS struct {
	conn    *nats.Conn
	logger  *logs.Logger
	metrics *metrics.Registry
	closed  *atomic.Bool
}

// ConnectNATS dials url under the retry policy.
func ConnectNATS(
	ctx context.Context,
	cfg config.NATSPolicy,
	name string,
	retry config.RetryPolicy,
	logger *logs.Logger,
	reg *metrics.Registry,
) (*NATS, error) {
	conn, err := Retry(ctx, retry, func(context.Context) (*nats.Conn, error) {
		return nats.Connect(cfg.URL, nats.Name(name))
	}, func(attempt int, err error) {
		reg.Inc(metrics.TransportConnectRetriesTotal)
		logger.Warn("nats connect failed, retrying",
			zap.String("url", cfg.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect nats %s: %v", ErrTransport, cfg.URL, err)
	}

	logger.Info("connected to nats", zap.String("url", conn.ConnectedUrl()))
	return NewNATS(conn, logger, reg), nil
}

// NewNATS wraps an existing connection.
func NewNATS(conn *nats.Conn, logger *logs.Logger, reg *metrics.Registry) *NATS {
	return &NATS{
		conn:    conn,
		logger:  logger,
		metrics: reg,
		closed:  atomic.NewBool(false),
	}
}

func (n *NATS) Publish(_ context.Context, topic string, payload []byte) error {
	if n.closed.Load() {
		return publishFailed(n.metrics, topic, ErrClosed)
	}
	if err := n.conn.Publish(topic, payload); err != nil {
		return publishFailed(n.metrics, topic, err)
	}
	n.metrics.Inc(metrics.TransportPublishTotal)
	return nil
}

// Subscribe flushes after registering so the server knows about the
// subscription before the call returns.
func (n *NATS) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := n.conn.Subscribe(topic, func(m *nats.Msg) {
		deliver(h, m.Subject, m.Data, n.logger, n.metrics)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransport, topic, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransport, topic, err)
	}
	return sub, nil
}

func (n *NATS) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.conn.Close()
	return nil
}
