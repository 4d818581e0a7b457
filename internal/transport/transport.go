// Package transport is the raw publish/subscribe layer every other cluster
// component rides on. Delivery is at-most-once with no ordering guarantee
// and no replay of history.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrTransport wraps broker-level publish and subscribe failures.
	ErrTransport = errors.New("transport error")
	// ErrClosed is returned once a transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Handler receives every message published on a subscribed topic. It runs
// on the subscription's receive goroutine.
type Handler func(topic string, payload []byte)

// Subscription is a live topic registration.
type Subscription interface {
	Unsubscribe() error
}

// Transport is a broker connection.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Close() error
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, t Transport, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return t.Publish(ctx, topic, payload)
}

// SubscribeJSON subscribes to topic and decodes every message as T before
// calling fn. Undecodable messages are logged and skipped.
func SubscribeJSON[T any](
	ctx context.Context,
	t Transport,
	topic string,
	logger *logs.Logger,
	fn func(T),
) (Subscription, error) {
	return t.Subscribe(ctx, topic, func(topic string, payload []byte) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			logger.Warn("dropping undecodable message",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return
		}
		fn(v)
	})
}

// deliver runs one handler invocation, isolating panics so the receive loop
// survives a bad message.
func deliver(h Handler, topic string, payload []byte, logger *logs.Logger, reg *metrics.Registry) {
	defer func() {
		if r := recover(); r != nil {
			reg.Inc(metrics.TransportHandlerPanicsTotal)
			logger.Error("panic recovered in subscription handler",
				zap.String("topic", topic),
				zap.Any("panic", r),
			)
		}
	}()

	reg.Inc(metrics.TransportReceivedTotal)
	h(topic, payload)
}

func publishFailed(reg *metrics.Registry, topic string, err error) error {
	reg.Inc(metrics.TransportPublishFailuresTotal)
	return fmt.Errorf("%w: publish %s: %v", ErrTransport, topic, err)
}
