// Package bus implements the envelope protocol on top of a broker transport:
// fire-and-forget messages, correlated unicast request/response, and
// broadcast requests whose responses are collected for a fixed window.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"netcluster/internal/future"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"
	"netcluster/internal/transport"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrTimeout          = errors.New("request timed out")
	ErrUnregisteredType = errors.New("payload type not registered")
	ErrTypeConflict     = errors.New("payload type id already registered to another type")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrInvalidTarget    = errors.New("invalid target address")
	ErrClosed           = errors.New("bus closed")
)

// RequestHandler answers a request. A nil return sends no response.
type RequestHandler func(req Payload) Payload

// MessageHandler consumes a fire-and-forget message.
type MessageHandler func(msg Payload)

type Options struct {
	NodeID          string
	Transport       transport.Transport
	Timeout         time.Duration // unicast request deadline
	BroadcastWindow time.Duration // broadcast collection window
	Logger          *logs.Logger
	Metrics         *metrics.Registry
}

// Bus is one node's endpoint on the envelope protocol.
type Bus struct {
	id        string
	transport transport.Transport
	registry  *Registry
	timeout   time.Duration
	window    time.Duration
	logger    *logs.Logger
	metrics   *metrics.Registry

	requestHandlers sync.Map // payload type -> RequestHandler
	messageHandlers sync.Map // payload type -> MessageHandler

	// correlation id -> *pendingRequest; removal is the single arbiter
	// between a response and the timeout.
	pending sync.Map
	// correlation id -> *collector
	broadcasts sync.Map

	ctx     context.Context
	started *atomic.Bool
	closed  *atomic.Bool
	subsMu  sync.Mutex
	subs    []transport.Subscription
}

func New(opts Options) (*Bus, error) {
	self := Unicast(opts.NodeID)
	if !self.Valid() {
		return nil, fmt.Errorf("%w: node id %q", ErrInvalidTarget, opts.NodeID)
	}
	if opts.Transport == nil {
		return nil, errors.New("bus: transport is required")
	}
	if opts.Timeout <= 0 || opts.BroadcastWindow <= 0 {
		return nil, errors.New("bus: timeout and broadcast window must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = logs.NewLogger(0, logs.INFO)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	return &Bus{
		id:        opts.NodeID,
		transport: opts.Transport,
		registry:  NewRegistry(),
		timeout:   opts.Timeout,
		window:    opts.BroadcastWindow,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		ctx:       context.Background(),
		started:   atomic.NewBool(false),
		closed:    atomic.NewBool(false),
	}, nil
}

// ID is this node's id.
func (b *Bus) ID() string { return b.id }

// Self is this node's unicast address.
func (b *Bus) Self() Address { return Unicast(b.id) }

// Registry exposes the payload type registry.
func (b *Bus) Registry() *Registry { return b.registry }

// Start subscribes to this node's topic and the broadcast topic. ctx bounds
// every later publish made by the bus.
func (b *Bus) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	b.subsMu.Lock()
	b.ctx = ctx
	b.subsMu.Unlock()

	for _, topic := range []string{b.Self().Topic(), Broadcast.Topic()} {
		sub, err := b.transport.Subscribe(ctx, topic, b.receive)
		if err != nil {
			b.unsubscribeAll()
			b.started.Store(false)
			return fmt.Errorf("bus subscribe %s: %w", topic, err)
		}
		b.subsMu.Lock()
		b.subs = append(b.subs, sub)
		b.subsMu.Unlock()
	}

	b.logger.Info("envelope bus started", zap.String("node", b.id))
	return nil
}

// Close unsubscribes and resolves every in-flight request: unicast ones
// fail with ErrClosed, broadcast ones complete with what was collected.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.unsubscribeAll()

	b.pending.Range(func(key, _ any) bool {
		if p, ok := b.pending.LoadAndDelete(key); ok {
			p.(*pendingRequest).result.Fail(ErrClosed)
		}
		return true
	})
	b.broadcasts.Range(func(key, _ any) bool {
		if c, ok := b.broadcasts.LoadAndDelete(key); ok {
			c.(*collector).finish()
		}
		return true
	})
	return nil
}

func (b *Bus) unsubscribeAll() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for _, s := range b.subs {
		if err := s.Unsubscribe(); err != nil {
			b.logger.Warn("bus unsubscribe failed", zap.Error(err))
		}
	}
	b.subs = nil
}

// Register adds p's type to the payload registry.
func (b *Bus) Register(p Payload) error {
	return b.registry.Register(p)
}

// SendMessage publishes a fire-and-forget message. Broker failures are
// logged and the message is dropped; only local encoding problems are
// returned.
func (b *Bus) SendMessage(to Address, msg Payload) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, to)
	}
	if err := b.registry.Register(msg); err != nil {
		return err
	}
	env, err := newEnvelope(uuid.NewString(), b.id, to, msg)
	if err != nil {
		return err
	}

	b.metrics.Inc(metrics.BusMessagesSentTotal)
	b.publish(to, env)
	return nil
}

// SendGlobalMessage sends msg to every node.
func (b *Bus) SendGlobalMessage(msg Payload) error {
	return b.SendMessage(Broadcast, msg)
}

// SendRequest sends req to one node and returns a future for its response.
// The future fails with ErrTimeout if nothing arrives within the request
// timeout. Abandoning the future does not cancel the timeout.
func (b *Bus) SendRequest(to Address, req, responseType Payload) *future.Future[Payload] {
	if to.IsBroadcast() || !to.Valid() {
		return future.Failed[Payload](fmt.Errorf("%w: unicast request to %s", ErrInvalidTarget, to))
	}
	if err := b.registerPair(req, responseType); err != nil {
		return future.Failed[Payload](err)
	}

	id := uuid.NewString()
	env, err := newEnvelope(id, b.id, to, req)
	if err != nil {
		return future.Failed[Payload](err)
	}
	if b.closed.Load() {
		return future.Failed[Payload](ErrClosed)
	}

	p := newPendingRequest(to.ID() == b.id)
	b.pending.Store(id, p)
	time.AfterFunc(b.timeout, func() {
		if _, ok := b.pending.LoadAndDelete(id); ok {
			b.metrics.Inc(metrics.BusRequestTimeoutsTotal)
			b.logger.Debug("request timed out",
				zap.String("correlation_id", id),
				zap.String("payload_type", env.PayloadType),
				zap.Stringer("target", to),
			)
			p.result.Fail(
				fmt.Errorf("%w: %s to %s after %s", ErrTimeout, env.PayloadType, to, b.timeout))
		}
	})

	b.metrics.Inc(metrics.BusRequestsSentTotal)
	b.publish(to, env)
	return p.result
}

// SendGlobalRequest broadcasts req and resolves, once the collection window
// has elapsed, with every response that arrived inside it. Zero responses
// is a valid outcome; completeness is never guaranteed.
func (b *Bus) SendGlobalRequest(req, responseType Payload) *future.Future[[]Payload] {
	if err := b.registerPair(req, responseType); err != nil {
		return future.Failed[[]Payload](err)
	}

	id := uuid.NewString()
	env, err := newEnvelope(id, b.id, Broadcast, req)
	if err != nil {
		return future.Failed[[]Payload](err)
	}
	if b.closed.Load() {
		return future.Failed[[]Payload](ErrClosed)
	}

	c := newCollector()
	b.broadcasts.Store(id, c)
	time.AfterFunc(b.window, func() {
		if _, ok := b.broadcasts.LoadAndDelete(id); ok {
			c.finish()
		}
	})

	b.metrics.Inc(metrics.BusBroadcastRequestsTotal)
	b.publish(Broadcast, env)
	return c.result
}

// RegisterHandler installs fn as the responder for requests of reqType.
// A later registration for the same type replaces the earlier one.
func (b *Bus) RegisterHandler(reqType Payload, fn RequestHandler) error {
	if err := b.registry.Register(reqType); err != nil {
		return err
	}
	b.requestHandlers.Store(reqType.PayloadType(), fn)
	return nil
}

// RegisterMessageHandler installs fn as the consumer of msgType messages.
func (b *Bus) RegisterMessageHandler(msgType Payload, fn MessageHandler) error {
	if err := b.registry.Register(msgType); err != nil {
		return err
	}
	b.messageHandlers.Store(msgType.PayloadType(), fn)
	return nil
}

func (b *Bus) registerPair(req, responseType Payload) error {
	if err := b.registry.Register(req); err != nil {
		return err
	}
	return b.registry.Register(responseType)
}

// publish encodes and sends env. Broker failures are logged and dropped.
func (b *Bus) publish(to Address, env Envelope) {
	raw, err := encodeEnvelope(env)
	if err != nil {
		b.logger.Error("envelope encode failed", zap.String("payload_type", env.PayloadType), zap.Error(err))
		return
	}
	if err := b.transport.Publish(b.publishContext(), to.Topic(), raw); err != nil {
		b.logger.Warn("publish failed, envelope dropped",
			zap.String("topic", to.Topic()),
			zap.String("payload_type", env.PayloadType),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
	}
}

func (b *Bus) publishContext() context.Context {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return b.ctx
}

// pendingRequest is an outstanding unicast request. A request addressed to
// this node comes back on its own topic under the same correlation id before
// any answer; loopback is set until that copy has been passed to the handlers.
type pendingRequest struct {
	result   *future.Future[Payload]
	loopback *atomic.Bool
}

func newPendingRequest(toSelf bool) *pendingRequest {
	return &pendingRequest{
		result:   future.New[Payload](),
		loopback: atomic.NewBool(toSelf),
	}
}

// collector accumulates broadcast responses until the window closes.
type collector struct {
	mu        sync.Mutex
	finished  bool
	responses []Payload
	result    *future.Future[[]Payload]
}

func newCollector() *collector {
	return &collector{result: future.New[[]Payload]()}
}

// add appends a response; it reports false once the window has closed.
func (c *collector) add(p Payload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return false
	}
	c.responses = append(c.responses, p)
	return true
}

func (c *collector) finish() {
	c.mu.Lock()
	c.finished = true
	out := make([]Payload, len(c.responses))
	copy(out, c.responses)
	c.mu.Unlock()

	c.result.Complete(out)
}
