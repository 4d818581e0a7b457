package transport

import (
	"context"
	"sync"

	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const memoryQueueSize = 1024

// MemoryHub is an in-process broker. Every Transport obtained from Connect
// behaves like a separate process attached to the same bus.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	logger  *logs.Logger
	metrics *metrics.Registry
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(logger *logs.Logger, reg *metrics.Registry) *MemoryHub {
	return &MemoryHub{
		subs:    make(map[string]map[*memorySub]struct{}),
		logger:  logger,
		metrics: reg,
	}
}

// Connect attaches a new client to the hub.
func (h *MemoryHub) Connect() Transport {
	return &memoryTransport{
		hub:    h,
		closed: atomic.NewBool(false),
		subs:   make(map[*memorySub]struct{}),
	}
}

func (h *MemoryHub) publish(topic string, payload []byte) {
	h.mu.RLock()
	targets := make([]*memorySub, 0, len(h.subs[topic]))
	for s := range h.subs[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		s.offer(msg)
	}
}

func (h *MemoryHub) add(s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[s.topic] == nil {
		h.subs[s.topic] = make(map[*memorySub]struct{})
	}
	h.subs[s.topic][s] = struct{}{}
}

func (h *MemoryHub) remove(s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[s.topic], s)
	if len(h.subs[s.topic]) == 0 {
		delete(h.subs, s.topic)
	}
}

type memoryTransport struct {
	hub    *MemoryHub
	closed *atomic.Bool

	mu   sync.Mutex
	subs map[*memorySub]struct{}
}

func (t *memoryTransport) Publish(_ context.Context, topic string, payload []byte) error {
	if t.closed.Load() {
		return publishFailed(t.hub.metrics, topic, ErrClosed)
	}
	t.hub.metrics.Inc(metrics.TransportPublishTotal)
	t.hub.publish(topic, payload)
	return nil
}

func (t *memoryTransport) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	s := &memorySub{
		topic:   topic,
		handler: h,
		queue:   make(chan []byte, memoryQueueSize),
		done:    make(chan struct{}),
		owner:   t,
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	t.hub.add(s)
	go s.loop()
	return s, nil
}

func (t *memoryTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	subs := make([]*memorySub, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

type memorySub struct {
	topic   string
	handler Handler
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	owner   *memoryTransport
}

// offer enqueues without blocking the publisher. A full queue drops the
// message, which at-most-once delivery permits.
func (s *memorySub) offer(msg []byte) {
	select {
	case <-s.done:
	case s.queue <- msg:
	default:
		s.owner.hub.logger.Warn("memory subscriber queue full, dropping message",
			zap.String("topic", s.topic),
		)
	}
}

func (s *memorySub) loop() {
	hub := s.owner.hub
	for {
		select {
		case msg := <-s.queue:
			deliver(s.handler, s.topic, msg, hub.logger, hub.metrics)
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.owner.hub.remove(s)
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
		close(s.done)
	})
	return nil
}
