package cluster

import (
	"context"
	"time"

	"netcluster/internal/config"
	"netcluster/internal/metrics"
	"netcluster/internal/transport"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// HeartbeatService announces this node and keeps the cluster view fresh:
// every interval it publishes a heartbeat and evicts peers that have been
// silent for longer than the timeout.
type HeartbeatService struct {
	cluster  *Cluster
	interval time.Duration
	timeout  time.Duration
	running  *atomic.Bool
	now      func() time.Time
}

func newHeartbeatService(c *Cluster, cfg config.HeartbeatPolicy) *HeartbeatService {
	return &HeartbeatService{
		cluster:  c,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		running:  atomic.NewBool(false),
		now:      time.Now,
	}
}

// Start announces immediately and then on every tick until ctx is done.
// A second concurrent Start returns at once.
func (h *HeartbeatService) Start(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer h.running.Store(false)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.runOnce(ctx, h.now())
	for {
		select {
		case <-ticker.C:
			h.runOnce(ctx, h.now())
		case <-ctx.Done():
			return
		}
	}
}

// Running reports whether the announce loop is active.
func (h *HeartbeatService) Running() bool {
	return h.running.Load()
}

func (h *HeartbeatService) runOnce(ctx context.Context, now time.Time) {
	if err := h.announce(ctx, now); err != nil {
		h.cluster.metrics.Inc(metrics.HeartbeatFailuresTotal)
		h.cluster.logger.Warn("heartbeat publish failed", zap.Error(err))
	}
	h.sweep(now)
}

func (h *HeartbeatService) announce(ctx context.Context, now time.Time) error {
	c := h.cluster
	players := c.roster.OnlinePlayers()
	for i := range players {
		if players[i].CurrentServer == "" {
			players[i].CurrentServer = c.id
		}
	}

	hb := Heartbeat{
		Timestamp:     now.UnixMilli(),
		ServiceType:   c.typ,
		ID:            c.id,
		PlayerCount:   len(players),
		OnlinePlayers: players,
		ServerIP:      c.address,
	}
	if err := transport.PublishJSON(ctx, c.transport, HeartbeatTopic, hb); err != nil {
		return err
	}
	c.metrics.Inc(metrics.HeartbeatsSentTotal)
	return nil
}

// receive handles one heartbeat from any node, this one included.
func (h *HeartbeatService) receive(hb Heartbeat) {
	c := h.cluster
	if err := hb.validate(); err != nil {
		c.metrics.Inc(metrics.HeartbeatFailuresTotal)
		c.logger.Warn("discarding heartbeat", zap.Error(err))
		return
	}

	c.metrics.Inc(metrics.HeartbeatsReceivedTotal)
	c.upsert(ServiceDescriptor{
		ID:            hb.ID,
		Address:       hb.ServerIP,
		Type:          hb.ServiceType,
		OnlinePlayers: hb.OnlinePlayers,
		LastSeenAt:    time.UnixMilli(hb.Timestamp),
	})
}

// sweep evicts every peer whose last heartbeat is more than timeout old.
// A peer seen exactly timeout ago is kept.
func (h *HeartbeatService) sweep(now time.Time) []string {
	return h.cluster.evictStale(now, h.timeout)
}
