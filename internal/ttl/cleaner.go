// Package ttl sweeps expired keys out of the in-memory cache backend.
// Reads already skip expired keys; the sweep bounds memory.
package ttl

import (
	"context"
	"time"

	"netcluster/internal/logs"
	"netcluster/internal/metrics"

	"go.uber.org/zap"
)

// Store is anything that can drop its expired keys in one pass.
// cache.MemoryBackend satisfies it.
type Store interface {
	RemoveExpired() int
}

type Cleaner struct {
	store    Store
	interval time.Duration
	logger   *logs.Logger
	metrics  *metrics.Registry
}

func NewCleaner(store Store, interval time.Duration, logger *logs.Logger, reg *metrics.Registry) *Cleaner {
	return &Cleaner{store: store, interval: interval, logger: logger, metrics: reg}
}

// Start sweeps every interval and blocks until ctx is done.
func (c *Cleaner) Start(ctx context.Context) {
	c.logger.Debug("ttl cleaner started", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("ttl cleaner stopped")
			return
		case <-ticker.C:
			c.runOnce()
		}
	}
}

func (c *Cleaner) runOnce() int {
	c.metrics.Inc(metrics.TTLCleanupRunsTotal)

	removed := c.store.RemoveExpired()
	if removed == 0 {
		return 0
	}
	c.metrics.Add(metrics.TTLKeysRemovedTotal, int64(removed))
	c.logger.Info("ttl cleaner removed expired keys", zap.Int("removed", removed))
	return removed
}
