// Package cluster is the per-process view of the network: which services
// exist, how loaded they are, and where players are. The view is built
// entirely from heartbeats; locate queries go over the envelope bus.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"netcluster/internal/bus"
	"netcluster/internal/cache"
	"netcluster/internal/config"
	"netcluster/internal/future"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"
	"netcluster/internal/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSuchService  = errors.New("no such service")
	ErrPlayerNotFound = errors.New("player not found")
)

type Options struct {
	Config    config.Config
	Transport transport.Transport
	Cache     *cache.Cache // optional
	Roster    Roster       // optional, defaults to an empty StaticRoster
	Logger    *logs.Logger
	Metrics   *metrics.Registry
}

// Cluster is constructed once per process and passed to whatever needs the
// network view. Descriptors are only ever mutated by heartbeat processing;
// every accessor returns copies.
type Cluster struct {
	id      string
	typ     ServiceType
	address string

	bus       *bus.Bus
	transport transport.Transport
	cache     *cache.Cache
	roster    Roster
	heartbeat *HeartbeatService
	directory *Directory

	mu       sync.RWMutex
	services map[string]ServiceDescriptor

	hbMu  sync.Mutex
	hbSub transport.Subscription

	logger  *logs.Logger
	metrics *metrics.Registry
}

func New(opts Options) (*Cluster, error) {
	cfg := opts.Config
	typ, err := ParseServiceType(cfg.Node.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if opts.Transport == nil {
		return nil, errors.New("cluster: transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = logs.NewLogger(0, logs.INFO)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Roster == nil {
		opts.Roster = NewStaticRoster()
	}

	b, err := bus.New(bus.Options{
		NodeID:          cfg.Node.ID,
		Transport:       opts.Transport,
		Timeout:         cfg.Requests.Timeout,
		BroadcastWindow: cfg.Requests.BroadcastWindow,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		id:        cfg.Node.ID,
		typ:       typ,
		address:   cfg.Node.Address,
		bus:       b,
		transport: opts.Transport,
		cache:     opts.Cache,
		roster:    opts.Roster,
		directory: NewDirectory(),
		services:  make(map[string]ServiceDescriptor),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	c.heartbeat = newHeartbeatService(c, cfg.Heartbeat)

	if err := c.registerLocateHandlers(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start subscribes the bus and the heartbeat topic. The heartbeat loop
// itself runs under Heartbeat().Start.
func (c *Cluster) Start(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		return c.bus.Start(ctx)
	})
	g.Go(func() error {
		sub, err := transport.SubscribeJSON(ctx, c.transport, HeartbeatTopic, c.logger, c.heartbeat.receive)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", HeartbeatTopic, err)
		}
		c.hbMu.Lock()
		c.hbSub = sub
		c.hbMu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = c.Close()
		return err
	}

	c.logger.Info("cluster node started",
		zap.String("id", c.id),
		zap.Stringer("type", c.typ),
		zap.String("address", c.address),
	)
	return nil
}

// Close stops receiving heartbeats and shuts the bus down.
func (c *Cluster) Close() error {
	c.hbMu.Lock()
	sub := c.hbSub
	c.hbSub = nil
	c.hbMu.Unlock()

	var errs []error
	if sub != nil {
		errs = append(errs, sub.Unsubscribe())
	}
	errs = append(errs, c.bus.Close())
	return errors.Join(errs...)
}

func (c *Cluster) ID() string                   { return c.id }
func (c *Cluster) Type() ServiceType            { return c.typ }
func (c *Cluster) Address() string              { return c.address }
func (c *Cluster) Bus() *bus.Bus                { return c.bus }
func (c *Cluster) Cache() *cache.Cache          { return c.cache }
func (c *Cluster) Roster() Roster               { return c.roster }
func (c *Cluster) Heartbeat() *HeartbeatService { return c.heartbeat }

// Service returns a copy of one descriptor.
func (c *Cluster) Service(id string) (ServiceDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.services[id]
	if !ok {
		return ServiceDescriptor{}, false
	}
	return d.clone(), true
}

// Services returns every known descriptor ordered by id.
func (c *Cluster) Services() []ServiceDescriptor {
	return c.collect(func(ServiceDescriptor) bool { return true })
}

// ServicesOf returns the known descriptors of one type ordered by id.
func (c *Cluster) ServicesOf(t ServiceType) []ServiceDescriptor {
	return c.collect(func(d ServiceDescriptor) bool { return d.Type == t })
}

func (c *Cluster) collect(keep func(ServiceDescriptor) bool) []ServiceDescriptor {
	c.mu.RLock()
	out := make([]ServiceDescriptor, 0, len(c.services))
	for _, d := range c.services {
		if keep(d) {
			out = append(out, d.clone())
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Player looks a player up in the local directory.
func (c *Cluster) Player(id uuid.UUID) (PlayerLocation, bool) {
	return c.directory.Get(id)
}

// Players returns a copy of the local directory.
func (c *Cluster) Players() map[uuid.UUID]PlayerLocation {
	return c.directory.Snapshot()
}

// LeastLoadedService picks the service of type t with the fewest online
// players. Ties go to the lowest id.
func (c *Cluster) LeastLoadedService(t ServiceType) (ServiceDescriptor, error) {
	candidates := c.ServicesOf(t)
	if len(candidates) == 0 {
		return ServiceDescriptor{}, fmt.Errorf("%w: no %s registered", ErrNoSuchService, t)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PlayerCount() < candidates[j].PlayerCount()
	})
	return candidates[0], nil
}

// upsert replaces the sender's descriptor and reconciles the directory.
// Directory writes happen under c.mu together with the services map.
func (c *Cluster) upsert(d ServiceDescriptor) {
	c.mu.Lock()
	_, known := c.services[d.ID]
	c.services[d.ID] = d.clone()
	removed := c.directory.Reconcile(d.ID, d.OnlinePlayers)
	count, players := len(c.services), c.directory.Len()
	c.mu.Unlock()

	if !known {
		c.logger.Info("service discovered",
			zap.String("id", d.ID),
			zap.Stringer("type", d.Type),
			zap.String("address", d.Address),
		)
	}
	if removed > 0 {
		c.logger.Debug("players left service", zap.String("id", d.ID), zap.Int("removed", removed))
	}
	c.metrics.Set(metrics.ServicesKnown, int64(count))
	c.metrics.Set(metrics.PlayersKnown, int64(players))
}

// evictStale removes every descriptor last seen more than timeout before
// now, together with the directory entries located on it.
func (c *Cluster) evictStale(now time.Time, timeout time.Duration) []string {
	var evicted []string
	dropped := make(map[string]int)

	c.mu.Lock()
	for id, d := range c.services {
		if now.Sub(d.LastSeenAt) > timeout {
			delete(c.services, id)
			dropped[id] = c.directory.DropServer(id)
			evicted = append(evicted, id)
		}
	}
	count, players := len(c.services), c.directory.Len()
	c.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	sort.Strings(evicted)
	for _, id := range evicted {
		c.metrics.Inc(metrics.ServicesEvictedTotal)
		c.logger.Info("service evicted", zap.String("id", id), zap.Int("players_dropped", dropped[id]))
	}
	c.metrics.Set(metrics.ServicesKnown, int64(count))
	c.metrics.Set(metrics.PlayersKnown, int64(players))
	return evicted
}

/* ---------------- locate ---------------- */

func (c *Cluster) registerLocateHandlers() error {
	for _, p := range []bus.Payload{WhereIsRequest{}, WhereIsProxyRequest{}, PlayerLocationResponse{}} {
		if err := c.bus.Register(p); err != nil {
			return err
		}
	}

	if c.typ == Proxy {
		return bus.Handle(c.bus, func(req WhereIsProxyRequest) bus.Payload {
			return c.answerLocate(req.UUID)
		})
	}
	return bus.Handle(c.bus, func(req WhereIsRequest) bus.Payload {
		return c.answerLocate(req.UUID)
	})
}

func (c *Cluster) answerLocate(id uuid.UUID) bus.Payload {
	if _, ok := findPlayer(c.roster, id); !ok {
		return nil
	}
	return PlayerLocationResponse{UUID: id, ServerID: c.id}
}

// WhereIs asks every backend server whether it holds the player. The first
// answer collected within the broadcast window wins; with several
// claimants the pick is arbitrary. The result is best effort, not
// linearizable.
func (c *Cluster) WhereIs(id uuid.UUID) *future.Future[ServiceDescriptor] {
	return c.locate(id, bus.GlobalRequest[PlayerLocationResponse](c.bus, WhereIsRequest{UUID: id}))
}

// WhereIsProxy is WhereIs for the proxy a player is connected through.
func (c *Cluster) WhereIsProxy(id uuid.UUID) *future.Future[ServiceDescriptor] {
	return c.locate(id, bus.GlobalRequest[PlayerLocationResponse](c.bus, WhereIsProxyRequest{UUID: id}))
}

func (c *Cluster) locate(id uuid.UUID, answers *future.Future[[]PlayerLocationResponse]) *future.Future[ServiceDescriptor] {
	return future.Map(answers, func(rs []PlayerLocationResponse) (ServiceDescriptor, error) {
		if len(rs) == 0 {
			return ServiceDescriptor{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
		}
		d, ok := c.Service(rs[0].ServerID)
		if !ok {
			return ServiceDescriptor{}, fmt.Errorf("%w: %s reported %s", ErrNoSuchService, rs[0].ServerID, id)
		}
		return d, nil
	})
}
