package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"netcluster/internal/api"
	"netcluster/internal/cache"
	"netcluster/internal/cluster"
	"netcluster/internal/config"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"
	"netcluster/internal/transport"
	"netcluster/internal/ttl"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Logger
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	zapLogger = zapLogger.With(zap.String("node", cfg.Node.ID))
	logger := logs.NewLogger(cfg.Log.BufferSize, logs.ParseLevel(cfg.Log.Level), logs.WithSink(zapLogger))
	defer func() { _ = logger.Sync() }()

	// Metrics
	metricsRegistry := metrics.NewRegistry()

	// Root context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Broker
	tr, redisClient, err := connectTransport(ctx, cfg, logger, metricsRegistry)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	// Cache
	var (
		backend     cache.Backend
		memoryStore *cache.MemoryBackend
	)
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		memoryStore = cache.NewMemoryBackend(metricsRegistry)
		backend = memoryStore
	case config.CacheRedis:
		if redisClient == nil {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     net.JoinHostPort(cfg.Transport.Redis.Host, strconv.Itoa(cfg.Transport.Redis.Port)),
				Password: cfg.Transport.Redis.Password,
				DB:       cfg.Transport.Redis.DB,
			})
			defer func() { _ = redisClient.Close() }()
		}
		backend = cache.NewRedisBackend(redisClient)
	}
	globalCache := cache.New(backend, cfg.Cache.OpTimeout, logger, metricsRegistry)

	// Cluster
	node, err := cluster.New(cluster.Options{
		Config:    cfg,
		Transport: tr,
		Cache:     globalCache,
		Logger:    logger,
		Metrics:   metricsRegistry,
	})
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	// API
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.RegisterRoutes(http.NewServeMux(), api.NewHandler(node, metricsRegistry, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		node.Heartbeat().Start(gctx)
		return nil
	})

	if memoryStore != nil {
		cleaner := ttl.NewCleaner(memoryStore, cfg.Cache.CleanupInterval, logger, metricsRegistry)
		g.Go(func() error {
			cleaner.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("admin server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("node stopped")
	return err
}

// connectTransport dials the configured broker. The Redis client is
// returned as well so the cache can share the connection.
func connectTransport(
	ctx context.Context,
	cfg config.Config,
	logger *logs.Logger,
	reg *metrics.Registry,
) (transport.Transport, *redis.Client, error) {
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		r, err := transport.ConnectRedis(ctx, cfg.Transport.Redis, cfg.Transport.Retry, logger, reg)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Client(), nil
	case config.TransportNATS:
		n, err := transport.ConnectNATS(ctx, cfg.Transport.NATS, cfg.Node.ID, cfg.Transport.Retry, logger, reg)
		if err != nil {
			return nil, nil, err
		}
		return n, nil, nil
	default:
		logger.Warn("using in-process transport; this node cannot see other processes")
		return transport.NewMemoryHub(logger, reg).Connect(), nil, nil
	}
}
