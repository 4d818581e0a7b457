package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportRedis  = "redis"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

// serviceTypes are the node roles the network knows about.
var serviceTypes = []string{"lobby", "duel", "limbo", "proxy", "queue"}

// KnownServiceType reports whether s names a node role. Matching is exact.
func KnownServiceType(s string) bool {
	return slices.Contains(serviceTypes, s)
}

// NodePolicy identifies this process inside the network.
type NodePolicy struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"`    // lobby, duel, limbo, proxy, queue
	Address string `yaml:"address"` // host:port players are sent to
}

// RetryPolicy controls retry behavior for broker connects
type RetryPolicy struct {
	MaxRetries  int                               `yaml:"max_retries"`  //max retry attempts
	BaseBackoff time.Duration                     `yaml:"base_backoff"` //initial backoff duration
	MaxBackoff  time.Duration                     `yaml:"max_backoff"`  // upper bound on backoff
	JitterFn    func(time.Duration) time.Duration `yaml:"-"`
}

type RedisPolicy struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSPolicy struct {
	URL string `yaml:"url"`
}

type TransportPolicy struct {
	Kind  string      `yaml:"kind"`
	Redis RedisPolicy `yaml:"redis"`
	NATS  NATSPolicy  `yaml:"nats"`
	Retry RetryPolicy `yaml:"retry"`
}

// RequestPolicy defines request-level timeouts
type RequestPolicy struct {
	Timeout         time.Duration `yaml:"timeout"`          // unicast request deadline
	BroadcastWindow time.Duration `yaml:"broadcast_window"` // broadcast collection window
}

// HeartbeatPolicy defines announcement cadence and peer liveness timeout
type HeartbeatPolicy struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CachePolicy struct {
	Backend         string        `yaml:"backend"`
	OpTimeout       time.Duration `yaml:"op_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type HTTPPolicy struct {
	Addr string `yaml:"addr"`
}

type LogPolicy struct {
	Level      string `yaml:"level"`
	BufferSize int    `yaml:"buffer_size"`
}

type Config struct {
	Node      NodePolicy      `yaml:"node"`
	Transport TransportPolicy `yaml:"transport"`
	Requests  RequestPolicy   `yaml:"requests"`
	Heartbeat HeartbeatPolicy `yaml:"heartbeat"`
	Cache     CachePolicy     `yaml:"cache"`
	HTTP      HTTPPolicy      `yaml:"http"`
	Log       LogPolicy       `yaml:"log"`
}

func Default() Config {
	return Config{
		Node: NodePolicy{
			Type:    "lobby",
			Address: "127.0.0.1:25565",
		},
		Transport: TransportPolicy{
			Kind: TransportRedis,
			Redis: RedisPolicy{
				Host: "127.0.0.1",
				Port: 6379,
			},
			NATS: NATSPolicy{
				URL: "nats://127.0.0.1:4222",
			},
			Retry: RetryPolicy{
				MaxRetries:  5,
				BaseBackoff: 100 * time.Millisecond,
				MaxBackoff:  2 * time.Second,
				JitterFn:    func(d time.Duration) time.Duration { return d / 2 }, //default jitter:50%
			},
		},
		Requests: RequestPolicy{
			Timeout:         5 * time.Second,
			BroadcastWindow: 50 * time.Millisecond,
		},
		Heartbeat: HeartbeatPolicy{
			Interval: 5 * time.Second,
			Timeout:  15 * time.Second,
		},
		Cache: CachePolicy{
			Backend:         CacheRedis,
			OpTimeout:       2 * time.Second,
			CleanupInterval: 5 * time.Second,
		},
		HTTP: HTTPPolicy{
			Addr: ":8080",
		},
		Log: LogPolicy{
			Level:      "INFO",
			BufferSize: 1000,
		},
	}
}

// Load reads a YAML file on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("NODE_ID", &c.Node.ID)
	str("NODE_TYPE", &c.Node.Type)
	str("NODE_ADDRESS", &c.Node.Address)
	str("TRANSPORT", &c.Transport.Kind)
	str("REDIS_HOST", &c.Transport.Redis.Host)
	str("REDIS_PASSWORD", &c.Transport.Redis.Password)
	str("NATS_URL", &c.Transport.NATS.URL)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("REDIS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_PORT=%q", ErrInvalidConfig, v)
		}
		c.Transport.Redis.Port = port
	}
	return nil
}

// Validate checks the config and fills a generated node id when none is set.
func (c *Config) Validate() error {
	c.Node.Type = strings.ToLower(strings.TrimSpace(c.Node.Type))
	if c.Node.Type == "" {
		return fmt.Errorf("%w: node type is required", ErrInvalidConfig)
	}
	if !KnownServiceType(c.Node.Type) {
		return fmt.Errorf("%w: unknown node type %q", ErrInvalidConfig, c.Node.Type)
	}
	if c.Node.ID == "" {
		c.Node.ID = c.Node.Type + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	switch c.Transport.Kind {
	case TransportRedis, TransportNATS, TransportMemory:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport.Kind)
	}
	switch c.Cache.Backend {
	case CacheRedis, CacheMemory:
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend)
	}

	durations := map[string]time.Duration{
		"requests.timeout":          c.Requests.Timeout,
		"requests.broadcast_window": c.Requests.BroadcastWindow,
		"heartbeat.interval":        c.Heartbeat.Interval,
		"heartbeat.timeout":         c.Heartbeat.Timeout,
		"cache.op_timeout":          c.Cache.OpTimeout,
		"cache.cleanup_interval":    c.Cache.CleanupInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("%w: heartbeat.timeout must exceed heartbeat.interval", ErrInvalidConfig)
	}
	if c.Transport.Retry.JitterFn == nil {
		c.Transport.Retry.JitterFn = Default().Transport.Retry.JitterFn
	}
	return nil
}
