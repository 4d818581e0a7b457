package metrics

import (
	"sync"

	"go.uber.org/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Envelope bus
	BusMessagesSentTotal        MetricKey = "bus_messages_sent_total"
	BusRequestsSentTotal        MetricKey = "bus_requests_sent_total"
	BusBroadcastRequestsTotal   MetricKey = "bus_broadcast_requests_total"
	BusResponsesReceivedTotal   MetricKey = "bus_responses_received_total"
	BusResponsesSentTotal       MetricKey = "bus_responses_sent_total"
	BusRequestTimeoutsTotal     MetricKey = "bus_request_timeouts_total"
	BusLateResponsesTotal       MetricKey = "bus_late_responses_total"
	BusUnregisteredTotal        MetricKey = "bus_unregistered_payloads_total"
	BusEnvelopesIgnoredTotal    MetricKey = "bus_envelopes_ignored_total"
	BusEnvelopesDispatchedTotal MetricKey = "bus_envelopes_dispatched_total"
	BusHandlerPanicsTotal       MetricKey = "bus_handler_panics_total"

	// Transport
	TransportPublishTotal         MetricKey = "transport_publish_total"
	TransportPublishFailuresTotal MetricKey = "transport_publish_failures_total"
	TransportReceivedTotal        MetricKey = "transport_received_total"
	TransportHandlerPanicsTotal   MetricKey = "transport_handler_panics_total"
	TransportConnectRetriesTotal  MetricKey = "transport_connect_retries_total"

	// Heartbeat / registry
	HeartbeatsSentTotal     MetricKey = "heartbeats_sent_total"
	HeartbeatsReceivedTotal MetricKey = "heartbeats_received_total"
	HeartbeatFailuresTotal  MetricKey = "heartbeat_failures_total"
	ServicesKnown           MetricKey = "services_known"
	ServicesEvictedTotal    MetricKey = "services_evicted_total"
	PlayersKnown            MetricKey = "players_known"

	// Cache
	CacheKeysTotal        MetricKey = "cache_keys_total"
	CacheSetsTotal        MetricKey = "cache_sets_total"
	CacheGetsTotal        MetricKey = "cache_gets_total"
	CacheMissesTotal      MetricKey = "cache_misses_total"
	CacheExpiredTotal     MetricKey = "cache_expired_total"
	CacheErrorsTotal      MetricKey = "cache_errors_total"
	CacheInvalidatedTotal MetricKey = "cache_invalidated_total"

	// TTL
	TTLCleanupRunsTotal MetricKey = "ttl_cleanup_runs_total"
	TTLKeysRemovedTotal MetricKey = "ttl_keys_removed_total"
)

// Registry holds the process-wide counters and gauges. Keys are created on
// first use.
type Registry struct {
	mu     sync.RWMutex
	values map[MetricKey]*atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{values: make(map[MetricKey]*atomic.Int64)}
}

func (r *Registry) Inc(key MetricKey) {
	r.value(key).Inc()
}

func (r *Registry) Add(key MetricKey, delta int64) {
	r.value(key).Add(delta)
}

// Set overwrites a gauge.
func (r *Registry) Set(key MetricKey, v int64) {
	r.value(key).Store(v)
}

func (r *Registry) value(key MetricKey) *atomic.Int64 {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok = r.values[key]; !ok {
		v = atomic.NewInt64(0)
		r.values[key] = v
	}
	return v
}
