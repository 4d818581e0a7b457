package health

import "netcluster/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// ---------- RULES ----------

// counterRule triggers when key is positive.
func counterRule(key metrics.MetricKey, severity Status, signal, recommendation string) Rule {
	return func(snapshot map[string]int64) RuleResult {
		if snapshot[string(key)] <= 0 {
			return RuleResult{}
		}
		return RuleResult{
			Triggered:      true,
			Signal:         signal,
			Recommendation: recommendation,
			Severity:       severity,
		}
	}
}

// Unanswered requests mean a peer is gone or overloaded.
var RequestTimeoutRule = counterRule(
	metrics.BusRequestTimeoutsTotal, StatusDegraded,
	"Request timeouts detected",
	"Check that target services are alive and their handlers are registered",
)

// Failed publishes are silently dropped messages.
var PublishFailureRule = counterRule(
	metrics.TransportPublishFailuresTotal, StatusDegraded,
	"Broker publish failures detected",
	"Check broker connectivity and credentials",
)

// Evictions mean peers stopped announcing themselves.
var ServiceEvictionRule = counterRule(
	metrics.ServicesEvictedTotal, StatusDegraded,
	"Services evicted after missed heartbeats",
	"Inspect the evicted services and their broker connection",
)

// Unregistered payloads usually mean mismatched versions across nodes.
var UnregisteredPayloadRule = counterRule(
	metrics.BusUnregisteredTotal, StatusDegraded,
	"Envelopes with unregistered payload types received",
	"Deploy the same payload set on every node",
)

var CacheErrorRule = counterRule(
	metrics.CacheErrorsTotal, StatusDegraded,
	"Cache operation failures detected",
	"Check the cache backend",
)

// HeartbeatFailureRule is critical when this node has never received a
// heartbeat, its own included: it cannot see the cluster at all.
func HeartbeatFailureRule(snapshot map[string]int64) RuleResult {
	failures := snapshot[string(metrics.HeartbeatFailuresTotal)]
	if failures <= 0 {
		return RuleResult{}
	}

	if snapshot[string(metrics.HeartbeatsReceivedTotal)] == 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Heartbeats failing and none received",
			Recommendation: "Check the broker connection; this node is isolated",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{
		Triggered:      true,
		Signal:         "Heartbeat failures detected",
		Recommendation: "Check broker availability and heartbeat payloads",
		Severity:       StatusDegraded,
	}
}

// DefaultRules is the rule set NewAnalyzer starts with.
func DefaultRules() []Rule {
	return []Rule{
		RequestTimeoutRule,
		PublishFailureRule,
		ServiceEvictionRule,
		UnregisteredPayloadRule,
		CacheErrorRule,
		HeartbeatFailureRule,
	}
}
