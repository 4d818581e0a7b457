// Package health turns metrics and recent logs into a health report.
package health

import (
	"strings"

	"netcluster/internal/logs"
	"netcluster/internal/metrics"
)

const (
	logWindow            = 100
	publishFailureStreak = 3
)

// Analyzer converts metrics + logs into a health report.
type Analyzer struct {
	metrics *metrics.Registry
	logger  *logs.Logger
	rules   []Rule
}

func NewAnalyzer(reg *metrics.Registry, logger *logs.Logger, rules ...Rule) *Analyzer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Analyzer{
		metrics: reg,
		logger:  logger,
		rules:   rules,
	}
}

// Analyze evaluates metrics and logs and returns a health report.
func (a *Analyzer) Analyze() Report {
	snapshot := a.metrics.Snapshot()

	var (
		signals         = []string{}
		recommendations = []string{}
		status          = StatusOK
	)

	/* ---------- METRICS-BASED RULES ---------- */

	for _, rule := range a.rules {
		result := rule(snapshot)
		if !result.Triggered {
			continue
		}
		signals = append(signals, result.Signal)
		recommendations = append(recommendations, result.Recommendation)
		status = escalate(status, result.Severity)
	}

	/* ---------- LOG-BASED SIGNALS ---------- */

	publishFailures := 0
	panicCount := 0

	for _, entry := range a.logger.GetLast(logWindow) {
		if entry.Level == logs.WARN && strings.Contains(entry.Message, "publish failed") {
			publishFailures++
		}
		if entry.Level == logs.ERROR && strings.Contains(entry.Message, "panic") {
			panicCount++
		}
	}

	if publishFailures >= publishFailureStreak {
		signals = append(signals, "Repeated publish failures detected in logs")
		recommendations = append(recommendations, "Investigate broker connectivity")
		status = escalate(status, StatusDegraded)
	}

	if panicCount > 0 {
		signals = append(signals, "Handler panics detected in logs")
		recommendations = append(recommendations, "Inspect the logged panics and fix the failing handlers")
		status = StatusCritical
	}

	/* ---------- SUMMARY ---------- */

	summary := "Node is healthy"
	if status != StatusOK {
		summary = "Node health issues detected"
	}

	return Report{
		OverallStatus:   status,
		Summary:         summary,
		Signals:         signals,
		Recommendations: recommendations,
	}
}
