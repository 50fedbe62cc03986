// Package observability wires the ambient metrics and trace-propagation
// infrastructure the security core runs under: Prometheus counters and
// histograms for the operations named in the spec's concurrency model
// (tool calls, circuit breakers, scout runs), and an OpenTelemetry trace
// ID helper threaded into audit entries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the core's Prometheus collectors. Build one with
// NewMetrics at process startup and register it with every component
// that reports against it; constructing a second Metrics in the same
// process panics on duplicate registration, so tests should not call
// NewMetrics directly (construct collectors against a throwaway
// prometheus.NewRegistry() instead).
type Metrics struct {
	// ToolCallsTotal counts tool executions by tool name and outcome
	// (success|denied|error).
	ToolCallsTotal *prometheus.CounterVec

	// ToolCallDuration measures tool execution latency in seconds.
	ToolCallDuration *prometheus.HistogramVec

	// BreakerState reports each circuit breaker's state as a gauge
	// (0=closed, 1=half_open, 2=open), labeled by dependency id.
	BreakerState *prometheus.GaugeVec

	// ScoutRunsTotal counts scout invocations by scout name and outcome
	// (success|error|skipped_overlap).
	ScoutRunsTotal *prometheus.CounterVec

	// ScoutRunDuration measures scout execution latency in seconds.
	ScoutRunDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the core's collectors with the
// default Prometheus registry. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_tool_calls_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_tool_duration_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexuscore_breaker_state",
				Help: "Circuit breaker state by dependency id (0=closed, 1=half_open, 2=open)",
			},
			[]string{"dependency"},
		),
		ScoutRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_scout_runs_total",
				Help: "Total scout invocations by scout name and outcome",
			},
			[]string{"scout", "outcome"},
		),
		ScoutRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_scout_run_duration_seconds",
				Help:    "Scout execution latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"scout"},
		),
	}
}
