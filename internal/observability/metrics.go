package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator counters and latencies.
//
// All metrics are registered on the registry passed to NewMetrics so tests
// can instantiate isolated instances.
type Metrics struct {
	// StepCounter counts executed steps.
	// Labels: operation
	StepCounter *prometheus.CounterVec

	// ModelRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// ToolCallCounter counts tool invocations.
	// Labels: tool, status (ok|error), routed (registered|fallback)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool
	ToolCallDuration *prometheus.HistogramVec

	// BudgetReductions counts history reductions by strategy.
	// Labels: strategy (sliding_window|summarize), outcome (ok|overflow)
	BudgetReductions *prometheus.CounterVec

	// ArtifactsWritten counts externalized tool outputs.
	// Labels: tool
	ArtifactsWritten *prometheus.CounterVec

	// EventsEmitted counts emitted events.
	// Labels: type, outcome (written|deduplicated)
	EventsEmitted *prometheus.CounterVec

	// HITLPauses counts human-in-the-loop pauses.
	// Labels: trigger (manual|destructive|low_confidence)
	HITLPauses *prometheus.CounterVec
}

// NewMetrics creates and registers all orchestrator metrics on reg.
// Pass prometheus.DefaultRegisterer for production use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		StepCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_steps_total",
				Help: "Total number of agent steps executed",
			},
			[]string{"operation"},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redloop_model_request_duration_seconds",
				Help:    "Duration of model backend requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ModelTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_model_tokens_total",
				Help: "Token consumption by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_tool_calls_total",
				Help: "Total tool invocations by routing outcome",
			},
			[]string{"tool", "status", "routed"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redloop_tool_call_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"tool"},
		),
		BudgetReductions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_budget_reductions_total",
				Help: "Conversation history reductions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		ArtifactsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_artifacts_written_total",
				Help: "Tool outputs externalized to artifacts",
			},
			[]string{"tool"},
		),
		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_events_total",
				Help: "Lifecycle events by type and emission outcome",
			},
			[]string{"type", "outcome"},
		),
		HITLPauses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redloop_hitl_pauses_total",
				Help: "Human-in-the-loop pauses by trigger",
			},
			[]string{"trigger"},
		),
	}
}
