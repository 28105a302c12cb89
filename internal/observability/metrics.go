package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized set of Prometheus collectors for the engine.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ActiveSessions.Inc()
//	defer metrics.LLMRequestDuration.WithLabelValues("anthropic", model).Observe(time.Since(start).Seconds())
type Metrics struct {
	// ActiveSessions is a gauge of sessions not in the idle state.
	ActiveSessions prometheus.Gauge

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// SandboxExecDuration measures sandbox exec latency in seconds.
	SandboxExecDuration prometheus.Histogram

	// SandboxesActive is a gauge of running sandboxes (registry refcount > 0).
	SandboxesActive prometheus.Gauge

	// HelperAgentsSpawned counts helper-agent spawn attempts.
	// Labels: outcome (ok|limit_reached)
	HelperAgentsSpawned *prometheus.CounterVec

	// NotificationQueueDepth is a gauge of queued-but-undelivered notifications.
	NotificationQueueDepth prometheus.Gauge
}

// NewMetrics registers and returns the engine's Prometheus collectors against
// the default registerer. Use NewMetricsWith for an isolated registry (tests,
// multiple instances in one process).
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the engine's collectors against reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentd_active_sessions",
			Help: "Sessions currently not in the idle state.",
		}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentd_llm_request_duration_seconds",
			Help:    "LLM request latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_llm_requests_total",
			Help: "LLM requests by provider, model, and outcome.",
		}, []string{"provider", "model", "status"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentd_tool_execution_duration_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_tool_executions_total",
			Help: "Tool invocations by name and outcome.",
		}, []string{"tool_name", "status"}),
		SandboxExecDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentd_sandbox_exec_duration_seconds",
			Help:    "Sandbox exec latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		SandboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentd_sandboxes_active",
			Help: "Sandboxes with a non-zero registry refcount.",
		}),
		HelperAgentsSpawned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_helper_agents_spawned_total",
			Help: "spawn_agent calls by outcome.",
		}, []string{"outcome"}),
		NotificationQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentd_notification_queue_depth",
			Help: "Notifications queued awaiting idle delivery.",
		}),
	}
}
