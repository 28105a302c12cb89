package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsWith_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.ActiveSessions.Inc()
	m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet", "success").Inc()
	m.ToolExecutionCounter.WithLabelValues("execute_terminal", "success").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}
