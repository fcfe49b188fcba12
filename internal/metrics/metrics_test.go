package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Entry("funding-crossover", "long")
	m.Entry("funding-crossover", "long")
	m.Exit("funding-crossover", "trailing_stop")
	m.Refusal("opportunistic-maker", "concurrency_limit")

	if got := testutil.ToFloat64(m.Entries.WithLabelValues("funding-crossover", "long")); got != 2 {
		t.Errorf("entries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Exits.WithLabelValues("funding-crossover", "trailing_stop")); got != 1 {
		t.Errorf("exits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Refusals.WithLabelValues("opportunistic-maker", "concurrency_limit")); got != 1 {
		t.Errorf("refusals = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Bar("x")
	m.Entry("x", "long")
	m.Exit("x", "y")
	m.Skip("x", "y")
	m.Refusal("x", "y")
	m.Run("x", "ok", 1)
}

func TestRegistersOnProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Run("zscore-reversion", "ok", 0.5)

	if got := testutil.CollectAndCount(m.Runs); got != 1 {
		t.Errorf("runs series = %d, want 1", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("registry gathered no metric families")
	}
}
