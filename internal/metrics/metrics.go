// Package metrics exposes Prometheus counters for backtest runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine collectors. Collectors are safe for concurrent
// use, so one Metrics may be shared by parallel runs. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	Bars     *prometheus.CounterVec // labels: strategy
	Entries  *prometheus.CounterVec // labels: strategy, side
	Exits    *prometheus.CounterVec // labels: strategy, reason
	Skips    *prometheus.CounterVec // labels: strategy, reason
	Refusals *prometheus.CounterVec // labels: strategy, reason
	Runs     *prometheus.CounterVec // labels: strategy, outcome

	RunDuration *prometheus.HistogramVec // labels: strategy
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Bars: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barrun",
			Name:      "bars_total",
			Help:      "Bars processed by the backtest loop",
		}, []string{"strategy"}),
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barrun",
			Name:      "entries_total",
			Help:      "Entry orders emitted",
		}, []string{"strategy", "side"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barrun",
			Name:      "exits_total",
			Help:      "Positions closed, by exit reason",
		}, []string{"strategy", "reason"}),
		Skips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barrun",
			Name:      "skips_total",
			Help:      "Bars or intents skipped without action",
		}, []string{"strategy", "reason"}),
		Refusals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barrun",
			Name:      "refusals_total",
			Help:      "Qualifying entries refused by the position manager",
		}, []string{"strategy", "reason"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barrun",
			Name:      "runs_total",
			Help:      "Completed or failed runs",
		}, []string{"strategy", "outcome"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "barrun",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single run",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"strategy"}),
	}
}

func (m *Metrics) Bar(strategy string) {
	if m != nil {
		m.Bars.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) Entry(strategy, side string) {
	if m != nil {
		m.Entries.WithLabelValues(strategy, side).Inc()
	}
}

func (m *Metrics) Exit(strategy, reason string) {
	if m != nil {
		m.Exits.WithLabelValues(strategy, reason).Inc()
	}
}

func (m *Metrics) Skip(strategy, reason string) {
	if m != nil {
		m.Skips.WithLabelValues(strategy, reason).Inc()
	}
}

func (m *Metrics) Refusal(strategy, reason string) {
	if m != nil {
		m.Refusals.WithLabelValues(strategy, reason).Inc()
	}
}

// Run records the outcome ("ok" or "error") and wall time of a run.
func (m *Metrics) Run(strategy, outcome string, seconds float64) {
	if m != nil {
		m.Runs.WithLabelValues(strategy, outcome).Inc()
		m.RunDuration.WithLabelValues(strategy).Observe(seconds)
	}
}
