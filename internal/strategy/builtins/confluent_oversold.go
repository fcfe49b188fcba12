package builtins

import (
	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// ConfluentOversoldName is the registry name of ConfluentOversold.
const ConfluentOversoldName = "confluent-oversold"

var _ strategy.Policy = (*ConfluentOversold)(nil)

// ConfluentOversoldParams configures ConfluentOversold.
type ConfluentOversoldParams struct {
	FastK         int     `yaml:"fastk_period"`
	SlowK         int     `yaml:"slowk_period"`
	SlowD         int     `yaml:"slowd_period"`
	CCIPeriod     int     `yaml:"cci_period"`
	VolumePeriod  int     `yaml:"volume_period"`
	StochOversold float64 `yaml:"stoch_oversold"`
	CCIOversold   float64 `yaml:"cci_oversold"`
	ProfitTarget  float64 `yaml:"profit_target"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	BreakevenPct  float64 `yaml:"breakeven_pct"`
	RiskFraction  float64 `yaml:"risk_fraction"`
	MinBars       int     `yaml:"min_bars"`
}

// DefaultConfluentOversoldParams returns the stock parameters.
func DefaultConfluentOversoldParams() ConfluentOversoldParams {
	return ConfluentOversoldParams{
		FastK:         14,
		SlowK:         3,
		SlowD:         3,
		CCIPeriod:     20,
		VolumePeriod:  5,
		StochOversold: 20,
		CCIOversold:   -100,
		ProfitTarget:  0.05,
		StopLossPct:   0.04,
		BreakevenPct:  0.02,
		RiskFraction:  0.01,
		MinBars:       20,
	}
}

// ConfluentOversold buys when the slow stochastic is oversold with a
// falling %D, CCI is oversold and volume is below its average. Risk is a
// fraction of the starting capital.
//
// The policy tracks the lowest (low, OBV) pair while flat; each position
// tracks its own lowest pair since entry. Exit priority: breakeven stop,
// take-profit, stop-loss, bullish OBV divergence.
type ConfluentOversold struct {
	p ConfluentOversoldParams

	previousLow domain.SwingPoint
	// synced is the position whose entry swing last replaced previousLow.
	synced string
}

// NewConfluentOversold creates the policy.
func NewConfluentOversold(p ConfluentOversoldParams) *ConfluentOversold {
	return &ConfluentOversold{p: p}
}

func newConfluentOversoldPolicy(node *yaml.Node) (strategy.Policy, error) {
	p := DefaultConfluentOversoldParams()
	if err := strategy.DecodeParams(node, &p); err != nil {
		return nil, err
	}
	if err := firstErr(
		positiveInt("fastk_period", p.FastK),
		positiveInt("slowk_period", p.SlowK),
		positiveInt("slowd_period", p.SlowD),
		positiveInt("cci_period", p.CCIPeriod),
		positiveInt("volume_period", p.VolumePeriod),
		positive("profit_target", p.ProfitTarget),
		positive("stop_loss_pct", p.StopLossPct),
		positive("risk_fraction", p.RiskFraction),
	); err != nil {
		return nil, err
	}
	return NewConfluentOversold(p), nil
}

func (s *ConfluentOversold) Name() string { return ConfluentOversoldName }

func (s *ConfluentOversold) Indicators(pl *indicator.Pipeline) {
	stoch := func(b []domain.Bar) (indicator.Series, indicator.Series) {
		return indicator.Stoch(b, s.p.FastK, s.p.SlowK, s.p.SlowD)
	}
	pl.Register(indSlowK, func(b []domain.Bar) indicator.Series { k, _ := stoch(b); return k })
	pl.Register(indSlowD, func(b []domain.Bar) indicator.Series { _, d := stoch(b); return d })
	pl.Register(indCCI, func(b []domain.Bar) indicator.Series { return indicator.CCI(b, s.p.CCIPeriod) })
	pl.Register(indVolSMA, smaOfVolume(s.p.VolumePeriod))
	pl.Register(indOBV, indicator.OBV)
}

func (s *ConfluentOversold) Required() []string {
	return []string{indSlowK, indSlowD, indCCI, indVolSMA, indOBV}
}

func (s *ConfluentOversold) Sizer() engine.RiskSizer {
	return engine.RiskSizer{Fraction: s.p.RiskFraction, Basis: engine.BasisInitial}
}

func (s *ConfluentOversold) MaxConcurrent() int { return 1 }

// PreviousLow returns the swing low tracked while flat.
func (s *ConfluentOversold) PreviousLow() domain.SwingPoint { return s.previousLow }

func (s *ConfluentOversold) OnBarEntry(st *strategy.State) domain.Intent {
	low := st.Bar.Low
	obv := st.Ind.Value(indOBV)
	if s.previousLow.Lower(low) {
		s.previousLow = domain.SwingPoint{Price: low, Flow: obv, Set: true}
	}

	if st.Index < s.p.MinBars {
		return domain.Intent{}
	}
	prevD, ok := st.PrevInd.Get(indSlowD)
	if !ok {
		return domain.Intent{}
	}
	oversold := st.Ind.Value(indSlowK) < s.p.StochOversold
	declining := st.Ind.Value(indSlowD) < prevD
	cciLow := st.Ind.Value(indCCI) < s.p.CCIOversold
	quiet := st.Bar.Volume < st.Ind.Value(indVolSMA)
	if !oversold || !declining || !cciLow || !quiet {
		return domain.Intent{}
	}

	c := st.Bar.Close
	entryLow := domain.SwingPoint{Price: low, Flow: obv, Set: true}
	return domain.Intent{
		Kind:         domain.IntentEnterLong,
		StopDistance: c * s.p.StopLossPct,
		StopLoss:     domain.Some(c * (1 - s.p.StopLossPct)),
		TakeProfit:   domain.Some(c * (1 + s.p.ProfitTarget)),
		SwingLow:     entryLow,
		Reason:       "oversold_confluence",
	}
}

func (s *ConfluentOversold) OnBarExit(st *strategy.State, pos *domain.Position) (domain.ExitSignal, bool) {
	// The first look at a filled position restarts the flat swing from its
	// entry bar. A skipped entry never gets here and leaves it untouched.
	if pos.ID != "" && pos.ID != s.synced {
		s.synced = pos.ID
		s.previousLow = pos.SwingLow
	}
	if pos.SwingLow.Lower(st.Bar.Low) {
		pos.SwingLow = domain.SwingPoint{Price: st.Bar.Low, Flow: st.Ind.Value(indOBV), Set: true}
	}

	c := st.Bar.Close
	stop, _ := pos.StopLoss.Get()
	target, _ := pos.TakeProfit.Get()
	if c > pos.EntryPrice*(1+s.p.BreakevenPct) && stop < pos.EntryPrice {
		stop = pos.EntryPrice
		pos.StopLoss = domain.Some(stop)
		pos.BreakevenArmed = true
	}

	switch {
	case pos.BreakevenArmed && c <= stop:
		return domain.ExitSignal{Reason: domain.ExitBreakevenStop}, true
	case c >= target:
		return domain.ExitSignal{Reason: domain.ExitTakeProfit}, true
	case c <= stop:
		return domain.ExitSignal{Reason: domain.ExitStopLoss}, true
	case s.previousLow.Set && pos.SwingLow.Price < s.previousLow.Price && pos.SwingLow.Flow > s.previousLow.Flow:
		return domain.ExitSignal{Reason: domain.ExitVolumeDivergence}, true
	}
	return domain.ExitSignal{}, false
}

func (s *ConfluentOversold) Params() []domain.Param {
	return []domain.Param{
		{Name: "fastk_period", Value: s.p.FastK},
		{Name: "slowk_period", Value: s.p.SlowK},
		{Name: "slowd_period", Value: s.p.SlowD},
		{Name: "cci_period", Value: s.p.CCIPeriod},
		{Name: "volume_period", Value: s.p.VolumePeriod},
		{Name: "stoch_oversold", Value: s.p.StochOversold},
		{Name: "cci_oversold", Value: s.p.CCIOversold},
		{Name: "profit_target", Value: s.p.ProfitTarget},
		{Name: "stop_loss_pct", Value: s.p.StopLossPct},
		{Name: "breakeven_pct", Value: s.p.BreakevenPct},
		{Name: "risk_fraction", Value: s.p.RiskFraction},
		{Name: "min_bars", Value: s.p.MinBars},
	}
}
