package builtins

import (
	"math"

	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// FundingCrossoverName is the registry name of FundingCrossover.
const FundingCrossoverName = "funding-crossover"

// Compile-time interface check.
var _ strategy.Policy = (*FundingCrossover)(nil)

// FundingCrossoverParams configures FundingCrossover.
type FundingCrossoverParams struct {
	EMAPeriod     int     `yaml:"ema_period"`
	VolumePeriod  int     `yaml:"volume_period"`
	VolumeMult    float64 `yaml:"volume_mult"`
	RiskFraction  float64 `yaml:"risk_fraction"`
	TrailPct      float64 `yaml:"trail_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	MaxHoldBars   int     `yaml:"max_hold_bars"`
}

// DefaultFundingCrossoverParams returns the stock parameters.
func DefaultFundingCrossoverParams() FundingCrossoverParams {
	return FundingCrossoverParams{
		EMAPeriod:     20,
		VolumePeriod:  20,
		VolumeMult:    1.5,
		RiskFraction:  0.01,
		TrailPct:      0.02,
		TakeProfitPct: 0.04,
		MaxHoldBars:   8,
	}
}

// FundingCrossover goes long when the close crosses above its EMA on a
// volume spike while funding flips from non-negative to negative. Without
// funding data the funding condition always holds.
//
// Exit priority: trailing stop off the highest high since entry, fixed
// take-profit, funding turning positive, holding time.
type FundingCrossover struct {
	p FundingCrossoverParams
}

// NewFundingCrossover creates the policy.
func NewFundingCrossover(p FundingCrossoverParams) *FundingCrossover {
	return &FundingCrossover{p: p}
}

func newFundingCrossoverPolicy(node *yaml.Node) (strategy.Policy, error) {
	p := DefaultFundingCrossoverParams()
	if err := strategy.DecodeParams(node, &p); err != nil {
		return nil, err
	}
	if err := firstErr(
		positiveInt("ema_period", p.EMAPeriod),
		positiveInt("volume_period", p.VolumePeriod),
		positive("risk_fraction", p.RiskFraction),
		positive("trail_pct", p.TrailPct),
		positive("take_profit_pct", p.TakeProfitPct),
		positiveInt("max_hold_bars", p.MaxHoldBars),
	); err != nil {
		return nil, err
	}
	return NewFundingCrossover(p), nil
}

func (s *FundingCrossover) Name() string { return FundingCrossoverName }

func (s *FundingCrossover) Indicators(pl *indicator.Pipeline) {
	pl.Register(indEMA, emaOfClose(s.p.EMAPeriod))
	pl.Register(indVolSMA, smaOfVolume(s.p.VolumePeriod))
}

func (s *FundingCrossover) Required() []string { return []string{indEMA, indVolSMA} }

func (s *FundingCrossover) Sizer() engine.RiskSizer {
	return engine.RiskSizer{Fraction: s.p.RiskFraction, Basis: engine.BasisEquity}
}

func (s *FundingCrossover) MaxConcurrent() int { return 1 }

func (s *FundingCrossover) OnBarEntry(st *strategy.State) domain.Intent {
	if st.Index < s.p.EMAPeriod || !st.HasPrev {
		return domain.Intent{}
	}
	prevEMA, ok := st.PrevInd.Get(indEMA)
	if !ok {
		return domain.Intent{}
	}
	ema := st.Ind.Value(indEMA)
	volSMA := st.Ind.Value(indVolSMA)

	crossed := st.Prev.Close < prevEMA && st.Bar.Close > ema
	spike := st.Bar.Volume > s.p.VolumeMult*volSMA
	if !crossed || !spike || !s.fundingFlipped(st) {
		return domain.Intent{}
	}
	return domain.Intent{
		Kind:         domain.IntentEnterLong,
		StopDistance: st.Bar.Close * s.p.TrailPct,
		Reason:       "ema_cross",
	}
}

// fundingFlipped reports a non-negative to negative funding change on this
// bar, or true when the feed carries no funding.
func (s *FundingCrossover) fundingFlipped(st *strategy.State) bool {
	if !st.Bar.HasFunding {
		return true
	}
	return st.Prev.HasFunding && st.Prev.FundingRate >= 0 && st.Bar.FundingRate < 0
}

func (s *FundingCrossover) OnBarExit(st *strategy.State, pos *domain.Position) (domain.ExitSignal, bool) {
	high, ok := pos.MaxHigh.Get()
	if !ok {
		high = pos.EntryPrice
	}
	high = math.Max(high, st.Bar.High)
	pos.MaxHigh = domain.Some(high)

	switch {
	case st.Bar.Low <= high*(1-s.p.TrailPct):
		return domain.ExitSignal{Reason: domain.ExitTrailingStop}, true
	case st.Bar.Close >= pos.EntryPrice*(1+s.p.TakeProfitPct):
		return domain.ExitSignal{Reason: domain.ExitTakeProfit}, true
	case st.Bar.HasFunding && st.Bar.FundingRate > 0:
		return domain.ExitSignal{Reason: domain.ExitFundingEmergency}, true
	case st.Index-pos.EntryIndex >= s.p.MaxHoldBars:
		return domain.ExitSignal{Reason: domain.ExitTimeLimit}, true
	}
	return domain.ExitSignal{}, false
}

func (s *FundingCrossover) Params() []domain.Param {
	return []domain.Param{
		{Name: "ema_period", Value: s.p.EMAPeriod},
		{Name: "volume_period", Value: s.p.VolumePeriod},
		{Name: "volume_mult", Value: s.p.VolumeMult},
		{Name: "risk_fraction", Value: s.p.RiskFraction},
		{Name: "trail_pct", Value: s.p.TrailPct},
		{Name: "take_profit_pct", Value: s.p.TakeProfitPct},
		{Name: "max_hold_bars", Value: s.p.MaxHoldBars},
	}
}
