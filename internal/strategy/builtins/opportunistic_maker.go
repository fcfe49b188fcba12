package builtins

import (
	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// OpportunisticMakerName is the registry name of OpportunisticMaker.
const OpportunisticMakerName = "opportunistic-maker"

var (
	_ strategy.Policy  = (*OpportunisticMaker)(nil)
	_ strategy.Expirer = (*OpportunisticMaker)(nil)
)

// OpportunisticMakerParams configures OpportunisticMaker.
type OpportunisticMakerParams struct {
	VolumePeriod    int     `yaml:"volume_period"`
	VolumeMult      float64 `yaml:"volume_mult"`
	ATRPeriod       int     `yaml:"atr_period"`
	ATRThreshold    float64 `yaml:"atr_threshold"`
	SpreadPeriod    int     `yaml:"spread_period"`
	SpreadMult      float64 `yaml:"spread_mult"`
	ADXPeriod       int     `yaml:"adx_period"`
	ADXThreshold    float64 `yaml:"adx_threshold"`
	LimitOffsetMult float64 `yaml:"limit_offset_mult"`
	StopMult        float64 `yaml:"stop_mult"`
	TargetMult      float64 `yaml:"target_mult"`
	RiskFraction    float64 `yaml:"risk_fraction"`
	MaxConcurrent   int     `yaml:"max_concurrent"`
	MinBars         int     `yaml:"min_bars"`
	OrderTTL        int     `yaml:"order_ttl"`
}

// DefaultOpportunisticMakerParams returns the stock parameters.
func DefaultOpportunisticMakerParams() OpportunisticMakerParams {
	return OpportunisticMakerParams{
		VolumePeriod:    20,
		VolumeMult:      1.5,
		ATRPeriod:       14,
		ATRThreshold:    0.005,
		SpreadPeriod:    20,
		SpreadMult:      1.1,
		ADXPeriod:       14,
		ADXThreshold:    25,
		LimitOffsetMult: 0.5,
		StopMult:        1.0,
		TargetMult:      2.0,
		RiskFraction:    0.005,
		MaxConcurrent:   5,
		MinBars:         50,
	}
}

// OpportunisticMaker quotes both sides around the close when volume spikes
// in a quiet, ranging market with a wide bar spread. Each leg carries its own
// stop and target offset from its limit; the stop wins when a bar touches
// both.
type OpportunisticMaker struct {
	p OpportunisticMakerParams
}

// NewOpportunisticMaker creates the policy.
func NewOpportunisticMaker(p OpportunisticMakerParams) *OpportunisticMaker {
	return &OpportunisticMaker{p: p}
}

func newOpportunisticMakerPolicy(node *yaml.Node) (strategy.Policy, error) {
	p := DefaultOpportunisticMakerParams()
	if err := strategy.DecodeParams(node, &p); err != nil {
		return nil, err
	}
	if err := firstErr(
		positiveInt("volume_period", p.VolumePeriod),
		positiveInt("atr_period", p.ATRPeriod),
		positiveInt("spread_period", p.SpreadPeriod),
		positiveInt("adx_period", p.ADXPeriod),
		positive("limit_offset_mult", p.LimitOffsetMult),
		positive("stop_mult", p.StopMult),
		positive("target_mult", p.TargetMult),
		positive("risk_fraction", p.RiskFraction),
		positiveInt("max_concurrent", p.MaxConcurrent),
	); err != nil {
		return nil, err
	}
	return NewOpportunisticMaker(p), nil
}

func (s *OpportunisticMaker) Name() string { return OpportunisticMakerName }

func (s *OpportunisticMaker) Indicators(pl *indicator.Pipeline) {
	pl.Register(indVolSMA, smaOfVolume(s.p.VolumePeriod))
	pl.Register(indATR, atrOf(s.p.ATRPeriod))
	pl.Register(indSpread, indicator.Spread)
	pl.Register(indSprSMA, func(b []domain.Bar) indicator.Series {
		return indicator.SMA(indicator.Spread(b), s.p.SpreadPeriod)
	})
	pl.Register(indADX, func(b []domain.Bar) indicator.Series { return indicator.ADX(b, s.p.ADXPeriod) })
}

func (s *OpportunisticMaker) Required() []string {
	return []string{indVolSMA, indATR, indSpread, indSprSMA, indADX}
}

func (s *OpportunisticMaker) Sizer() engine.RiskSizer {
	return engine.RiskSizer{
		Fraction:         s.p.RiskFraction,
		Basis:            engine.BasisEquity,
		Places:           4,
		NormalizeByPrice: true,
	}
}

func (s *OpportunisticMaker) MaxConcurrent() int { return s.p.MaxConcurrent }

func (s *OpportunisticMaker) OrderTTL() int { return s.p.OrderTTL }

func (s *OpportunisticMaker) OnBarEntry(st *strategy.State) domain.Intent {
	if st.Index+1 < s.p.MinBars {
		return domain.Intent{}
	}
	c := st.Bar.Close
	atr := st.Ind.Value(indATR)

	spike := st.Bar.Volume > s.p.VolumeMult*st.Ind.Value(indVolSMA)
	quiet := atr/c < s.p.ATRThreshold
	wide := st.Ind.Value(indSpread) > s.p.SpreadMult*st.Ind.Value(indSprSMA)
	ranging := st.Ind.Value(indADX) < s.p.ADXThreshold
	if !spike || !quiet || !wide || !ranging {
		return domain.Intent{}
	}
	return domain.Intent{
		Kind:         domain.IntentMakerPair,
		StopDistance: s.p.StopMult * atr,
		LimitOffset:  s.p.LimitOffsetMult * atr,
		StopOffset:   s.p.StopMult * atr,
		TargetOffset: s.p.TargetMult * atr,
		Volatility:   domain.Some(atr),
		Reason:       "maker_quote",
	}
}

func (s *OpportunisticMaker) OnBarExit(st *strategy.State, pos *domain.Position) (domain.ExitSignal, bool) {
	stop, hasStop := pos.StopLoss.Get()
	target, hasTarget := pos.TakeProfit.Get()
	b := st.Bar

	if pos.Side == domain.SideLong {
		if hasStop && b.Low <= stop {
			return domain.ExitSignal{Reason: domain.ExitStopLoss, Price: domain.Some(stop), Stop: true}, true
		}
		if hasTarget && b.High >= target {
			return domain.ExitSignal{Reason: domain.ExitTakeProfit, Price: domain.Some(target)}, true
		}
		return domain.ExitSignal{}, false
	}
	if hasStop && b.High >= stop {
		return domain.ExitSignal{Reason: domain.ExitStopLoss, Price: domain.Some(stop), Stop: true}, true
	}
	if hasTarget && b.Low <= target {
		return domain.ExitSignal{Reason: domain.ExitTakeProfit, Price: domain.Some(target)}, true
	}
	return domain.ExitSignal{}, false
}

func (s *OpportunisticMaker) Params() []domain.Param {
	return []domain.Param{
		{Name: "volume_period", Value: s.p.VolumePeriod},
		{Name: "volume_mult", Value: s.p.VolumeMult},
		{Name: "atr_period", Value: s.p.ATRPeriod},
		{Name: "atr_threshold", Value: s.p.ATRThreshold},
		{Name: "spread_period", Value: s.p.SpreadPeriod},
		{Name: "spread_mult", Value: s.p.SpreadMult},
		{Name: "adx_period", Value: s.p.ADXPeriod},
		{Name: "adx_threshold", Value: s.p.ADXThreshold},
		{Name: "limit_offset_mult", Value: s.p.LimitOffsetMult},
		{Name: "stop_mult", Value: s.p.StopMult},
		{Name: "target_mult", Value: s.p.TargetMult},
		{Name: "risk_fraction", Value: s.p.RiskFraction},
		{Name: "max_concurrent", Value: s.p.MaxConcurrent},
		{Name: "min_bars", Value: s.p.MinBars},
		{Name: "order_ttl", Value: s.p.OrderTTL},
	}
}
