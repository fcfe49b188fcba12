package builtins

import (
	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// TrendAlignmentName is the registry name of TrendAlignment.
const TrendAlignmentName = "trend-alignment"

var _ strategy.Policy = (*TrendAlignment)(nil)

// TrendAlignmentParams configures TrendAlignment.
type TrendAlignmentParams struct {
	FastPeriod   int     `yaml:"fast_period"`
	SlowPeriod   int     `yaml:"slow_period"`
	RSIPeriod    int     `yaml:"rsi_period"`
	RSILong      float64 `yaml:"rsi_long"`
	RSIShort     float64 `yaml:"rsi_short"`
	VolumePeriod int     `yaml:"volume_period"`
	VolumeMult   float64 `yaml:"volume_mult"`
	ATRPeriod    int     `yaml:"atr_period"`
	StopMult     float64 `yaml:"stop_mult"`
	RewardRatio  float64 `yaml:"reward_ratio"`
	RiskFraction float64 `yaml:"risk_fraction"`
}

// DefaultTrendAlignmentParams returns the stock parameters.
func DefaultTrendAlignmentParams() TrendAlignmentParams {
	return TrendAlignmentParams{
		FastPeriod:   50,
		SlowPeriod:   200,
		RSIPeriod:    14,
		RSILong:      55,
		RSIShort:     45,
		VolumePeriod: 20,
		VolumeMult:   1.5,
		ATRPeriod:    14,
		StopMult:     1.5,
		RewardRatio:  3,
		RiskFraction: 0.01,
	}
}

// TrendAlignment trades with the EMA stack when momentum and volume agree.
// Stop and target are multiples of the ATR frozen at entry, so later
// volatility does not move them. Risk is a fraction of cash.
type TrendAlignment struct {
	p TrendAlignmentParams
}

// NewTrendAlignment creates the policy.
func NewTrendAlignment(p TrendAlignmentParams) *TrendAlignment {
	return &TrendAlignment{p: p}
}

func newTrendAlignmentPolicy(node *yaml.Node) (strategy.Policy, error) {
	p := DefaultTrendAlignmentParams()
	if err := strategy.DecodeParams(node, &p); err != nil {
		return nil, err
	}
	if err := firstErr(
		positiveInt("fast_period", p.FastPeriod),
		positiveInt("slow_period", p.SlowPeriod),
		positiveInt("rsi_period", p.RSIPeriod),
		positiveInt("volume_period", p.VolumePeriod),
		positiveInt("atr_period", p.ATRPeriod),
		positive("stop_mult", p.StopMult),
		positive("reward_ratio", p.RewardRatio),
		positive("risk_fraction", p.RiskFraction),
	); err != nil {
		return nil, err
	}
	return NewTrendAlignment(p), nil
}

func (s *TrendAlignment) Name() string { return TrendAlignmentName }

func (s *TrendAlignment) Indicators(pl *indicator.Pipeline) {
	pl.Register(indEMAFast, emaOfClose(s.p.FastPeriod))
	pl.Register(indEMASlow, emaOfClose(s.p.SlowPeriod))
	pl.Register(indRSI, rsiOfClose(s.p.RSIPeriod))
	pl.Register(indVolSMA, smaOfVolume(s.p.VolumePeriod))
	pl.Register(indATR, atrOf(s.p.ATRPeriod))
}

func (s *TrendAlignment) Required() []string {
	return []string{indEMAFast, indEMASlow, indRSI, indVolSMA, indATR}
}

func (s *TrendAlignment) Sizer() engine.RiskSizer {
	return engine.RiskSizer{Fraction: s.p.RiskFraction, Basis: engine.BasisCash}
}

func (s *TrendAlignment) MaxConcurrent() int { return 1 }

func (s *TrendAlignment) OnBarEntry(st *strategy.State) domain.Intent {
	c := st.Bar.Close
	fast := st.Ind.Value(indEMAFast)
	slow := st.Ind.Value(indEMASlow)
	rsi := st.Ind.Value(indRSI)
	atr := st.Ind.Value(indATR)
	if st.Bar.Volume <= s.p.VolumeMult*st.Ind.Value(indVolSMA) {
		return domain.Intent{}
	}

	intent := domain.Intent{StopDistance: s.p.StopMult * atr, Volatility: domain.Some(atr)}
	switch {
	case c > fast && fast > slow && rsi > s.p.RSILong:
		intent.Kind = domain.IntentEnterLong
		intent.Reason = "trend_up"
	case c < fast && fast < slow && rsi < s.p.RSIShort:
		intent.Kind = domain.IntentEnterShort
		intent.Reason = "trend_down"
	default:
		return domain.Intent{}
	}
	return intent
}

func (s *TrendAlignment) OnBarExit(st *strategy.State, pos *domain.Position) (domain.ExitSignal, bool) {
	vol, ok := pos.EntryVolatility.Get()
	if !ok {
		vol = st.Ind.Value(indATR)
		pos.EntryVolatility = domain.Some(vol)
	}
	stopDist := s.p.StopMult * vol
	targetDist := s.p.RewardRatio * stopDist

	c := st.Bar.Close
	if pos.Side == domain.SideLong {
		switch {
		case c <= pos.EntryPrice-stopDist:
			return domain.ExitSignal{Reason: domain.ExitStopLoss}, true
		case c >= pos.EntryPrice+targetDist:
			return domain.ExitSignal{Reason: domain.ExitTakeProfit}, true
		}
		return domain.ExitSignal{}, false
	}
	switch {
	case c >= pos.EntryPrice+stopDist:
		return domain.ExitSignal{Reason: domain.ExitStopLoss}, true
	case c <= pos.EntryPrice-targetDist:
		return domain.ExitSignal{Reason: domain.ExitTakeProfit}, true
	}
	return domain.ExitSignal{}, false
}

func (s *TrendAlignment) Params() []domain.Param {
	return []domain.Param{
		{Name: "fast_period", Value: s.p.FastPeriod},
		{Name: "slow_period", Value: s.p.SlowPeriod},
		{Name: "rsi_period", Value: s.p.RSIPeriod},
		{Name: "rsi_long", Value: s.p.RSILong},
		{Name: "rsi_short", Value: s.p.RSIShort},
		{Name: "volume_period", Value: s.p.VolumePeriod},
		{Name: "volume_mult", Value: s.p.VolumeMult},
		{Name: "atr_period", Value: s.p.ATRPeriod},
		{Name: "stop_mult", Value: s.p.StopMult},
		{Name: "reward_ratio", Value: s.p.RewardRatio},
		{Name: "risk_fraction", Value: s.p.RiskFraction},
	}
}
