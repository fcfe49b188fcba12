package builtins

import (
	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// BandReversionName is the registry name of BandReversion.
const BandReversionName = "band-reversion"

var _ strategy.Policy = (*BandReversion)(nil)

// BandReversionParams configures BandReversion.
type BandReversionParams struct {
	EMAPeriod     int     `yaml:"ema_period"`
	StdPeriod     int     `yaml:"std_period"`
	StdMult       float64 `yaml:"std_mult"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	VolumePeriod  int     `yaml:"volume_period"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	RiskFraction  float64 `yaml:"risk_fraction"`
	MaxHoldBars   int     `yaml:"max_hold_bars"`
}

// DefaultBandReversionParams returns the stock parameters.
func DefaultBandReversionParams() BandReversionParams {
	return BandReversionParams{
		EMAPeriod:     20,
		StdPeriod:     20,
		StdMult:       2,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		VolumePeriod:  10,
		StopLossPct:   0.04,
		TakeProfitPct: 0.075,
		RiskFraction:  0.01,
		MaxHoldBars:   480,
	}
}

// BandReversion buys a close below the lower EMA band when RSI is oversold
// and volume is above average. The entry carries an attached stop and
// target; the policy also exits on reversion to the EMA, an overbought RSI
// or when the holding time runs out.
type BandReversion struct {
	p BandReversionParams
}

// NewBandReversion creates the policy.
func NewBandReversion(p BandReversionParams) *BandReversion {
	return &BandReversion{p: p}
}

func newBandReversionPolicy(node *yaml.Node) (strategy.Policy, error) {
	p := DefaultBandReversionParams()
	if err := strategy.DecodeParams(node, &p); err != nil {
		return nil, err
	}
	if err := firstErr(
		positiveInt("ema_period", p.EMAPeriod),
		positiveInt("std_period", p.StdPeriod),
		positiveInt("rsi_period", p.RSIPeriod),
		positiveInt("volume_period", p.VolumePeriod),
		positive("stop_loss_pct", p.StopLossPct),
		positive("take_profit_pct", p.TakeProfitPct),
		positive("risk_fraction", p.RiskFraction),
		positiveInt("max_hold_bars", p.MaxHoldBars),
	); err != nil {
		return nil, err
	}
	return NewBandReversion(p), nil
}

func (s *BandReversion) Name() string { return BandReversionName }

func (s *BandReversion) Indicators(pl *indicator.Pipeline) {
	pl.Register(indEMA, emaOfClose(s.p.EMAPeriod))
	pl.Register(indStd, func(b []domain.Bar) indicator.Series {
		return indicator.StdDev(indicator.Close(b), s.p.StdPeriod)
	})
	pl.Register(indRSI, rsiOfClose(s.p.RSIPeriod))
	pl.Register(indVolSMA, smaOfVolume(s.p.VolumePeriod))
}

func (s *BandReversion) Required() []string {
	return []string{indEMA, indStd, indRSI, indVolSMA}
}

func (s *BandReversion) Sizer() engine.RiskSizer {
	return engine.RiskSizer{Fraction: s.p.RiskFraction, Basis: engine.BasisEquity}
}

func (s *BandReversion) MaxConcurrent() int { return 1 }

func (s *BandReversion) OnBarEntry(st *strategy.State) domain.Intent {
	c := st.Bar.Close
	lower := st.Ind.Value(indEMA) - s.p.StdMult*st.Ind.Value(indStd)
	if c >= lower || st.Ind.Value(indRSI) >= s.p.RSIOversold || st.Bar.Volume <= st.Ind.Value(indVolSMA) {
		return domain.Intent{}
	}
	return domain.Intent{
		Kind:         domain.IntentEnterLong,
		StopDistance: c * s.p.StopLossPct,
		StopLoss:     domain.Some(c * (1 - s.p.StopLossPct)),
		TakeProfit:   domain.Some(c * (1 + s.p.TakeProfitPct)),
		Reason:       "lower_band",
	}
}

func (s *BandReversion) OnBarExit(st *strategy.State, pos *domain.Position) (domain.ExitSignal, bool) {
	pos.BarsHeld++
	b := st.Bar

	if stop, ok := pos.StopLoss.Get(); ok && b.Low <= stop {
		return domain.ExitSignal{Reason: domain.ExitStopLoss, Price: domain.Some(stop), Stop: true}, true
	}
	if target, ok := pos.TakeProfit.Get(); ok && b.High >= target {
		return domain.ExitSignal{Reason: domain.ExitTakeProfit, Price: domain.Some(target)}, true
	}
	switch {
	case b.Close >= st.Ind.Value(indEMA):
		return domain.ExitSignal{Reason: domain.ExitMeanReversion}, true
	case st.Ind.Value(indRSI) > s.p.RSIOverbought:
		return domain.ExitSignal{Reason: domain.ExitOverbought}, true
	case pos.BarsHeld > s.p.MaxHoldBars:
		return domain.ExitSignal{Reason: domain.ExitTimeLimit}, true
	}
	return domain.ExitSignal{}, false
}

func (s *BandReversion) Params() []domain.Param {
	return []domain.Param{
		{Name: "ema_period", Value: s.p.EMAPeriod},
		{Name: "std_period", Value: s.p.StdPeriod},
		{Name: "std_mult", Value: s.p.StdMult},
		{Name: "rsi_period", Value: s.p.RSIPeriod},
		{Name: "rsi_oversold", Value: s.p.RSIOversold},
		{Name: "rsi_overbought", Value: s.p.RSIOverbought},
		{Name: "volume_period", Value: s.p.VolumePeriod},
		{Name: "stop_loss_pct", Value: s.p.StopLossPct},
		{Name: "take_profit_pct", Value: s.p.TakeProfitPct},
		{Name: "risk_fraction", Value: s.p.RiskFraction},
		{Name: "max_hold_bars", Value: s.p.MaxHoldBars},
	}
}
