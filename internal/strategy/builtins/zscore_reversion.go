package builtins

import (
	"math"

	"gopkg.in/yaml.v3"

	"barrun/internal/domain"
	"barrun/internal/engine"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// ZScoreReversionName is the registry name of ZScoreReversion.
const ZScoreReversionName = "zscore-reversion"

var _ strategy.Policy = (*ZScoreReversion)(nil)

// ZScoreReversionParams configures ZScoreReversion.
type ZScoreReversionParams struct {
	Lookback     int     `yaml:"lookback"`
	EntryZ       float64 `yaml:"entry_z"`
	ExitZ        float64 `yaml:"exit_z"`
	StopZ        float64 `yaml:"stop_z"`
	StopPct      float64 `yaml:"stop_pct"`
	RiskFraction float64 `yaml:"risk_fraction"`
}

// DefaultZScoreReversionParams returns the stock parameters.
func DefaultZScoreReversionParams() ZScoreReversionParams {
	return ZScoreReversionParams{
		Lookback:     60,
		EntryZ:       2,
		ExitZ:        0.5,
		StopZ:        3,
		StopPct:      0.02,
		RiskFraction: 0.01,
	}
}

// ZScoreReversion fades stretched closes: short above +EntryZ, long below
// -EntryZ. Positions close when the stretch widens past StopZ against them
// or decays inside ExitZ. A window with zero deviation leaves the score
// undefined and the bar is skipped.
type ZScoreReversion struct {
	p ZScoreReversionParams
}

// NewZScoreReversion creates the policy.
func NewZScoreReversion(p ZScoreReversionParams) *ZScoreReversion {
	return &ZScoreReversion{p: p}
}

func newZScoreReversionPolicy(node *yaml.Node) (strategy.Policy, error) {
	p := DefaultZScoreReversionParams()
	if err := strategy.DecodeParams(node, &p); err != nil {
		return nil, err
	}
	if err := firstErr(
		positiveInt("lookback", p.Lookback),
		positive("entry_z", p.EntryZ),
		positive("exit_z", p.ExitZ),
		positive("stop_z", p.StopZ),
		positive("stop_pct", p.StopPct),
		positive("risk_fraction", p.RiskFraction),
	); err != nil {
		return nil, err
	}
	return NewZScoreReversion(p), nil
}

func (s *ZScoreReversion) Name() string { return ZScoreReversionName }

func (s *ZScoreReversion) Indicators(pl *indicator.Pipeline) {
	pl.Register(indZScore, func(b []domain.Bar) indicator.Series {
		return indicator.ZScore(indicator.Close(b), s.p.Lookback)
	})
}

func (s *ZScoreReversion) Required() []string { return []string{indZScore} }

func (s *ZScoreReversion) Sizer() engine.RiskSizer {
	return engine.RiskSizer{Fraction: s.p.RiskFraction, Basis: engine.BasisEquity}
}

func (s *ZScoreReversion) MaxConcurrent() int { return 1 }

func (s *ZScoreReversion) OnBarEntry(st *strategy.State) domain.Intent {
	z := st.Ind.Value(indZScore)
	dist := st.Bar.Close * s.p.StopPct
	switch {
	case z > s.p.EntryZ:
		return domain.Intent{Kind: domain.IntentEnterShort, StopDistance: dist, Reason: "z_high"}
	case z < -s.p.EntryZ:
		return domain.Intent{Kind: domain.IntentEnterLong, StopDistance: dist, Reason: "z_low"}
	}
	return domain.Intent{}
}

func (s *ZScoreReversion) OnBarExit(st *strategy.State, pos *domain.Position) (domain.ExitSignal, bool) {
	z := st.Ind.Value(indZScore)
	switch {
	case pos.Side == domain.SideLong && z < -s.p.StopZ,
		pos.Side == domain.SideShort && z > s.p.StopZ:
		return domain.ExitSignal{Reason: domain.ExitZStop}, true
	case math.Abs(z) < s.p.ExitZ:
		return domain.ExitSignal{Reason: domain.ExitZReversion}, true
	}
	return domain.ExitSignal{}, false
}

func (s *ZScoreReversion) Params() []domain.Param {
	return []domain.Param{
		{Name: "lookback", Value: s.p.Lookback},
		{Name: "entry_z", Value: s.p.EntryZ},
		{Name: "exit_z", Value: s.p.ExitZ},
		{Name: "stop_z", Value: s.p.StopZ},
		{Name: "stop_pct", Value: s.p.StopPct},
		{Name: "risk_fraction", Value: s.p.RiskFraction},
	}
}
