// Package builtins provides the strategy policies that ship with barrun.
package builtins

import (
	"fmt"

	"barrun/internal/domain"
	"barrun/internal/indicator"
	"barrun/internal/strategy"
)

// RegisterAll adds every built-in policy factory to r.
func RegisterAll(r *strategy.Registry) {
	r.Register(FundingCrossoverName, newFundingCrossoverPolicy)
	r.Register(ConfluentOversoldName, newConfluentOversoldPolicy)
	r.Register(OpportunisticMakerName, newOpportunisticMakerPolicy)
	r.Register(BandReversionName, newBandReversionPolicy)
	r.Register(ZScoreReversionName, newZScoreReversionPolicy)
	r.Register(TrendAlignmentName, newTrendAlignmentPolicy)
}

// NewRegistry returns a registry holding every built-in policy.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	RegisterAll(r)
	return r
}

// Indicator names shared by the policies.
const (
	indEMA     = "ema"
	indEMAFast = "ema_fast"
	indEMASlow = "ema_slow"
	indVolSMA  = "vol_sma"
	indRSI     = "rsi"
	indStd     = "std"
	indATR     = "atr"
	indADX     = "adx"
	indCCI     = "cci"
	indSlowK   = "slow_k"
	indSlowD   = "slow_d"
	indOBV     = "obv"
	indSpread  = "spread"
	indSprSMA  = "spread_sma"
	indZScore  = "zscore"
)

func emaOfClose(period int) indicator.Transform {
	return func(b []domain.Bar) indicator.Series { return indicator.EMA(indicator.Close(b), period) }
}

func smaOfVolume(period int) indicator.Transform {
	return func(b []domain.Bar) indicator.Series { return indicator.SMA(indicator.Volume(b), period) }
}

func rsiOfClose(period int) indicator.Transform {
	return func(b []domain.Bar) indicator.Series { return indicator.RSI(indicator.Close(b), period) }
}

func atrOf(period int) indicator.Transform {
	return func(b []domain.Bar) indicator.Series { return indicator.ATR(b, period) }
}

func positive(name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return nil
}

func positiveInt(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, v)
	}
	return nil
}

// firstErr returns the first non-nil error.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
