package strategy

import (
	"math"
	"sort"
	"time"

	"barrun/internal/domain"
)

const year = 365 * 24 * time.Hour

// ComputeSummary derives the fixed-shape summary from an equity curve and
// closed trades. Profit factor is 0 when there are no losing trades and the
// Sharpe ratio is 0 when returns have no variance.
func ComputeSummary(policy Policy, bars []domain.Bar, eq []domain.EquityPoint, trades []domain.Trade, initial float64) domain.Summary {
	s := domain.Summary{
		Strategy:      policy.Name(),
		Bars:          len(bars),
		InitialEquity: initial,
		FinalEquity:   initial,
		TotalTrades:   len(trades),
		Params:        policy.Params(),
	}
	if len(bars) > 0 {
		s.Symbol = bars[0].Symbol
		s.Start = bars[0].Timestamp
		s.End = bars[len(bars)-1].Timestamp
	}
	if len(eq) > 0 {
		s.FinalEquity = eq[len(eq)-1].Equity
	}
	if initial != 0 {
		s.TotalReturn = (s.FinalEquity - initial) / initial * 100
	}

	peak := initial
	for _, p := range eq {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if d := (p.Equity - peak) / peak * 100; d < s.MaxDrawdown {
				s.MaxDrawdown = d
			}
		}
	}

	var gross, loss float64
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			gross += t.PnL
		} else {
			loss -= t.PnL
		}
	}
	if len(trades) > 0 {
		s.WinRate = float64(wins) / float64(len(trades)) * 100
	}
	if loss > 0 {
		s.ProfitFactor = gross / loss
	}

	s.SharpeRatio = sharpe(bars, eq, initial)
	return s
}

// sharpe annualises the mean per-bar return by the median bar spacing.
func sharpe(bars []domain.Bar, eq []domain.EquityPoint, initial float64) float64 {
	if len(eq) < 2 || len(bars) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(eq))
	prev := initial
	for _, p := range eq {
		if prev != 0 {
			rets = append(rets, p.Equity/prev-1)
		}
		prev = p.Equity
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets))
	if variance == 0 {
		return 0
	}

	gaps := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		gaps = append(gaps, float64(bars[i].Timestamp.Sub(bars[i-1].Timestamp)))
	}
	sort.Float64s(gaps)
	step := gaps[len(gaps)/2]
	if step <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(float64(year)/step)
}
