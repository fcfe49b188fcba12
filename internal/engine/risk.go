package engine

import (
	"math"

	"github.com/shopspring/decimal"

	"barrun/internal/domain"
)

// EquityBasis selects which account figure risk is a fraction of.
type EquityBasis string

const (
	BasisEquity  EquityBasis = "equity"
	BasisCash    EquityBasis = "cash"
	BasisInitial EquityBasis = "initial"
)

// RiskSizer converts an equity figure and a per-unit stop distance into a
// position size so that hitting the stop loses Fraction of the basis. It
// never consults leverage or margin. Sizes are rounded half to even at
// Places decimals.
//
//	size = round(basis * Fraction / stopDistance [/ price])
type RiskSizer struct {
	Fraction float64
	Basis    EquityBasis
	Places   int32

	// NormalizeByPrice divides the unit count by the entry price.
	NormalizeByPrice bool
}

// BasisValue picks the figure the sizer risks a fraction of.
func (s RiskSizer) BasisValue(acct domain.EquityState, initial float64) float64 {
	switch s.Basis {
	case BasisCash:
		return acct.Cash
	case BasisInitial:
		return initial
	default:
		return acct.Equity
	}
}

// Size returns the quantity to trade. ok is false when no trade should be
// placed: a non-positive or non-finite stop distance, a non-finite result,
// or a size that rounds to zero or below.
func (s RiskSizer) Size(basis, stopDistance, price float64) (float64, bool) {
	if !finite(basis) || !finite(stopDistance) || stopDistance <= 0 || s.Fraction <= 0 {
		return 0, false
	}
	raw := basis * s.Fraction / stopDistance
	if s.NormalizeByPrice {
		if !finite(price) || price <= 0 {
			return 0, false
		}
		raw /= price
	}
	if !finite(raw) {
		return 0, false
	}

	qty := decimal.NewFromFloat(raw).RoundBank(s.Places).InexactFloat64()
	if qty <= 0 {
		return 0, false
	}
	return qty, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
