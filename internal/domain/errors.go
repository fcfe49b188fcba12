package domain

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedFeed is returned when a bar sequence violates ordering or
	// contains unusable values. A run that hits it produces no statistics.
	ErrMalformedFeed = errors.New("malformed bar feed")

	// ErrUnknownStrategy is returned when a policy name is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrOrderNotFound is returned by brokers for unknown order IDs.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrder is returned when an order cannot be accepted.
	ErrInvalidOrder = errors.New("invalid order")
)

// ValidateBars checks that bars are non-empty, strictly increasing in time
// and carry finite, positive prices and a finite non-negative volume.
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars", ErrMalformedFeed)
	}
	for i, b := range bars {
		if b.Timestamp.IsZero() {
			return fmt.Errorf("%w: bar %d has no timestamp", ErrMalformedFeed, i)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d at %s does not follow %s",
				ErrMalformedFeed, i, b.Timestamp.Format("2006-01-02 15:04:05"),
				bars[i-1].Timestamp.Format("2006-01-02 15:04:05"))
		}
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: bar %d has invalid price %v", ErrMalformedFeed, i, v)
			}
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: bar %d high %v below low %v", ErrMalformedFeed, i, b.High, b.Low)
		}
		if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
			return fmt.Errorf("%w: bar %d has invalid volume %v", ErrMalformedFeed, i, b.Volume)
		}
		if b.HasFunding && (math.IsNaN(b.FundingRate) || math.IsInf(b.FundingRate, 0)) {
			return fmt.Errorf("%w: bar %d has invalid funding rate", ErrMalformedFeed, i)
		}
	}
	return nil
}
