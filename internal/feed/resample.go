package feed

import (
	"math"
	"time"

	"barrun/internal/domain"
)

// Resample aggregates bars into buckets of width d aligned to the Unix
// epoch: first open, highest high, lowest low, last close, summed volume and
// the last funding rate seen. Buckets without bars are dropped. Input must
// be sorted by time.
func Resample(bars []domain.Bar, d time.Duration) []domain.Bar {
	if d <= 0 || len(bars) == 0 {
		return bars
	}
	var out []domain.Bar
	var cur domain.Bar
	var bucket time.Time
	open := false

	for _, b := range bars {
		start := b.Timestamp.UTC().Truncate(d)
		if !open || !start.Equal(bucket) {
			if open {
				out = append(out, cur)
			}
			bucket = start
			cur = b
			cur.Timestamp = start
			open = true
			continue
		}
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		if b.HasFunding {
			cur.FundingRate = b.FundingRate
			cur.HasFunding = true
		}
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// ParseTimeframe maps names such as "15m", "1h", "4h" and "1d" to a
// duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if n := len(tf); n > 1 && tf[n-1] == 'd' {
		d, err := time.ParseDuration(tf[:n-1] + "h")
		return 24 * d, err
	}
	return time.ParseDuration(tf)
}
