// Package indicator computes causal technical indicators over bar sequences.
// Every transform is a pure function whose value at index i depends only on
// bars 0..i. Undefined values (warmup, gaps) are NaN in a Series and are
// surfaced to callers as an explicit ok=false, never as zero.
package indicator

import (
	"math"

	"barrun/internal/domain"
)

// Series is an indicator aligned one-to-one with its input bars.
type Series []float64

// newSeries returns a Series of length n filled with NaN.
func newSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// At returns the value at i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) || math.IsNaN(s[i]) {
		return math.NaN(), false
	}
	return s[i], true
}

// FirstDefined returns the first defined index, or -1.
func (s Series) FirstDefined() int {
	for i, v := range s {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}

// Close projects bar closes.
func Close(bars []domain.Bar) Series {
	s := make(Series, len(bars))
	for i, b := range bars {
		s[i] = b.Close
	}
	return s
}

// Volume projects bar volumes.
func Volume(bars []domain.Bar) Series {
	s := make(Series, len(bars))
	for i, b := range bars {
		s[i] = b.Volume
	}
	return s
}

// Funding projects funding rates; bars without funding are undefined.
func Funding(bars []domain.Bar) Series {
	s := newSeries(len(bars))
	for i, b := range bars {
		if b.HasFunding {
			s[i] = b.FundingRate
		}
	}
	return s
}

// Spread is the bid/ask spread proxy (high-low)/close.
func Spread(bars []domain.Bar) Series {
	s := newSeries(len(bars))
	for i, b := range bars {
		if b.Close != 0 {
			s[i] = (b.High - b.Low) / b.Close
		}
	}
	return s
}

// eachRun calls fn for every maximal run [start, end) of defined values.
func eachRun(x Series, fn func(start, end int)) {
	i := 0
	for i < len(x) {
		for i < len(x) && math.IsNaN(x[i]) {
			i++
		}
		start := i
		for i < len(x) && !math.IsNaN(x[i]) {
			i++
		}
		if i > start {
			fn(start, i)
		}
	}
}

// ---------------------------------------------------------------------------
// Single-input transforms
// ---------------------------------------------------------------------------

// SMA is the simple moving average. The first value is at period-1 of each
// defined run.
func SMA(x Series, period int) Series {
	out := newSeries(len(x))
	if period <= 0 {
		return out
	}
	eachRun(x, func(start, end int) {
		sum := 0.0
		for i := start; i < end; i++ {
			sum += x[i]
			if i-start >= period {
				sum -= x[i-period]
			}
			if i-start >= period-1 {
				out[i] = sum / float64(period)
			}
		}
	})
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first
// period values, smoothing factor 2/(period+1).
func EMA(x Series, period int) Series {
	out := newSeries(len(x))
	if period <= 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	eachRun(x, func(start, end int) {
		if end-start < period {
			return
		}
		seed := 0.0
		for i := start; i < start+period; i++ {
			seed += x[i]
		}
		prev := seed / float64(period)
		out[start+period-1] = prev
		for i := start + period; i < end; i++ {
			prev = prev + k*(x[i]-prev)
			out[i] = prev
		}
	})
	return out
}

// StdDev is the population standard deviation over period values. A window
// of identical values yields exactly zero.
func StdDev(x Series, period int) Series {
	out := newSeries(len(x))
	if period <= 0 {
		return out
	}
	eachRun(x, func(start, end int) {
		for i := start + period - 1; i < end; i++ {
			w := x[i-period+1 : i+1]
			out[i] = stddev(w)
		}
	})
	return out
}

func stddev(w []float64) float64 {
	constant := true
	for _, v := range w[1:] {
		if v != w[0] {
			constant = false
			break
		}
	}
	if constant {
		return 0
	}
	mean := 0.0
	for _, v := range w {
		mean += v
	}
	mean /= float64(len(w))
	ss := 0.0
	for _, v := range w {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(w)))
}

// ZScore is (x - mean) / stdev over period values. It is undefined where the
// standard deviation is undefined or zero.
func ZScore(x Series, period int) Series {
	mean := SMA(x, period)
	sd := StdDev(x, period)
	out := newSeries(len(x))
	for i := range x {
		m, ok1 := mean.At(i)
		s, ok2 := sd.At(i)
		if !ok1 || !ok2 || s == 0 || math.IsNaN(x[i]) {
			continue
		}
		out[i] = (x[i] - m) / s
	}
	return out
}

// RSI is Wilder's relative strength index. The first value is at index
// period of each defined run.
func RSI(x Series, period int) Series {
	out := newSeries(len(x))
	if period <= 0 {
		return out
	}
	n := float64(period)
	eachRun(x, func(start, end int) {
		if end-start <= period {
			return
		}
		gain, loss := 0.0, 0.0
		for i := start + 1; i <= start+period; i++ {
			d := x[i] - x[i-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		gain /= n
		loss /= n
		out[start+period] = rsiValue(gain, loss)
		for i := start + period + 1; i < end; i++ {
			d := x[i] - x[i-1]
			g, l := 0.0, 0.0
			if d > 0 {
				g = d
			} else {
				l = -d
			}
			gain = (gain*(n-1) + g) / n
			loss = (loss*(n-1) + l) / n
			out[i] = rsiValue(gain, loss)
		}
	})
	return out
}

func rsiValue(gain, loss float64) float64 {
	total := gain + loss
	if total == 0 {
		return 0
	}
	return 100 * gain / total
}
