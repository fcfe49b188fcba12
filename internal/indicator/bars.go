package indicator

import (
	"math"

	"barrun/internal/domain"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). It is
// undefined on the first bar.
func TrueRange(bars []domain.Bar) Series {
	out := newSeries(len(bars))
	for i := 1; i < len(bars); i++ {
		out[i] = trueRange(bars[i], bars[i-1].Close)
	}
	return out
}

func trueRange(b domain.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if v := math.Abs(b.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(b.Low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// ATR is Wilder's average true range. The first value, at index period, is
// the mean of the first period true ranges.
func ATR(bars []domain.Bar, period int) Series {
	out := newSeries(len(bars))
	if period <= 0 || len(bars) <= period {
		return out
	}
	n := float64(period)
	tr := TrueRange(bars)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	prev := sum / n
	out[period] = prev
	for i := period + 1; i < len(bars); i++ {
		prev = (prev*(n-1) + tr[i]) / n
		out[i] = prev
	}
	return out
}

// ADX is Wilder's average directional index. The first value is at index
// 2*period-1.
func ADX(bars []domain.Bar, period int) Series {
	out := newSeries(len(bars))
	if period <= 1 || len(bars) < 2*period {
		return out
	}
	n := float64(period)

	dm := func(i int) (plus, minus float64) {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		switch {
		case down > 0 && up < down:
			minus = down
		case up > 0 && up > down:
			plus = up
		}
		return plus, minus
	}
	dx := func(plusDM, minusDM, tr float64) (float64, bool) {
		if tr == 0 {
			return 0, false
		}
		plusDI := 100 * plusDM / tr
		minusDI := 100 * minusDM / tr
		sum := plusDI + minusDI
		if sum == 0 {
			return 0, false
		}
		return 100 * math.Abs(minusDI-plusDI) / sum, true
	}

	var plusDM, minusDM, trSum float64
	for i := 1; i < period; i++ {
		p, m := dm(i)
		plusDM += p
		minusDM += m
		trSum += trueRange(bars[i], bars[i-1].Close)
	}

	step := func(i int) {
		p, m := dm(i)
		plusDM = plusDM - plusDM/n + p
		minusDM = minusDM - minusDM/n + m
		trSum = trSum - trSum/n + trueRange(bars[i], bars[i-1].Close)
	}

	sumDX := 0.0
	for i := period; i < 2*period; i++ {
		step(i)
		if v, ok := dx(plusDM, minusDM, trSum); ok {
			sumDX += v
		}
	}
	adx := sumDX / n
	out[2*period-1] = adx

	for i := 2 * period; i < len(bars); i++ {
		step(i)
		if v, ok := dx(plusDM, minusDM, trSum); ok {
			adx = (adx*(n-1) + v) / n
		}
		out[i] = adx
	}
	return out
}

// CCI is the commodity channel index over the typical price. A window with
// zero mean deviation yields 0.
func CCI(bars []domain.Bar, period int) Series {
	out := newSeries(len(bars))
	if period <= 0 {
		return out
	}
	tp := make([]float64, len(bars))
	for i, b := range bars {
		tp[i] = (b.High + b.Low + b.Close) / 3
	}
	for i := period - 1; i < len(bars); i++ {
		w := tp[i-period+1 : i+1]
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(period)
		dev := 0.0
		for _, v := range w {
			dev += math.Abs(v - mean)
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (tp[i] - mean) / (0.015 * dev)
	}
	return out
}

// Stoch returns the slow stochastic %K and %D lines using simple moving
// averages for both smoothings. Both lines start at the same index,
// fastK+slowK+slowD-3.
func Stoch(bars []domain.Bar, fastK, slowK, slowD int) (k, d Series) {
	fast := newSeries(len(bars))
	if fastK > 0 {
		for i := fastK - 1; i < len(bars); i++ {
			hh, ll := bars[i].High, bars[i].Low
			for j := i - fastK + 1; j < i; j++ {
				hh = math.Max(hh, bars[j].High)
				ll = math.Min(ll, bars[j].Low)
			}
			if hh-ll == 0 {
				fast[i] = 0
				continue
			}
			fast[i] = 100 * (bars[i].Close - ll) / (hh - ll)
		}
	}
	k = SMA(fast, slowK)
	d = SMA(k, slowD)
	for i := range k {
		if math.IsNaN(d[i]) {
			k[i] = math.NaN()
		}
	}
	return k, d
}

// OBV is on-balance volume, starting from the first bar's volume.
func OBV(bars []domain.Bar) Series {
	out := make(Series, len(bars))
	if len(bars) == 0 {
		return out
	}
	out[0] = bars[0].Volume
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
