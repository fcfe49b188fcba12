package funding

import (
	"sort"

	"barrun/internal/domain"
)

// Merge attaches to each bar the latest funding rate at or before its
// timestamp. Bars before the first rate get 0. With no rates the bars are
// returned unchanged, which disables funding conditions downstream. The
// input slice is not modified.
func Merge(bars []domain.Bar, rates []domain.FundingRate) []domain.Bar {
	if len(rates) == 0 {
		return bars
	}
	sorted := append([]domain.FundingRate(nil), rates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := make([]domain.Bar, len(bars))
	j := -1
	for i, b := range bars {
		for j+1 < len(sorted) && !sorted[j+1].Time.After(b.Timestamp) {
			j++
		}
		b.FundingRate = 0
		if j >= 0 {
			b.FundingRate = sorted[j].Rate
		}
		b.HasFunding = true
		out[i] = b
	}
	return out
}
