package optimization

import "math"

// ApplyBands computes the raw delta target−current and suppresses every
// component whose magnitude is inside the no-trade band. The band applies
// per asset, independent of the aggregate deviation.
func ApplyBands(target, current []float64, band float64) []float64 {
	delta := make([]float64, len(target))
	for i := range target {
		d := target[i] - current[i]
		if math.Abs(d) <= band {
			d = 0
		}
		delta[i] = d
	}
	return delta
}

// ApplyTurnoverCap uniformly scales the delta vector down when aggregate
// turnover Σ|Δ| exceeds the cap, preserving direction and the relative
// magnitude of every component.
func ApplyTurnoverCap(delta []float64, cap float64) []float64 {
	total := Turnover(delta)
	if total <= cap {
		out := make([]float64, len(delta))
		copy(out, delta)
		return out
	}

	scale := cap / total
	out := make([]float64, len(delta))
	for i, d := range delta {
		out[i] = d * scale
	}
	return out
}

// Turnover is the sum of absolute weight changes across all assets.
func Turnover(delta []float64) float64 {
	total := 0.0
	for _, d := range delta {
		total += math.Abs(d)
	}
	return total
}
