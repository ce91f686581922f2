package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AnnualizationDays annualizes daily portfolio variance. Crypto trades
// every calendar day, hence 365 rather than the 252 used for the
// risk-free rate conversion.
const AnnualizationDays = 365

// PortfolioVolatility returns the annualized volatility sqrt(wᵀΣw · 365).
func PortfolioVolatility(weights []float64, cov *mat.SymDense) float64 {
	w := mat.NewVecDense(len(weights), weights)
	variance := mat.Inner(w, cov, w)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * AnnualizationDays)
}

// ScaleToTargetVolatility scales risky weights by the risk exposure factor
// e = min(1, σ*/σ_p), so annualized volatility never exceeds the target.
// The remainder 1−Σw' is implicitly allocated to the risk-free asset.
//
// Scaling only ever de-risks: e is always in (0, 1].
func ScaleToTargetVolatility(weights []float64, cov *mat.SymDense, targetVol float64) ([]float64, float64) {
	vol := PortfolioVolatility(weights, cov)

	exposure := 1.0
	if vol > 0 {
		exposure = math.Min(1.0, targetVol/vol)
	}

	scaled := make([]float64, len(weights))
	for i, w := range weights {
		scaled[i] = exposure * w
	}
	return scaled, exposure
}
