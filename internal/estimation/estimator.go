// Package estimation turns raw price history into the statistical inputs
// of the optimizer: log returns, excess returns, an exponentially weighted
// covariance matrix, and momentum-based expected excess returns.
package estimation

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// TradingDaysPerYear converts the annual risk-free rate to a daily rate.
const TradingDaysPerYear = 252

// CovarianceRidge is added to the diagonal of every covariance matrix so
// the tangency solve stays well conditioned.
const CovarianceRidge = 1e-8

var (
	// ErrInsufficientData means the price history cannot produce even one
	// return observation (fewer than two rows).
	ErrInsufficientData = errors.New("insufficient price history")

	// ErrDimensionMismatch means the per-asset series are not aligned to
	// the same length. The caller must supply equal-length aligned series.
	ErrDimensionMismatch = errors.New("price series length mismatch")
)

// Estimates bundles the outputs of a single estimation pass. Everything
// here is recomputed fresh on every call and never mutated afterwards.
type Estimates struct {
	ExcessReturns   *mat.Dense    // (days-1) × assets
	Covariance      *mat.SymDense // assets × assets, ridge-regularized
	ExpectedReturns []float64     // one per asset
}

// Estimator computes risk/return estimates from a price matrix.
type Estimator struct {
	riskFreeRate float64 // annualized
	halfLife     float64 // days
	shrinkage    float64 // momentum shrinkage γ
	log          zerolog.Logger
}

// New creates an estimator with the given annualized risk-free rate, EWMA
// half-life in days, and momentum shrinkage factor.
func New(riskFreeRate, halfLife, shrinkage float64, log zerolog.Logger) *Estimator {
	return &Estimator{
		riskFreeRate: riskFreeRate,
		halfLife:     halfLife,
		shrinkage:    shrinkage,
		log:          log.With().Str("component", "estimator").Logger(),
	}
}

// Estimate runs the full pipeline on a (days × assets) price matrix.
func (e *Estimator) Estimate(prices *mat.Dense) (*Estimates, error) {
	rows, cols := prices.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("%w: %d rows, need at least 2", ErrInsufficientData, rows)
	}

	returns := e.LogReturns(prices)
	excess := e.ExcessReturns(returns)
	cov := e.Covariance(excess)
	mu := e.ExpectedReturns(excess)

	e.log.Debug().
		Int("days", rows).
		Int("assets", cols).
		Float64("half_life", e.halfLife).
		Msg("Computed risk/return estimates")

	return &Estimates{
		ExcessReturns:   excess,
		Covariance:      cov,
		ExpectedReturns: mu,
	}, nil
}

// LogReturns computes r[t] = ln(P[t]/P[t-1]) for each asset, producing a
// (days-1 × assets) matrix.
func (e *Estimator) LogReturns(prices *mat.Dense) *mat.Dense {
	rows, cols := prices.Dims()
	returns := mat.NewDense(rows-1, cols, nil)
	for t := 1; t < rows; t++ {
		for i := 0; i < cols; i++ {
			returns.Set(t-1, i, math.Log(prices.At(t, i)/prices.At(t-1, i)))
		}
	}
	return returns
}

// ExcessReturns subtracts the daily risk-free rate from every return.
func (e *Estimator) ExcessReturns(returns *mat.Dense) *mat.Dense {
	rows, cols := returns.Dims()
	rfDaily := e.riskFreeRate / TradingDaysPerYear
	excess := mat.NewDense(rows, cols, nil)
	for t := 0; t < rows; t++ {
		for i := 0; i < cols; i++ {
			excess.Set(t, i, returns.At(t, i)-rfDaily)
		}
	}
	return excess
}

// Covariance builds the EWMA covariance matrix of excess returns.
//
// Each deviation from the sample mean is weighted λ^(n−1−t) with
// λ = 2^(−1/halfLife), so the newest observation carries weight ≈ 1. The
// weighted outer-product sum is scaled by (1−λ) and a small ridge is
// added to the diagonal.
func (e *Estimator) Covariance(excess *mat.Dense) *mat.SymDense {
	n, k := excess.Dims()
	lambda := math.Pow(2, -1/e.halfLife)

	// Sample mean per asset.
	mean := make([]float64, k)
	for i := 0; i < k; i++ {
		sum := 0.0
		for t := 0; t < n; t++ {
			sum += excess.At(t, i)
		}
		mean[i] = sum / float64(n)
	}

	cov := mat.NewSymDense(k, nil)
	dev := make([]float64, k)
	for t := 0; t < n; t++ {
		weight := math.Pow(lambda, float64(n-1-t))
		for i := 0; i < k; i++ {
			dev[i] = excess.At(t, i) - mean[i]
		}
		for i := 0; i < k; i++ {
			for j := i; j < k; j++ {
				cov.SetSym(i, j, cov.At(i, j)+weight*dev[i]*dev[j])
			}
		}
	}

	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := cov.At(i, j) * (1 - lambda)
			if i == j {
				v += CovarianceRidge
			}
			cov.SetSym(i, j, v)
		}
	}

	return cov
}

// ExpectedReturns computes momentum-based expected excess returns:
// μ[i] = γ · Σ_t rex[t,i].
//
// The signal is the SUM of excess returns over the window, not the mean.
// Longer windows therefore carry proportionally larger signal magnitudes;
// the shrinkage factor γ is calibrated against that.
func (e *Estimator) ExpectedReturns(excess *mat.Dense) []float64 {
	n, k := excess.Dims()
	mu := make([]float64, k)
	for i := 0; i < k; i++ {
		sum := 0.0
		for t := 0; t < n; t++ {
			sum += excess.At(t, i)
		}
		mu[i] = e.shrinkage * sum
	}
	return mu
}
