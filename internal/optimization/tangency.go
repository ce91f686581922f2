// Package optimization solves for target portfolio weights: the
// maximum-Sharpe tangency direction, long-only projection, volatility
// targeting, and the band/turnover constraint layer.
package optimization

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingularCovariance means the covariance matrix could not be
// factorized. The estimator's ridge term makes this unlikely, but callers
// must still handle it: never trade on a failed solve.
var ErrSingularCovariance = errors.New("covariance matrix is singular")

// TangencyWeights solves Σx = μ for the unconstrained tangency direction,
// zeroes out short positions, and normalizes onto the simplex.
//
// When every signal is non-positive the projected vector sums to zero; the
// defined fallback is equal weights across the risky universe.
func TangencyWeights(cov *mat.SymDense, mu []float64) ([]float64, error) {
	k := len(mu)
	n, _ := cov.Dims()
	if n != k {
		return nil, fmt.Errorf("covariance is %d×%d but expected returns has %d entries", n, n, k)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("%w: Cholesky factorization failed", ErrSingularCovariance)
	}

	x := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(x, mat.NewVecDense(k, mu)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}

	// Long-only projection.
	weights := make([]float64, k)
	sum := 0.0
	for i := 0; i < k; i++ {
		v := x.AtVec(i)
		if v < 0 {
			v = 0
		}
		weights[i] = v
		sum += v
	}

	if sum > 0 {
		for i := range weights {
			weights[i] /= sum
		}
	} else {
		// All signals non-positive: fall back to equal weights.
		for i := range weights {
			weights[i] = 1.0 / float64(k)
		}
	}

	return weights, nil
}
