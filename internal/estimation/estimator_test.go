package estimation

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLogReturns_KnownSeries(t *testing.T) {
	e := New(0.041, 60, 0.1, zerolog.Nop())

	prices := mat.NewDense(5, 1, []float64{100, 102, 101, 105, 103})
	returns := e.LogReturns(prices)

	rows, cols := returns.Dims()
	require.Equal(t, 4, rows)
	require.Equal(t, 1, cols)

	assert.InDelta(t, math.Log(102.0/100.0), returns.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log(101.0/102.0), returns.At(1, 0), 1e-12)
	assert.InDelta(t, math.Log(105.0/101.0), returns.At(2, 0), 1e-12)
	assert.InDelta(t, math.Log(103.0/105.0), returns.At(3, 0), 1e-12)
}

func TestExcessReturns_SubtractsDailyRiskFree(t *testing.T) {
	e := New(0.041, 60, 0.1, zerolog.Nop())

	returns := mat.NewDense(2, 2, []float64{0.01, -0.02, 0.03, 0.0})
	excess := e.ExcessReturns(returns)

	rfDaily := 0.041 / 252
	assert.InDelta(t, 0.01-rfDaily, excess.At(0, 0), 1e-12)
	assert.InDelta(t, -0.02-rfDaily, excess.At(0, 1), 1e-12)
	assert.InDelta(t, 0.03-rfDaily, excess.At(1, 0), 1e-12)
	assert.InDelta(t, 0.0-rfDaily, excess.At(1, 1), 1e-12)
}

func TestCovariance_SymmetricWithRidge(t *testing.T) {
	e := New(0.0, 60, 0.1, zerolog.Nop())

	excess := mat.NewDense(4, 2, []float64{
		0.010, 0.005,
		-0.008, 0.002,
		0.004, -0.006,
		0.012, 0.009,
	})
	cov := e.Covariance(excess)

	k, _ := cov.Dims()
	require.Equal(t, 2, k)

	// Symmetric by construction, diagonal strictly positive from the
	// ridge even for constant series.
	assert.Equal(t, cov.At(0, 1), cov.At(1, 0))
	assert.Greater(t, cov.At(0, 0), 0.0)
	assert.Greater(t, cov.At(1, 1), 0.0)
}

func TestCovariance_ConstantSeriesGetsRidgeOnly(t *testing.T) {
	e := New(0.0, 60, 0.1, zerolog.Nop())

	excess := mat.NewDense(5, 1, []float64{0.01, 0.01, 0.01, 0.01, 0.01})
	cov := e.Covariance(excess)

	assert.InDelta(t, CovarianceRidge, cov.At(0, 0), 1e-15)
}

func TestCovariance_RecentObservationsWeighMore(t *testing.T) {
	e := New(0.0, 5, 0.1, zerolog.Nop())

	// Same observations, one series with the outlier last, one with it
	// first. The recency-weighted variance must be larger when the
	// outlier is recent.
	recent := mat.NewDense(4, 1, []float64{0.001, 0.001, 0.001, 0.10})
	old := mat.NewDense(4, 1, []float64{0.10, 0.001, 0.001, 0.001})

	assert.Greater(t, e.Covariance(recent).At(0, 0), e.Covariance(old).At(0, 0))
}

func TestExpectedReturns_ShrunkSumNotMean(t *testing.T) {
	e := New(0.0, 60, 0.1, zerolog.Nop())

	excess := mat.NewDense(3, 2, []float64{
		0.01, -0.01,
		0.02, -0.02,
		0.03, 0.00,
	})
	mu := e.ExpectedReturns(excess)

	require.Len(t, mu, 2)
	assert.InDelta(t, 0.1*0.06, mu[0], 1e-12)
	assert.InDelta(t, 0.1*-0.03, mu[1], 1e-12)
}

func TestEstimate_RejectsShortHistory(t *testing.T) {
	e := New(0.041, 60, 0.1, zerolog.Nop())

	_, err := e.Estimate(mat.NewDense(1, 2, []float64{100, 200}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimate_FullPipeline(t *testing.T) {
	e := New(0.0385, 60, 0.1, zerolog.Nop())

	prices := mat.NewDense(5, 2, []float64{
		100, 50,
		102, 49,
		101, 52,
		105, 51,
		103, 53,
	})
	est, err := e.Estimate(prices)
	require.NoError(t, err)

	rows, cols := est.ExcessReturns.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 2, cols)
	k, _ := est.Covariance.Dims()
	assert.Equal(t, 2, k)
	assert.Len(t, est.ExpectedReturns, 2)
}
