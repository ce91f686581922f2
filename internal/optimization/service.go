package optimization

import (
	"fmt"

	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/estimation"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Result is the outcome of one optimization pass. All slices are ordered
// like the configured product universe.
type Result struct {
	// Weights is the final target allocation over risky assets. When a
	// current allocation was supplied, bands and the turnover cap have
	// already been applied.
	Weights []float64

	// Deltas is target minus current, band-suppressed and turnover-capped.
	// Nil when no current allocation was supplied.
	Deltas []float64

	ExpectedReturns []float64
	Covariance      *mat.SymDense

	// PortfolioVolatility is the annualized volatility of Weights.
	PortfolioVolatility float64
	// RiskExposure is the scalar in (0,1] applied to meet the volatility
	// target.
	RiskExposure float64
}

// Turnover returns the aggregate |Δ| of the bounded deltas, or 0 when no
// current allocation was supplied.
func (r *Result) Turnover() float64 {
	if r.Deltas == nil {
		return 0
	}
	return Turnover(r.Deltas)
}

// CashWeight is the implicit risk-free allocation 1 − Σw.
func (r *Result) CashWeight() float64 {
	sum := 0.0
	for _, w := range r.Weights {
		sum += w
	}
	return 1 - sum
}

// Service runs the full estimation → tangency → volatility targeting →
// constraint pipeline. It holds no mutable state between calls; every run
// recomputes everything from the supplied prices.
type Service struct {
	estimator *estimation.Estimator
	params    config.Params
	log       zerolog.Logger
}

// NewService creates an optimization service for the given parameters.
func NewService(params config.Params, log zerolog.Logger) *Service {
	return &Service{
		estimator: estimation.New(params.RiskFreeRate, params.EWMAHalfLife, params.MomentumShrinkage, log),
		params:    params,
		log:       log.With().Str("component", "optimizer").Logger(),
	}
}

// Run computes target weights from a (days × assets) price matrix. When
// current is non-nil it must be ordered like the price columns; the
// rebalance bands and turnover cap are then applied to the gap.
//
// Any data error aborts before a delta is produced: the caller must never
// trade on malformed inputs.
func (s *Service) Run(prices *mat.Dense, current []float64) (*Result, error) {
	_, cols := prices.Dims()
	if current != nil && len(current) != cols {
		return nil, fmt.Errorf("%w: current weights have %d entries, prices have %d assets",
			estimation.ErrDimensionMismatch, len(current), cols)
	}

	est, err := s.estimator.Estimate(prices)
	if err != nil {
		return nil, fmt.Errorf("estimation failed: %w", err)
	}

	tangency, err := TangencyWeights(est.Covariance, est.ExpectedReturns)
	if err != nil {
		return nil, fmt.Errorf("tangency solve failed: %w", err)
	}

	scaled, exposure := ScaleToTargetVolatility(tangency, est.Covariance, s.params.TargetVolatility)

	result := &Result{
		Weights:         scaled,
		ExpectedReturns: est.ExpectedReturns,
		Covariance:      est.Covariance,
		RiskExposure:    exposure,
	}

	if current != nil {
		delta := ApplyBands(scaled, current, s.params.RebalanceBand)
		delta = ApplyTurnoverCap(delta, s.params.TurnoverCap)

		final := make([]float64, cols)
		for i := range final {
			final[i] = current[i] + delta[i]
		}
		result.Weights = final
		result.Deltas = delta
	}

	result.PortfolioVolatility = PortfolioVolatility(result.Weights, est.Covariance)

	s.log.Debug().
		Float64("risk_exposure", exposure).
		Float64("portfolio_vol", result.PortfolioVolatility).
		Float64("turnover", result.Turnover()).
		Msg("Optimization complete")

	return result, nil
}
