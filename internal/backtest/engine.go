// Package backtest replays the strategy over historical candles to
// measure returns, risk, and fee drag before any parameter change goes
// live.
package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/jhd66g/coinbase-systematic-trader/internal/estimation"
	"github.com/jhd66g/coinbase-systematic-trader/internal/optimization"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// rebalanceEps is the weight difference below which a day counts as
// unchanged, so float noise does not register as a trade.
const rebalanceEps = 1e-9

// Config selects the simulation period and starting capital.
type Config struct {
	Days         int
	Window       int
	InitialValue float64
}

// RebalanceRecord captures one simulated rebalance day.
type RebalanceRecord struct {
	Date           string    `json:"date"`
	OldWeights     []float64 `json:"old_weights"`
	NewWeights     []float64 `json:"new_weights"`
	Cost           float64   `json:"cost"`
	PortfolioValue float64   `json:"portfolio_value"`
}

// Result summarizes one backtest run.
type Result struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      int    `json:"days"`
	Window    int    `json:"window"`

	InitialValue float64 `json:"initial_value"`
	FinalValue   float64 `json:"final_value"`
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`

	Rebalances int     `json:"num_rebalances"`
	TotalFees  float64 `json:"total_fees"`

	FinalWeights    []float64 `json:"final_weights"`
	FinalCashWeight float64   `json:"final_cash_weight"`

	DailyDates       []string          `json:"daily_dates"`
	DailyValues      []float64         `json:"daily_values"`
	RebalanceHistory []RebalanceRecord `json:"rebalance_history"`
}

// Engine simulates the strategy day by day against historical candles.
type Engine struct {
	market domain.MarketDataProvider
	params config.Params
	log    zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(market domain.MarketDataProvider, params config.Params, log zerolog.Logger) *Engine {
	return &Engine{
		market: market,
		params: params,
		log:    log.With().Str("component", "backtest").Logger(),
	}
}

// Run simulates cfg.Days of daily rebalancing. The portfolio starts
// fully in the risk-free asset; each simulated day first marks holdings
// to market, then re-optimizes over the trailing window with the EWMA
// half-life tied to the window, and charges taker fees on the turnover
// of any weight change.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Days < 1 {
		return nil, fmt.Errorf("backtest needs at least 1 day, got %d", cfg.Days)
	}
	if cfg.Window < 2 {
		return nil, fmt.Errorf("backtest window must cover at least 2 days, got %d", cfg.Window)
	}
	if cfg.InitialValue <= 0 {
		cfg.InitialValue = 10000
	}

	prices, dates, err := e.loadHistory(ctx, cfg.Window+cfg.Days)
	if err != nil {
		return nil, err
	}
	rows, cols := prices.Dims()
	if rows < cfg.Window+cfg.Days {
		return nil, fmt.Errorf("%w: need %d days of history, have %d",
			estimation.ErrInsufficientData, cfg.Window+cfg.Days, rows)
	}

	simParams := e.params
	simParams.EWMAHalfLife = float64(cfg.Window)
	simParams.LookbackDays = cfg.Window
	optimizer := optimization.NewService(simParams, e.log)

	weights := make([]float64, cols)
	cashWeight := 1.0
	value := cfg.InitialValue
	dailyRF := e.params.RiskFreeRate / 365

	res := &Result{
		Days:         cfg.Days,
		Window:       cfg.Window,
		InitialValue: cfg.InitialValue,
		DailyValues:  []float64{cfg.InitialValue},
	}

	var dailyReturns []float64

	start := rows - cfg.Days
	res.DailyDates = append(res.DailyDates, dates[start])

	for t := start; t < rows; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if t > start {
			dayReturn := cashWeight * dailyRF
			for j := 0; j < cols; j++ {
				priceReturn := prices.At(t, j)/prices.At(t-1, j) - 1
				dayReturn += weights[j] * priceReturn
			}
			value *= 1 + dayReturn
			dailyReturns = append(dailyReturns, dayReturn)

			res.DailyValues = append(res.DailyValues, value)
			res.DailyDates = append(res.DailyDates, dates[t])
		}

		window := prices.Slice(t-cfg.Window+1, t+1, 0, cols).(*mat.Dense)
		result, err := optimizer.Run(window, weights)
		if err != nil {
			e.log.Warn().Err(err).Str("date", dates[t]).Msg("Optimization failed, holding weights")
			continue
		}

		if maxAbsDiff(result.Weights, weights) > rebalanceEps {
			cost := result.Turnover() * value * e.params.TakerFee
			value -= cost
			res.TotalFees += cost
			res.Rebalances++
			res.RebalanceHistory = append(res.RebalanceHistory, RebalanceRecord{
				Date:           dates[t],
				OldWeights:     append([]float64(nil), weights...),
				NewWeights:     append([]float64(nil), result.Weights...),
				Cost:           cost,
				PortfolioValue: value,
			})
			weights = result.Weights
			cashWeight = result.CashWeight()
		}
	}

	res.StartDate = dates[start]
	res.EndDate = dates[rows-1]
	res.FinalValue = res.DailyValues[len(res.DailyValues)-1]
	res.TotalReturn = (res.FinalValue - res.InitialValue) / res.InitialValue
	res.FinalWeights = weights
	res.FinalCashWeight = cashWeight
	res.SharpeRatio = sharpeRatio(dailyReturns, dailyRF)
	res.MaxDrawdown = maxDrawdown(res.DailyValues)

	e.log.Info().
		Int("days", cfg.Days).
		Int("window", cfg.Window).
		Float64("total_return", res.TotalReturn).
		Float64("sharpe", res.SharpeRatio).
		Int("rebalances", res.Rebalances).
		Msg("Backtest complete")

	return res, nil
}

// loadHistory fetches aligned candles for the full universe and returns
// a (days × assets) close matrix with the row dates.
func (e *Engine) loadHistory(ctx context.Context, numDays int) (*mat.Dense, []string, error) {
	history := make(map[string][]domain.Candle, len(e.params.Products))
	for _, productID := range e.params.Products {
		candles, err := e.market.GetPriceHistory(ctx, productID, "", numDays)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch history for %s: %w", productID, err)
		}
		history[productID] = candles
	}

	prices, err := estimation.BuildPriceMatrix(history, e.params.Products, numDays)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build price matrix: %w", err)
	}

	rows, _ := prices.Dims()
	reference := history[e.params.Products[0]]
	reference = reference[len(reference)-rows:]
	dates := make([]string, rows)
	for i, c := range reference {
		dates[i] = c.Date
	}
	return prices, dates, nil
}

// sharpeRatio annualizes mean excess return over its volatility. Crypto
// trades every calendar day, so the factor is sqrt(365).
func sharpeRatio(returns []float64, dailyRF float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRF
	}
	sd := stat.PopStdDev(excess, nil)
	if sd == 0 {
		return 0
	}
	return stat.Mean(excess, nil) / sd * math.Sqrt(365)
}

func maxDrawdown(values []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func maxAbsDiff(a, b []float64) float64 {
	maxDiff := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > maxDiff {
			maxDiff = d
		}
	}
	return maxDiff
}
