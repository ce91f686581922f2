package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/jhd66g/coinbase-systematic-trader/internal/estimation"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindows are the lookback windows compared when tuning the
// estimation window.
var DefaultWindows = []int{15, 30, 45, 60, 75}

// Benchmark summarizes a passive reference portfolio over the same
// period as the strategy runs.
type Benchmark struct {
	Name        string  `json:"name"`
	FinalValue  float64 `json:"final_value"`
	ReturnPct   float64 `json:"return_pct"`
	Volatility  float64 `json:"volatility"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// Summary collects one strategy run per window plus the passive
// benchmarks.
type Summary struct {
	Days       int             `json:"days"`
	Windows    map[int]*Result `json:"windows"`
	Benchmarks []Benchmark     `json:"benchmarks"`
}

// RunSweep backtests every window size over the same period and
// simulates the passive benchmarks: equal-weight buy-and-hold, each
// single asset held outright, and the risk-free rate alone.
func (e *Engine) RunSweep(ctx context.Context, days int, initialValue float64, windows []int) (*Summary, error) {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	if initialValue <= 0 {
		initialValue = 10000
	}

	summary := &Summary{
		Days:    days,
		Windows: make(map[int]*Result, len(windows)),
	}

	maxWindow := 0
	for _, w := range windows {
		if w > maxWindow {
			maxWindow = w
		}
	}

	for _, w := range windows {
		result, err := e.Run(ctx, Config{Days: days, Window: w, InitialValue: initialValue})
		if err != nil {
			return nil, fmt.Errorf("window %d failed: %w", w, err)
		}
		summary.Windows[w] = result
	}

	prices, _, err := e.loadHistory(ctx, maxWindow+days)
	if err != nil {
		return nil, err
	}
	rows, cols := prices.Dims()
	if rows < days {
		return nil, fmt.Errorf("%w: need %d days for benchmarks, have %d",
			estimation.ErrInsufficientData, days, rows)
	}
	period := prices.Slice(rows-days, rows, 0, cols).(*mat.Dense)

	summary.Benchmarks = append(summary.Benchmarks, e.equalWeightBenchmark(period, initialValue))
	for j, productID := range e.params.Products {
		summary.Benchmarks = append(summary.Benchmarks, e.singleAssetBenchmark(period, j, productID, initialValue))
	}
	summary.Benchmarks = append(summary.Benchmarks, e.riskFreeBenchmark(days, initialValue))

	return summary, nil
}

// equalWeightBenchmark splits capital evenly across the risky assets
// and the risk-free asset, then holds without rebalancing.
func (e *Engine) equalWeightBenchmark(prices *mat.Dense, initialValue float64) Benchmark {
	rows, cols := prices.Dims()
	slot := initialValue / float64(cols+1)

	holdings := make([]float64, cols)
	for j := range holdings {
		holdings[j] = slot
	}
	cash := slot
	dailyRF := e.params.RiskFreeRate / 365

	values := []float64{initialValue}
	for t := 1; t < rows; t++ {
		total := 0.0
		for j := 0; j < cols; j++ {
			holdings[j] *= prices.At(t, j) / prices.At(t-1, j)
			total += holdings[j]
		}
		cash *= 1 + dailyRF
		total += cash
		values = append(values, total)
	}

	return benchmarkFromValues("equal_weight", values)
}

// singleAssetBenchmark puts everything into one asset and holds.
func (e *Engine) singleAssetBenchmark(prices *mat.Dense, col int, productID string, initialValue float64) Benchmark {
	rows, _ := prices.Dims()

	values := []float64{initialValue}
	for t := 1; t < rows; t++ {
		values = append(values, values[len(values)-1]*prices.At(t, col)/prices.At(t-1, col))
	}

	return benchmarkFromValues(productID+"_only", values)
}

// riskFreeBenchmark compounds the risk-free rate with zero volatility.
func (e *Engine) riskFreeBenchmark(days int, initialValue float64) Benchmark {
	final := initialValue * math.Pow(1+e.params.RiskFreeRate/365, float64(days))
	return Benchmark{
		Name:       "risk_free",
		FinalValue: final,
		ReturnPct:  (final - initialValue) / initialValue * 100,
	}
}

func benchmarkFromValues(name string, values []float64) Benchmark {
	b := Benchmark{
		Name:       name,
		FinalValue: values[len(values)-1],
		ReturnPct:  (values[len(values)-1] - values[0]) / values[0] * 100,
	}
	if len(values) < 2 {
		return b
	}

	returns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		returns[i-1] = math.Log(values[i] / values[i-1])
	}
	sd := stat.PopStdDev(returns, nil)
	b.Volatility = sd * math.Sqrt(365)
	if sd > 0 {
		b.SharpeRatio = stat.Mean(returns, nil) / sd * math.Sqrt(365)
	}
	return b
}
