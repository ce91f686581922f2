package estimation

import (
	"testing"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleSeries(dates []string, closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(dates))
	for i := range dates {
		out[i] = domain.Candle{Date: dates[i], Close: closes[i]}
	}
	return out
}

func TestBuildPriceMatrix_TrailingWindow(t *testing.T) {
	history := map[string][]domain.Candle{
		"BTC-USDC": candleSeries(
			[]string{"2026-01-01", "2026-01-02", "2026-01-03", "2026-01-04"},
			[]float64{100, 110, 120, 130},
		),
		"ETH-USDC": candleSeries(
			[]string{"2026-01-01", "2026-01-02", "2026-01-03", "2026-01-04"},
			[]float64{10, 11, 12, 13},
		),
	}

	prices, err := BuildPriceMatrix(history, []string{"BTC-USDC", "ETH-USDC"}, 3)
	require.NoError(t, err)

	rows, cols := prices.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)

	// Oldest candle trimmed, column order follows the product list.
	assert.Equal(t, 110.0, prices.At(0, 0))
	assert.Equal(t, 13.0, prices.At(2, 1))
}

func TestBuildPriceMatrix_LengthMismatch(t *testing.T) {
	history := map[string][]domain.Candle{
		"BTC-USDC": candleSeries([]string{"2026-01-01", "2026-01-02", "2026-01-03"}, []float64{1, 2, 3}),
		"ETH-USDC": candleSeries([]string{"2026-01-02", "2026-01-03"}, []float64{1, 2}),
	}

	_, err := BuildPriceMatrix(history, []string{"BTC-USDC", "ETH-USDC"}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBuildPriceMatrix_MissingProduct(t *testing.T) {
	history := map[string][]domain.Candle{
		"BTC-USDC": candleSeries([]string{"2026-01-01", "2026-01-02"}, []float64{1, 2}),
	}

	_, err := BuildPriceMatrix(history, []string{"BTC-USDC", "ETH-USDC"}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBuildPriceMatrix_NonPositiveClose(t *testing.T) {
	history := map[string][]domain.Candle{
		"BTC-USDC": candleSeries([]string{"2026-01-01", "2026-01-02"}, []float64{100, 0}),
	}

	_, err := BuildPriceMatrix(history, []string{"BTC-USDC"}, 10)
	require.Error(t, err)
}

func TestBuildPriceMatrix_DatesMustIncrease(t *testing.T) {
	history := map[string][]domain.Candle{
		"BTC-USDC": candleSeries([]string{"2026-01-02", "2026-01-01"}, []float64{100, 101}),
	}

	_, err := BuildPriceMatrix(history, []string{"BTC-USDC"}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
