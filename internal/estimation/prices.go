package estimation

import (
	"fmt"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// BuildPriceMatrix aligns per-product candle series into a
// (days × products) price matrix, taking the trailing window of each
// series. Column order follows the products slice.
//
// All series must cover the same number of days; the market data provider
// fails soft (short or empty series), so the checks here are what keeps
// malformed inputs from ever reaching the optimizer.
func BuildPriceMatrix(history map[string][]domain.Candle, products []string, window int) (*mat.Dense, error) {
	if len(products) == 0 {
		return nil, fmt.Errorf("no products provided")
	}

	length := -1
	trimmed := make([][]domain.Candle, len(products))
	for i, product := range products {
		candles := history[product]
		if len(candles) > window {
			candles = candles[len(candles)-window:]
		}
		if len(candles) < 2 {
			return nil, fmt.Errorf("%w: %s has %d candles", ErrInsufficientData, product, len(candles))
		}
		if length == -1 {
			length = len(candles)
		} else if len(candles) != length {
			return nil, fmt.Errorf("%w: %s has %d candles, expected %d", ErrDimensionMismatch, product, len(candles), length)
		}
		trimmed[i] = candles
	}

	prices := mat.NewDense(length, len(products), nil)
	for i, candles := range trimmed {
		prev := ""
		for t, c := range candles {
			if c.Close <= 0 {
				return nil, fmt.Errorf("%w: %s has non-positive close %v on %s", ErrInsufficientData, products[i], c.Close, c.Date)
			}
			if prev != "" && c.Date <= prev {
				return nil, fmt.Errorf("%w: %s dates not strictly increasing at %s", ErrDimensionMismatch, products[i], c.Date)
			}
			prev = c.Date
			prices.Set(t, i, c.Close)
		}
	}

	return prices, nil
}
