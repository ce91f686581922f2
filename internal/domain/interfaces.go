package domain

import "context"

// MarketDataProvider supplies daily closing price history per product.
// Implementations may return fewer rows than requested (or none) on
// provider errors; callers must treat short series as insufficient data.
type MarketDataProvider interface {
	// GetPriceHistory returns up to numDays daily candles for productID,
	// ascending by date, ending at or before asOf.
	GetPriceHistory(ctx context.Context, productID string, asOf string, numDays int) ([]Candle, error)
}

// ExchangeClient is the trading venue boundary. Every call blocks with
// the context's deadline; there is no retry inside the client.
type ExchangeClient interface {
	// GetBalances returns available quantities keyed by currency
	// (base currencies for risky assets, plus the risk-free currency).
	GetBalances(ctx context.Context) (map[string]float64, error)

	// GetPrice returns the latest trade price for a product.
	GetPrice(ctx context.Context, productID string) (float64, error)

	// SubmitOrder places a marketable limit order (priced at the best bid
	// for sells, best ask for buys) and returns the exchange order ID.
	// Rejections come back as errors carrying the exchange reason.
	SubmitOrder(ctx context.Context, productID string, side TradeSide, size float64) (string, error)
}
