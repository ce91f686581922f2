package coinbase

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// CachedMarketData wraps a market data provider with a file-backed
// candle cache. Daily candles for a past date never change, so a hit
// for the same product, as-of date, and window is always valid.
//
// Cache failures are soft: a broken or missing cache file degrades to
// fetching, never to an error.
type CachedMarketData struct {
	provider domain.MarketDataProvider
	path     string
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string][]domain.Candle
}

// NewCachedMarketData loads the cache file at path, when present, and
// returns the caching wrapper.
func NewCachedMarketData(provider domain.MarketDataProvider, path string, log zerolog.Logger) *CachedMarketData {
	c := &CachedMarketData{
		provider: provider,
		path:     path,
		log:      log.With().Str("component", "candle_cache").Logger(),
		entries:  make(map[string][]domain.Candle),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("Failed to read candle cache, starting empty")
		}
		return c
	}
	if err := msgpack.Unmarshal(data, &c.entries); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("Candle cache is corrupt, starting empty")
		c.entries = make(map[string][]domain.Candle)
	}
	return c
}

// GetPriceHistory serves from cache when possible and fetches through
// to the underlying provider otherwise, persisting the result.
func (c *CachedMarketData) GetPriceHistory(ctx context.Context, productID, asOf string, numDays int) ([]domain.Candle, error) {
	key := fmt.Sprintf("%s|%s|%d", productID, asOf, numDays)

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	candles, err := c.provider.GetPriceHistory(ctx, productID, asOf, numDays)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = candles
	c.mu.Unlock()
	c.persist()

	return candles, nil
}

func (c *CachedMarketData) persist() {
	c.mu.Lock()
	data, err := msgpack.Marshal(c.entries)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to encode candle cache")
		return
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("Failed to write candle cache")
	}
}
