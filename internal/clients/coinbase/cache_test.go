package coinbase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls   int
	candles []domain.Candle
	err     error
}

func (p *countingProvider) GetPriceHistory(ctx context.Context, productID, asOf string, numDays int) ([]domain.Candle, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.candles, nil
}

func TestCachedMarketData_HitSkipsProvider(t *testing.T) {
	provider := &countingProvider{candles: []domain.Candle{
		{Date: "2026-08-01", Close: 100},
		{Date: "2026-08-02", Close: 101},
	}}
	path := filepath.Join(t.TempDir(), "candles.msgpack")
	cache := NewCachedMarketData(provider, path, zerolog.Nop())

	ctx := context.Background()
	first, err := cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-02", 2)
	require.NoError(t, err)
	second, err := cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-02", 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls)
}

func TestCachedMarketData_KeyIncludesAsOfAndWindow(t *testing.T) {
	provider := &countingProvider{candles: []domain.Candle{
		{Date: "2026-08-01", Close: 100},
		{Date: "2026-08-02", Close: 101},
	}}
	cache := NewCachedMarketData(provider, filepath.Join(t.TempDir(), "c.msgpack"), zerolog.Nop())

	ctx := context.Background()
	_, err := cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-02", 2)
	require.NoError(t, err)
	_, err = cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-03", 2)
	require.NoError(t, err)
	_, err = cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-02", 5)
	require.NoError(t, err)

	assert.Equal(t, 3, provider.calls)
}

func TestCachedMarketData_PersistsAcrossInstances(t *testing.T) {
	provider := &countingProvider{candles: []domain.Candle{
		{Date: "2026-08-01", Close: 100},
		{Date: "2026-08-02", Close: 101},
	}}
	path := filepath.Join(t.TempDir(), "candles.msgpack")

	ctx := context.Background()
	cache := NewCachedMarketData(provider, path, zerolog.Nop())
	_, err := cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-02", 2)
	require.NoError(t, err)

	reloaded := NewCachedMarketData(provider, path, zerolog.Nop())
	candles, err := reloaded.GetPriceHistory(ctx, "BTC-USDC", "2026-08-02", 2)
	require.NoError(t, err)

	assert.Equal(t, provider.candles, candles)
	assert.Equal(t, 1, provider.calls)
}

func TestCachedMarketData_CorruptFileFailsSoft(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0644))

	provider := &countingProvider{candles: []domain.Candle{
		{Date: "2026-08-01", Close: 100},
	}}
	cache := NewCachedMarketData(provider, path, zerolog.Nop())

	candles, err := cache.GetPriceHistory(context.Background(), "BTC-USDC", "2026-08-01", 1)
	require.NoError(t, err)
	assert.Equal(t, provider.candles, candles)
}

func TestCachedMarketData_ProviderErrorNotCached(t *testing.T) {
	provider := &countingProvider{err: errors.New("api down")}
	cache := NewCachedMarketData(provider, filepath.Join(t.TempDir(), "c.msgpack"), zerolog.Nop())

	ctx := context.Background()
	_, err := cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-01", 1)
	require.Error(t, err)

	provider.err = nil
	provider.candles = []domain.Candle{{Date: "2026-08-01", Close: 100}}
	candles, err := cache.GetPriceHistory(ctx, "BTC-USDC", "2026-08-01", 1)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, 2, provider.calls)
}
