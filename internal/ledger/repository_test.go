package ledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db, zerolog.Nop())
	require.NoError(t, err)
	return repo
}

func sampleEvent(value float64) domain.RebalanceEvent {
	return domain.RebalanceEvent{
		Timestamp:         time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC),
		PortfolioValue:    value,
		CurrentWeights:    map[string]float64{"BTC-USDC": 0.4, "ETH-USDC": 0.3},
		CurrentCashWeight: 0.3,
		TargetWeights:     map[string]float64{"BTC-USDC": 0.5, "ETH-USDC": 0.2},
		TargetCashWeight:  0.3,
		Turnover:          0.2,
		Trades: []domain.TradeOutcome{
			{ProductID: "BTC-USDC", Side: domain.SideBuy, Size: 0.01, OrderID: "abc", Status: domain.TradeStatusSuccess},
			{ProductID: "ETH-USDC", Side: domain.SideSell, Size: 0.5, Status: domain.TradeStatusFailed, Reason: "rejected"},
		},
		FinalWeights:    map[string]float64{"BTC-USDC": 0.49, "ETH-USDC": 0.21},
		FinalCashWeight: 0.3,
	}
}

func TestAppendAndReadBack(t *testing.T) {
	repo := setupRepo(t)

	id, err := repo.Append(sampleEvent(10000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	events, err := repo.All()
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, 10000.0, got.PortfolioValue)
	assert.Equal(t, 0.4, got.CurrentWeights["BTC-USDC"])
	assert.Equal(t, 0.2, got.Turnover)
	require.Len(t, got.Trades, 2)
	assert.True(t, got.Trades[0].Succeeded())
	assert.Equal(t, "rejected", got.Trades[1].Reason)
	assert.Equal(t, 0.21, got.FinalWeights["ETH-USDC"])
}

func TestAll_InsertionOrder(t *testing.T) {
	repo := setupRepo(t)

	for _, v := range []float64{100, 200, 300} {
		_, err := repo.Append(sampleEvent(v))
		require.NoError(t, err)
	}

	events, err := repo.All()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 100.0, events[0].PortfolioValue)
	assert.Equal(t, 200.0, events[1].PortfolioValue)
	assert.Equal(t, 300.0, events[2].PortfolioValue)
}

func TestAppend_RejectsInvalidEvent(t *testing.T) {
	repo := setupRepo(t)

	event := sampleEvent(100)
	event.Timestamp = time.Time{}
	_, err := repo.Append(event)
	require.Error(t, err)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAppend_NormalizesNilTrades(t *testing.T) {
	repo := setupRepo(t)

	event := sampleEvent(100)
	event.Trades = nil
	_, err := repo.Append(event)
	require.NoError(t, err)

	events, err := repo.All()
	require.NoError(t, err)
	assert.NotNil(t, events[0].Trades)
	assert.Empty(t, events[0].Trades)
}

func TestLatest(t *testing.T) {
	repo := setupRepo(t)

	latest, err := repo.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = repo.Append(sampleEvent(100))
	require.NoError(t, err)
	_, err = repo.Append(sampleEvent(250))
	require.NoError(t, err)

	latest, err = repo.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 250.0, latest.PortfolioValue)
}

func TestCount(t *testing.T) {
	repo := setupRepo(t)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = repo.Append(sampleEvent(100))
	require.NoError(t, err)

	count, err = repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
