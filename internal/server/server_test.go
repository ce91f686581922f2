package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/database"
	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/jhd66g/coinbase-systematic-trader/internal/ledger"
	"github.com/jhd66g/coinbase-systematic-trader/internal/optimization"
	"github.com/jhd66g/coinbase-systematic-trader/internal/rebalance"
)

// apiClock implements rebalance.Clock without real sleeping, so the
// rebalance endpoint test finishes instantly.
type apiClock struct {
	now time.Time
}

func (c *apiClock) Now() time.Time        { return c.now }
func (c *apiClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

// apiExchange holds a fixed portfolio: 10 AAA, no BBB, no cash.
type apiExchange struct {
	balances map[string]float64
	prices   map[string]float64
	orders   []string
}

func (e *apiExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(e.balances))
	for k, v := range e.balances {
		out[k] = v
	}
	return out, nil
}

func (e *apiExchange) GetPrice(ctx context.Context, productID string) (float64, error) {
	return e.prices[productID], nil
}

func (e *apiExchange) SubmitOrder(ctx context.Context, productID string, side domain.TradeSide, size float64) (string, error) {
	e.orders = append(e.orders, fmt.Sprintf("%s %s", side, productID))
	return fmt.Sprintf("ord-%d", len(e.orders)), nil
}

// apiMarket serves AAA flat at 100 and BBB trending up 1 per day, which
// drives the optimizer fully into BBB.
type apiMarket struct {
	err error
}

func (m *apiMarket) GetPriceHistory(ctx context.Context, productID, asOf string, numDays int) ([]domain.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, numDays)
	for i := 0; i < numDays; i++ {
		close := 100.0
		if productID == "BBB-USDC" {
			close = 100.0 + float64(i)
		}
		candles[i] = domain.Candle{
			Date:  base.AddDate(0, 0, i).Format("2006-01-02"),
			Close: close,
		}
	}
	return candles, nil
}

func apiParams() config.Params {
	p := config.DefaultParams()
	p.Products = []string{"AAA-USDC", "BBB-USDC"}
	p.RiskFreeRate = 0
	p.EWMAHalfLife = 5
	p.LookbackDays = 10
	p.RebalanceBand = 0
	p.TurnoverCap = 2.0
	p.TargetVolatility = 10
	return p
}

type testEnv struct {
	server   *Server
	repo     *ledger.Repository
	exchange *apiExchange
	market   *apiMarket
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// Unique shared-cache name per test so parallel packages never
	// collide on the same in-memory database.
	uri := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(uri, database.ProfileStandard)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := ledger.NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, err)

	params := apiParams()
	exchange := &apiExchange{
		balances: map[string]float64{"AAA": 10, "BBB": 0, "USDC": 0},
		prices:   map[string]float64{"AAA-USDC": 100, "BBB-USDC": 50},
	}
	market := &apiMarket{}
	optimizer := optimization.NewService(params, zerolog.Nop())
	clock := &apiClock{now: time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)}
	sequencer := rebalance.NewSequencer(exchange, market, optimizer, repo, params, clock, zerolog.Nop())

	srv := New(Config{
		Port:      0,
		Log:       zerolog.Nop(),
		DB:        db,
		Ledger:    repo,
		Sequencer: sequencer,
		Optimizer: optimizer,
		Market:    market,
		Params:    params,
	})

	return &testEnv{server: srv, repo: repo, exchange: exchange, market: market}
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func seedEvent(t *testing.T, repo *ledger.Repository, value float64) {
	t.Helper()
	_, err := repo.Append(domain.RebalanceEvent{
		Timestamp:      time.Date(2026, 8, 30, 16, 0, 0, 0, time.UTC),
		PortfolioValue: value,
		CurrentWeights: map[string]float64{"AAA-USDC": 1},
		TargetWeights:  map[string]float64{"AAA-USDC": 1},
		FinalWeights:   map[string]float64{"AAA-USDC": 1},
	})
	require.NoError(t, err)
}

func TestLedgerEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedEvent(t, env.repo, 10000)
	seedEvent(t, env.repo, 10200)

	rec := env.get(t, "/api/ledger/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []domain.RebalanceEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Events, 2)
	assert.Equal(t, 10000.0, body.Events[0].PortfolioValue)
	assert.Equal(t, 10200.0, body.Events[1].PortfolioValue)
}

func TestLedgerPnLEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedEvent(t, env.repo, 10000)
	seedEvent(t, env.repo, 10200)
	seedEvent(t, env.repo, 10150)

	rec := env.get(t, "/api/ledger/pnl")
	require.Equal(t, http.StatusOK, rec.Code)

	var pnl ledger.PnL
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pnl))
	assert.Equal(t, -50.0, pnl.Day)
	assert.Equal(t, 150.0, pnl.Lifetime)
}

func TestPortfolioTargetEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/portfolio/target")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AsOf                string             `json:"as_of"`
		Weights             map[string]float64 `json:"weights"`
		CashWeight          float64            `json:"cash_weight"`
		PortfolioVolatility float64            `json:"portfolio_volatility"`
		RiskExposure        float64            `json:"risk_exposure"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	// Only BBB trends, so the unconstrained target is all BBB.
	assert.InDelta(t, 0.0, body.Weights["AAA-USDC"], 1e-9)
	assert.InDelta(t, 1.0, body.Weights["BBB-USDC"], 1e-9)
	assert.InDelta(t, 0.0, body.CashWeight, 1e-9)
	assert.NotEmpty(t, body.AsOf)
}

func TestPortfolioTargetEndpoint_MarketDown(t *testing.T) {
	env := newTestEnv(t)
	env.market.err = fmt.Errorf("exchange unreachable")

	rec := env.get(t, "/api/portfolio/target")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestRebalanceEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rebalance", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var event domain.RebalanceEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))

	// Holding 10 AAA at $100 with an all-BBB target: sell AAA, buy BBB.
	require.Equal(t, []string{"SELL AAA-USDC", "BUY BBB-USDC"}, env.exchange.orders)
	assert.Equal(t, 1000.0, event.PortfolioValue)
	require.Len(t, event.Trades, 2)
	assert.Equal(t, domain.TradeStatusSuccess, event.Trades[0].Status)
	assert.Equal(t, domain.TradeStatusSuccess, event.Trades[1].Status)

	// The cycle is on the ledger.
	count, err := env.repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
