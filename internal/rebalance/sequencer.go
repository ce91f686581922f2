// Package rebalance drives the portfolio from its current allocation to
// the optimizer's target. Sells always execute before buys so that buy
// notional is funded by settled sale proceeds, never by margin.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/jhd66g/coinbase-systematic-trader/internal/estimation"
	"github.com/jhd66g/coinbase-systematic-trader/internal/optimization"
	"github.com/rs/zerolog"
)

var (
	// ErrNoPortfolioValue indicates the account holds nothing to rebalance.
	ErrNoPortfolioValue = errors.New("portfolio has no value")
)

// LedgerWriter is the slice of the ledger the sequencer needs. Every run
// appends exactly one event, traded or not.
type LedgerWriter interface {
	Append(event domain.RebalanceEvent) (int64, error)
}

// Snapshot is the portfolio state read from the exchange at one instant.
type Snapshot struct {
	// Prices maps product ID to spot price.
	Prices map[string]float64
	// Quantities maps base asset symbol to held quantity.
	Quantities map[string]float64
	// Cash is the risk-free asset balance.
	Cash float64
	// TotalValue is cash plus the mark-to-market value of all holdings.
	TotalValue float64
	// Weights is the current risky allocation, ordered like the product
	// universe.
	Weights []float64
}

// CashWeight returns the risk-free share of the portfolio.
func (s *Snapshot) CashWeight() float64 {
	if s.TotalValue <= 0 {
		return 0
	}
	return s.Cash / s.TotalValue
}

// Sequencer executes one full rebalance cycle: snapshot, optimize,
// threshold check, sell, settle, buy, settle, verify, record.
type Sequencer struct {
	exchange  domain.ExchangeClient
	market    domain.MarketDataProvider
	optimizer *optimization.Service
	ledger    LedgerWriter
	params    config.Params
	clock     Clock
	log       zerolog.Logger

	// mu serializes cycles. The scheduler and the manual API trigger
	// share one sequencer; two concurrent cycles would double-trade.
	mu sync.Mutex
}

// NewSequencer creates a rebalance sequencer.
func NewSequencer(
	exchange domain.ExchangeClient,
	market domain.MarketDataProvider,
	optimizer *optimization.Service,
	ledger LedgerWriter,
	params config.Params,
	clock Clock,
	log zerolog.Logger,
) *Sequencer {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Sequencer{
		exchange:  exchange,
		market:    market,
		optimizer: optimizer,
		ledger:    ledger,
		params:    params,
		clock:     clock,
		log:       log.With().Str("component", "rebalance").Logger(),
	}
}

// Run performs one rebalance cycle and returns the recorded event.
//
// Errors before any order is placed abort the cycle entirely; the engine
// never trades on incomplete or malformed data. Once orders start, a
// failed order is recorded on the event and the cycle continues, so one
// rejected trade cannot strand the rest of the portfolio.
func (s *Sequencer) Run(ctx context.Context) (*domain.RebalanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Float64("total_value", snap.TotalValue).
		Float64("cash", snap.Cash).
		Msg("Portfolio snapshot taken")

	result, err := s.optimize(ctx, snap)
	if err != nil {
		return nil, err
	}

	event := domain.RebalanceEvent{
		Timestamp:         s.clock.Now().UTC(),
		PortfolioValue:    snap.TotalValue,
		CurrentWeights:    s.weightsMap(snap.Weights),
		CurrentCashWeight: snap.CashWeight(),
		TargetWeights:     s.weightsMap(result.Weights),
		TargetCashWeight:  result.CashWeight(),
		Turnover:          result.Turnover(),
		Trades:            []domain.TradeOutcome{},
	}

	if event.Turnover < s.params.MinTurnover {
		s.log.Info().
			Float64("turnover", event.Turnover).
			Float64("min_turnover", s.params.MinTurnover).
			Msg("Turnover below minimum, skipping trades")
		event.FinalWeights = event.CurrentWeights
		event.FinalCashWeight = snap.CashWeight()
		return s.record(event)
	}

	event.Trades = append(event.Trades, s.executeSells(ctx, snap, result)...)
	if err := s.settleWait(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Settlement wait after sells ended early")
	}

	event.Trades = append(event.Trades, s.executeBuys(ctx, snap, result)...)
	if err := s.settleWait(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Settlement wait after buys ended early")
	}

	final, err := s.snapshot(ctx)
	if err != nil {
		// Trades already happened; record the event with the pre-trade
		// state rather than lose it.
		s.log.Error().Err(err).Msg("Post-trade snapshot failed, recording pre-trade weights")
		event.FinalWeights = event.CurrentWeights
		event.FinalCashWeight = snap.CashWeight()
		return s.record(event)
	}

	s.verify(final, result)
	event.FinalWeights = s.weightsMap(final.Weights)
	event.FinalCashWeight = final.CashWeight()
	return s.record(event)
}

// snapshot reads balances and spot prices and marks the portfolio to
// market.
func (s *Sequencer) snapshot(ctx context.Context) (*Snapshot, error) {
	balances, err := s.exchange.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	snap := &Snapshot{
		Prices:     make(map[string]float64, len(s.params.Products)),
		Quantities: make(map[string]float64, len(s.params.Products)),
		Cash:       balances[s.params.RiskFreeAsset],
	}

	values := make([]float64, len(s.params.Products))
	for i, productID := range s.params.Products {
		price, err := s.exchange.GetPrice(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch price for %s: %w", productID, err)
		}
		if price <= 0 {
			return nil, fmt.Errorf("non-positive price %.8f for %s", price, productID)
		}
		base := config.BaseCurrency(productID)
		qty := balances[base]
		snap.Prices[productID] = price
		snap.Quantities[base] = qty
		values[i] = qty * price
		snap.TotalValue += values[i]
	}
	snap.TotalValue += snap.Cash

	if snap.TotalValue <= 0 {
		return nil, ErrNoPortfolioValue
	}

	snap.Weights = make([]float64, len(values))
	for i, v := range values {
		snap.Weights[i] = v / snap.TotalValue
	}
	return snap, nil
}

// optimize fetches price history and runs the optimization pipeline
// against the current allocation.
func (s *Sequencer) optimize(ctx context.Context, snap *Snapshot) (*optimization.Result, error) {
	asOf := s.clock.Now().UTC().Format("2006-01-02")
	history := make(map[string][]domain.Candle, len(s.params.Products))
	for _, productID := range s.params.Products {
		candles, err := s.market.GetPriceHistory(ctx, productID, asOf, s.params.LookbackDays)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history for %s: %w", productID, err)
		}
		history[productID] = candles
	}

	prices, err := estimation.BuildPriceMatrix(history, s.params.Products, s.params.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to build price matrix: %w", err)
	}

	return s.optimizer.Run(prices, snap.Weights)
}

// executeSells submits sell orders for every asset whose weight must
// shrink by more than the trade threshold. Sells run first so their
// proceeds fund the buys.
func (s *Sequencer) executeSells(ctx context.Context, snap *Snapshot, result *optimization.Result) []domain.TradeOutcome {
	var outcomes []domain.TradeOutcome
	for i, productID := range s.params.Products {
		delta := result.Deltas[i]
		if delta >= -s.params.TradeThreshold {
			continue
		}

		base := config.BaseCurrency(productID)
		price := snap.Prices[productID]
		targetQty := result.Weights[i] * snap.TotalValue / price
		sellQty := snap.Quantities[base] - targetQty
		if sellQty <= 0 {
			continue
		}

		outcomes = append(outcomes, s.submit(ctx, productID, domain.SideSell, sellQty))
	}
	return outcomes
}

// executeBuys submits buy orders for every asset whose weight must grow
// by more than the trade threshold.
func (s *Sequencer) executeBuys(ctx context.Context, snap *Snapshot, result *optimization.Result) []domain.TradeOutcome {
	var outcomes []domain.TradeOutcome
	for i, productID := range s.params.Products {
		delta := result.Deltas[i]
		if delta <= s.params.TradeThreshold {
			continue
		}

		price := snap.Prices[productID]
		buyQty := delta * snap.TotalValue / price
		if buyQty <= 0 {
			continue
		}

		outcomes = append(outcomes, s.submit(ctx, productID, domain.SideBuy, buyQty))
	}
	return outcomes
}

// submit places a single order and converts the result into a trade
// outcome. Order failures are captured, not propagated.
func (s *Sequencer) submit(ctx context.Context, productID string, side domain.TradeSide, size float64) domain.TradeOutcome {
	outcome := domain.TradeOutcome{
		ProductID: productID,
		Side:      side,
		Size:      size,
	}

	orderID, err := s.exchange.SubmitOrder(ctx, productID, side, size)
	if err != nil {
		outcome.Status = domain.TradeStatusFailed
		outcome.Reason = err.Error()
		s.log.Error().
			Err(err).
			Str("product_id", productID).
			Str("side", string(side)).
			Float64("size", size).
			Msg("Order submission failed")
		return outcome
	}

	outcome.Status = domain.TradeStatusSuccess
	outcome.OrderID = orderID
	s.log.Info().
		Str("product_id", productID).
		Str("side", string(side)).
		Float64("size", size).
		Str("order_id", orderID).
		Msg("Order submitted")
	return outcome
}

// settleWait polls balances until two consecutive reads agree, meaning
// fills have settled, or the wait budget runs out. A fixed sleep would
// either waste time or cut settlement short; polling adapts to the
// exchange.
func (s *Sequencer) settleWait(ctx context.Context) error {
	deadline := s.clock.Now().Add(s.params.SettleMaxWait)

	var prev map[string]float64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		balances, err := s.exchange.GetBalances(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("Balance poll failed during settlement wait")
		} else if prev != nil && balancesEqual(prev, balances) {
			return nil
		} else {
			prev = balances
		}

		if !s.clock.Now().Add(s.params.SettlePollInterval).Before(deadline) {
			return fmt.Errorf("settlement not confirmed after %s", s.params.SettleMaxWait)
		}
		s.clock.Sleep(s.params.SettlePollInterval)
	}
}

// verify compares achieved weights to the target and warns on drift
// beyond tolerance. Drift is expected when orders partially fill; it is
// surfaced, not corrected, since the next cycle re-optimizes anyway.
func (s *Sequencer) verify(final *Snapshot, result *optimization.Result) {
	for i, productID := range s.params.Products {
		drift := math.Abs(final.Weights[i] - result.Weights[i])
		if drift > s.params.VerifyTolerance {
			s.log.Warn().
				Str("product_id", productID).
				Float64("target", result.Weights[i]).
				Float64("achieved", final.Weights[i]).
				Float64("drift", drift).
				Msg("Achieved weight drifted from target")
		}
	}
}

// record appends the event to the ledger. Recording is mandatory: a
// cycle that traded but left no ledger entry is an operational failure.
func (s *Sequencer) record(event domain.RebalanceEvent) (*domain.RebalanceEvent, error) {
	id, err := s.ledger.Append(event)
	if err != nil {
		return nil, fmt.Errorf("failed to record rebalance event: %w", err)
	}
	event.ID = id
	s.log.Info().
		Int64("event_id", id).
		Float64("turnover", event.Turnover).
		Int("trades", len(event.Trades)).
		Msg("Rebalance cycle recorded")
	return &event, nil
}

// weightsMap converts an ordered weight slice into the product-keyed map
// the ledger stores.
func (s *Sequencer) weightsMap(weights []float64) map[string]float64 {
	m := make(map[string]float64, len(weights))
	for i, productID := range s.params.Products {
		m[productID] = weights[i]
	}
	return m
}

func balancesEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || math.Abs(bv-v) > 1e-12 {
			return false
		}
	}
	return true
}
