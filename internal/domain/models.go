// Package domain contains the core types shared across modules and the
// interfaces for external collaborators (market data, exchange).
package domain

import (
	"fmt"
	"time"
)

// Candle is a single daily close observation.
type Candle struct {
	Date  string  `json:"date" msgpack:"date"` // YYYY-MM-DD
	Close float64 `json:"close" msgpack:"close"`
}

// TradeSide is the direction of an order.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeStatus records how an individual order attempt ended. Order
// failures are data, not exceptions: the sequencer collects one outcome
// per attempted trade and keeps going.
type TradeStatus string

const (
	TradeStatusSuccess TradeStatus = "success"
	TradeStatusFailed  TradeStatus = "failed"
)

// TradeOutcome is the structured result of a single order attempt.
type TradeOutcome struct {
	ProductID string      `json:"product_id"`
	Side      TradeSide   `json:"side"`
	Size      float64     `json:"base_size"`
	OrderID   string      `json:"order_id,omitempty"`
	Status    TradeStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
}

// Succeeded reports whether the order was accepted by the exchange.
func (t TradeOutcome) Succeeded() bool {
	return t.Status == TradeStatusSuccess
}

// RebalanceEvent is one append-only ledger record, written exactly once
// per rebalance invocation, including no-trade invocations.
type RebalanceEvent struct {
	ID             int64     `json:"id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	PortfolioValue float64   `json:"portfolio_value"`

	CurrentWeights    map[string]float64 `json:"current_weights"`
	CurrentCashWeight float64            `json:"current_cash_weight"`
	TargetWeights     map[string]float64 `json:"target_weights"`
	TargetCashWeight  float64            `json:"target_cash_weight"`

	Turnover float64        `json:"total_turnover"`
	Trades   []TradeOutcome `json:"trades"`

	FinalWeights    map[string]float64 `json:"final_weights"`
	FinalCashWeight float64            `json:"final_cash_weight"`
}

// Validate checks invariants before the event is persisted. A corrupted
// event must never reach the ledger.
func (e RebalanceEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("rebalance event has zero timestamp")
	}
	if e.PortfolioValue < 0 {
		return fmt.Errorf("rebalance event has negative portfolio value: %v", e.PortfolioValue)
	}
	for product, w := range e.TargetWeights {
		if w < 0 {
			return fmt.Errorf("negative target weight %v for %s", w, product)
		}
	}
	return nil
}
