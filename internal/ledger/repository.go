// Package ledger persists the append-only record of rebalance events.
// Historical records are never mutated or deleted; the single writer is
// the rebalance sequencer.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/rs/zerolog"
)

// eventColumns is the column list for the rebalance_events table, kept
// explicit so schema changes fail loudly instead of silently shifting
// scan targets.
const eventColumns = `id, timestamp, portfolio_value, current_weights, current_cash_weight,
	target_weights, target_cash_weight, total_turnover, trades,
	final_weights, final_cash_weight`

const schema = `
CREATE TABLE IF NOT EXISTS rebalance_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	portfolio_value REAL NOT NULL CHECK (portfolio_value >= 0),
	current_weights TEXT NOT NULL,
	current_cash_weight REAL NOT NULL,
	target_weights TEXT NOT NULL,
	target_cash_weight REAL NOT NULL,
	total_turnover REAL NOT NULL,
	trades TEXT NOT NULL,
	final_weights TEXT NOT NULL,
	final_cash_weight REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rebalance_events_timestamp ON rebalance_events(timestamp);
`

// Repository handles rebalance event persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a ledger repository and ensures the schema exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}, nil
}

// Append inserts one rebalance event and returns its row ID. Events are
// validated first; a corrupted event must never reach the ledger.
func (r *Repository) Append(event domain.RebalanceEvent) (int64, error) {
	if err := event.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to append invalid event: %w", err)
	}

	currentJSON, err := json.Marshal(event.CurrentWeights)
	if err != nil {
		return 0, fmt.Errorf("failed to encode current weights: %w", err)
	}
	targetJSON, err := json.Marshal(event.TargetWeights)
	if err != nil {
		return 0, fmt.Errorf("failed to encode target weights: %w", err)
	}
	finalJSON, err := json.Marshal(event.FinalWeights)
	if err != nil {
		return 0, fmt.Errorf("failed to encode final weights: %w", err)
	}
	trades := event.Trades
	if trades == nil {
		trades = []domain.TradeOutcome{}
	}
	tradesJSON, err := json.Marshal(trades)
	if err != nil {
		return 0, fmt.Errorf("failed to encode trades: %w", err)
	}

	query := `
		INSERT INTO rebalance_events
		(timestamp, portfolio_value, current_weights, current_cash_weight,
		 target_weights, target_cash_weight, total_turnover, trades,
		 final_weights, final_cash_weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Exec(query,
		event.Timestamp.Unix(),
		event.PortfolioValue,
		string(currentJSON),
		event.CurrentCashWeight,
		string(targetJSON),
		event.TargetCashWeight,
		event.Turnover,
		string(tradesJSON),
		string(finalJSON),
		event.FinalCashWeight,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append rebalance event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}

	r.log.Info().
		Int64("event_id", id).
		Float64("portfolio_value", event.PortfolioValue).
		Int("trades", len(trades)).
		Msg("Appended rebalance event")

	return id, nil
}

// All returns every rebalance event in insertion order.
func (r *Repository) All() ([]domain.RebalanceEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM rebalance_events ORDER BY id ASC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance events: %w", err)
	}
	defer rows.Close()

	var events []domain.RebalanceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rebalance events: %w", err)
	}
	return events, nil
}

// Latest returns the most recent event, or nil when the ledger is empty.
func (r *Repository) Latest() (*domain.RebalanceEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM rebalance_events ORDER BY id DESC LIMIT 1`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	event, err := scanEvent(rows)
	if err != nil {
		return nil, err
	}
	return &event, rows.Err()
}

// Count returns the number of recorded events.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM rebalance_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rebalance events: %w", err)
	}
	return count, nil
}

func scanEvent(rows *sql.Rows) (domain.RebalanceEvent, error) {
	var (
		event      domain.RebalanceEvent
		ts         int64
		currentStr string
		targetStr  string
		finalStr   string
		tradesStr  string
	)
	err := rows.Scan(
		&event.ID,
		&ts,
		&event.PortfolioValue,
		&currentStr,
		&event.CurrentCashWeight,
		&targetStr,
		&event.TargetCashWeight,
		&event.Turnover,
		&tradesStr,
		&finalStr,
		&event.FinalCashWeight,
	)
	if err != nil {
		return event, fmt.Errorf("failed to scan rebalance event: %w", err)
	}

	event.Timestamp = time.Unix(ts, 0).UTC()
	if err := json.Unmarshal([]byte(currentStr), &event.CurrentWeights); err != nil {
		return event, fmt.Errorf("failed to decode current weights: %w", err)
	}
	if err := json.Unmarshal([]byte(targetStr), &event.TargetWeights); err != nil {
		return event, fmt.Errorf("failed to decode target weights: %w", err)
	}
	if err := json.Unmarshal([]byte(finalStr), &event.FinalWeights); err != nil {
		return event, fmt.Errorf("failed to decode final weights: %w", err)
	}
	if err := json.Unmarshal([]byte(tradesStr), &event.Trades); err != nil {
		return event, fmt.Errorf("failed to decode trades: %w", err)
	}
	return event, nil
}
