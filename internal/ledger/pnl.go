package ledger

import "github.com/jhd66g/coinbase-systematic-trader/internal/domain"

// PnL holds the two figures the daily report needs.
type PnL struct {
	Day      float64 `json:"day"`
	Lifetime float64 `json:"lifetime"`
}

// ComputePnL derives day-over-day and lifetime P&L from the event history:
// latest minus previous, and latest minus first. With fewer than two
// events both figures are zero.
func ComputePnL(events []domain.RebalanceEvent) PnL {
	if len(events) < 2 {
		return PnL{}
	}
	latest := events[len(events)-1].PortfolioValue
	previous := events[len(events)-2].PortfolioValue
	first := events[0].PortfolioValue
	return PnL{
		Day:      latest - previous,
		Lifetime: latest - first,
	}
}
