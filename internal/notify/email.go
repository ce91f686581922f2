// Package notify sends the daily trading summary email.
package notify

import (
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/jhd66g/coinbase-systematic-trader/internal/ledger"
	"github.com/rs/zerolog"
)

const divider = "═══════════════════════════════════════════════════════════"

// Mailer sends plain-text trade summaries over SMTP with STARTTLS.
type Mailer struct {
	cfg      config.SMTPConfig
	riskFree string
	send     func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
	log      zerolog.Logger
}

// NewMailer creates a mailer. The cash line in every summary is labeled
// with riskFreeAsset. When SMTP credentials are missing the mailer still
// constructs; Send then becomes a logged no-op so the trading path never
// depends on email being configured.
func NewMailer(cfg config.SMTPConfig, riskFreeAsset string, log zerolog.Logger) *Mailer {
	return &Mailer{
		cfg:      cfg,
		riskFree: riskFreeAsset,
		send:     smtp.SendMail,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

// SendDailySummary emails the outcome of the latest rebalance with
// day-over-day and lifetime P&L.
func (m *Mailer) SendDailySummary(event *domain.RebalanceEvent, pnl ledger.PnL) error {
	if !m.cfg.Configured() {
		m.log.Warn().Msg("Email credentials not configured, skipping summary")
		return nil
	}

	subject := fmt.Sprintf("Coinbase Trading Summary - %s", time.Now().UTC().Format("2006-01-02"))
	body := FormatSummary(event, pnl, m.riskFree)

	msg := strings.Builder{}
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", m.cfg.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)
	if err := m.send(addr, auth, m.cfg.From, []string{m.cfg.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send summary email: %w", err)
	}

	m.log.Info().Str("to", m.cfg.To).Msg("Daily summary email sent")
	return nil
}

// FormatSummary renders the plain-text body of the daily email. The
// riskFreeAsset name labels the cash allocation line.
func FormatSummary(event *domain.RebalanceEvent, pnl ledger.PnL, riskFreeAsset string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Daily Trading Summary - %s\n\n%s\n\n", event.Timestamp.Format(time.RFC3339), divider)

	fmt.Fprintf(&b, "PORTFOLIO OVERVIEW\n")
	fmt.Fprintf(&b, "Total Value: $%.2f\n", event.PortfolioValue)
	fmt.Fprintf(&b, "Day P&L: %s\n", formatPnL(pnl.Day, event.PortfolioValue))
	fmt.Fprintf(&b, "Lifetime P&L: %s\n\n%s\n\n", formatPnL(pnl.Lifetime, event.PortfolioValue), divider)

	fmt.Fprintf(&b, "CURRENT HOLDINGS\n")
	writeAllocation(&b, event.FinalWeights, event.FinalCashWeight, event.PortfolioValue, riskFreeAsset)
	fmt.Fprintf(&b, "\n%s\n\n", divider)

	fmt.Fprintf(&b, "TARGET ALLOCATION\n")
	writeAllocation(&b, event.TargetWeights, event.TargetCashWeight, event.PortfolioValue, riskFreeAsset)
	fmt.Fprintf(&b, "\n%s\n\n", divider)

	fmt.Fprintf(&b, "TRADES EXECUTED (%d)\n", len(event.Trades))
	if len(event.Trades) == 0 {
		b.WriteString("No trades executed (within rebalance bands)\n")
	}
	for _, t := range event.Trades {
		fmt.Fprintf(&b, "%-4s %-12s %.8f  [%s]\n", t.Side, t.ProductID, t.Size, t.Status)
	}
	fmt.Fprintf(&b, "\n%s\n", divider)

	return b.String()
}

func writeAllocation(b *strings.Builder, weights map[string]float64, cashWeight, total float64, riskFreeAsset string) {
	products := make([]string, 0, len(weights))
	for p := range weights {
		products = append(products, p)
	}
	sort.Strings(products)

	for _, p := range products {
		w := weights[p]
		fmt.Fprintf(b, "%-12s %6.2f%%  ($%.2f)\n", p, w*100, total*w)
	}
	fmt.Fprintf(b, "%-12s %6.2f%%  ($%.2f)\n", riskFreeAsset, cashWeight*100, total*cashWeight)
}

func formatPnL(pnl, currentValue float64) string {
	base := currentValue - pnl
	pct := 0.0
	if base != 0 {
		pct = pnl / base * 100
	}
	return fmt.Sprintf("$%+.2f (%+.2f%%)", pnl, pct)
}
