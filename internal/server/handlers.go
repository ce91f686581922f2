package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/jhd66g/coinbase-systematic-trader/internal/estimation"
	"github.com/jhd66g/coinbase-systematic-trader/internal/ledger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleLedgerEvents returns the full rebalance history in insertion
// order.
func (s *Server) handleLedgerEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.ledger.All()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handleLedgerPnL returns day-over-day and lifetime P&L.
func (s *Server) handleLedgerPnL(w http.ResponseWriter, r *http.Request) {
	events, err := s.ledger.All()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ledger.ComputePnL(events))
}

// handlePortfolioTarget computes the unconstrained optimal allocation,
// the portfolio the optimizer would build starting from all cash.
func (s *Server) handlePortfolioTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf := time.Now().UTC().Format("2006-01-02")

	history := make(map[string][]domain.Candle, len(s.params.Products))
	for _, productID := range s.params.Products {
		candles, err := s.market.GetPriceHistory(ctx, productID, asOf, s.params.LookbackDays)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
		history[productID] = candles
	}

	prices, err := estimation.BuildPriceMatrix(history, s.params.Products, s.params.LookbackDays)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := s.optimizer.Run(prices, nil)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	weights := make(map[string]float64, len(s.params.Products))
	for i, productID := range s.params.Products {
		weights[productID] = result.Weights[i]
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"as_of":                asOf,
		"weights":              weights,
		"cash_weight":          result.CashWeight(),
		"portfolio_volatility": result.PortfolioVolatility,
		"risk_exposure":        result.RiskExposure,
	})
}

// handleRebalance triggers one rebalance cycle. The sequencer
// serializes runs, so a request during the scheduled cycle waits its
// turn.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	event, err := s.sequencer.Run(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

// handleHealth reports process and host health alongside ledger
// database integrity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"

	dbStatus := "ok"
	if err := s.db.HealthCheck(ctx); err != nil {
		dbStatus = err.Error()
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"database":  dbStatus,
	}

	if cpuPct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPct) > 0 {
		health["cpu_percent"] = cpuPct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		health["memory_percent"] = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		health["disk_percent"] = du.UsedPercent
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}
