// Command trader runs the systematic portfolio trader: a long-running
// daemon with a daily rebalance schedule and an HTTP API, plus one-shot
// subcommands for manual rebalancing, backtesting, and inspecting the
// optimal allocation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhd66g/coinbase-systematic-trader/internal/backtest"
	"github.com/jhd66g/coinbase-systematic-trader/internal/clients/coinbase"
	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/database"
	"github.com/jhd66g/coinbase-systematic-trader/internal/domain"
	"github.com/jhd66g/coinbase-systematic-trader/internal/estimation"
	"github.com/jhd66g/coinbase-systematic-trader/internal/ledger"
	"github.com/jhd66g/coinbase-systematic-trader/internal/notify"
	"github.com/jhd66g/coinbase-systematic-trader/internal/optimization"
	"github.com/jhd66g/coinbase-systematic-trader/internal/rebalance"
	"github.com/jhd66g/coinbase-systematic-trader/internal/reliability"
	"github.com/jhd66g/coinbase-systematic-trader/internal/scheduler"
	"github.com/jhd66g/coinbase-systematic-trader/internal/server"
	"github.com/jhd66g/coinbase-systematic-trader/pkg/logger"
)

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: os.Getenv("LOG_PRETTY") == "true",
	})

	switch cmd {
	case "serve":
		err = runServe(cfg, log)
	case "rebalance":
		err = runRebalance(cfg, log)
	case "backtest":
		err = runBacktest(cfg, log, args)
	case "show":
		err = runShow(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "usage: trader [serve|rebalance|backtest|show]\n")
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("Command failed")
		os.Exit(1)
	}
}

// app holds the wired core components shared by all subcommands.
type app struct {
	db        *database.DB
	ledger    *ledger.Repository
	client    *coinbase.Client
	market    domain.MarketDataProvider
	optimizer *optimization.Service
	sequencer *rebalance.Sequencer
	mailer    *notify.Mailer
}

func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	db, err := database.Open(cfg.LedgerDBPath(), database.ProfileLedger)
	if err != nil {
		return nil, err
	}

	repo, err := ledger.NewRepository(db.Conn(), log)
	if err != nil {
		db.Close()
		return nil, err
	}

	client, err := coinbase.NewClient(cfg.CoinbaseKeyName, cfg.CoinbasePrivateKey, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	market := coinbase.NewCachedMarketData(client, cfg.CandleCachePath(), log)

	optimizer := optimization.NewService(cfg.Params, log)
	sequencer := rebalance.NewSequencer(client, market, optimizer, repo, cfg.Params, rebalance.NewRealClock(), log)

	return &app{
		db:        db,
		ledger:    repo,
		client:    client,
		market:    market,
		optimizer: optimizer,
		sequencer: sequencer,
		mailer:    notify.NewMailer(cfg.SMTP, cfg.Params.RiskFreeAsset, log),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close database: %v\n", err)
	}
}

func runServe(cfg *config.Config, log zerolog.Logger) error {
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.New(log)
	rebalanceSchedule := getSchedule("TRADER_REBALANCE_SCHEDULE", "0 16 * * *")
	if err := sched.AddJob(rebalanceSchedule, scheduler.NewDailyRebalanceJob(a.sequencer, a.ledger, a.mailer, log)); err != nil {
		return fmt.Errorf("failed to schedule daily rebalance: %w", err)
	}

	if cfg.Backup.Enabled {
		backup, err := reliability.NewBackupService(context.Background(), a.db, cfg.Backup, log)
		if err != nil {
			return err
		}
		backupSchedule := getSchedule("TRADER_BACKUP_SCHEDULE", "30 16 * * *")
		if err := sched.AddJob(backupSchedule, scheduler.NewLedgerBackupJob(backup)); err != nil {
			return fmt.Errorf("failed to schedule ledger backup: %w", err)
		}
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		DB:        a.db,
		Ledger:    a.ledger,
		Sequencer: a.sequencer,
		Optimizer: a.optimizer,
		Market:    a.market,
		Params:    cfg.Params,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runRebalance(cfg *config.Config, log zerolog.Logger) error {
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.New(log)
	return sched.RunNow(scheduler.NewDailyRebalanceJob(a.sequencer, a.ledger, a.mailer, log))
}

func runBacktest(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	days := fs.Int("days", 30, "number of days to simulate")
	window := fs.Int("window", cfg.Params.LookbackDays, "estimation window in days")
	initial := fs.Float64("initial", 10000, "starting portfolio value")
	sweep := fs.Bool("sweep", false, "compare all window sizes and passive benchmarks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	engine := backtest.NewEngine(a.market, cfg.Params, log)
	ctx := context.Background()

	var out interface{}
	if *sweep {
		out, err = engine.RunSweep(ctx, *days, *initial, backtest.DefaultWindows)
	} else {
		out, err = engine.Run(ctx, backtest.Config{Days: *days, Window: *window, InitialValue: *initial})
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runShow prints the unconstrained optimal allocation, the portfolio
// the optimizer would build starting from all cash.
func runShow(cfg *config.Config, log zerolog.Logger) error {
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	asOf := time.Now().UTC().Format("2006-01-02")

	history := make(map[string][]domain.Candle, len(cfg.Params.Products))
	for _, productID := range cfg.Params.Products {
		candles, err := a.market.GetPriceHistory(ctx, productID, asOf, cfg.Params.LookbackDays)
		if err != nil {
			return err
		}
		history[productID] = candles
	}

	prices, err := estimation.BuildPriceMatrix(history, cfg.Params.Products, cfg.Params.LookbackDays)
	if err != nil {
		return err
	}

	result, err := a.optimizer.Run(prices, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Optimal allocation as of %s\n\n", asOf)
	for i, productID := range cfg.Params.Products {
		fmt.Printf("  %-12s %6.2f%%\n", productID, result.Weights[i]*100)
	}
	fmt.Printf("  %-12s %6.2f%%\n\n", cfg.Params.RiskFreeAsset, result.CashWeight()*100)
	fmt.Printf("  Portfolio volatility: %.2f%% (annualized)\n", result.PortfolioVolatility*100)
	fmt.Printf("  Risk exposure:        %.2f\n", result.RiskExposure)
	return nil
}

func getSchedule(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
