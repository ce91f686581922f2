// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Params holds the strategy parameters for a single rebalance or backtest
// run. It is a plain value: callers copy it, mutate their copy, and pass it
// down, so backtests can vary parameters per run without cross-run
// interference.
type Params struct {
	// Products is the ordered risky asset universe (Coinbase product IDs).
	Products []string
	// RiskFreeAsset is the currency the uninvested remainder sits in.
	RiskFreeAsset string

	TurnoverCap       float64 // max aggregate |Δw| per rebalance
	RebalanceBand     float64 // per-asset no-trade band
	TargetVolatility  float64 // annualized volatility ceiling
	RiskFreeRate      float64 // annualized risk-free rate (USDC yield)
	EWMAHalfLife      float64 // half-life in days for covariance decay
	MomentumShrinkage float64 // shrinkage factor γ on momentum sums
	LookbackDays      int     // price history window for estimation

	// MinTurnover is the aggregate turnover below which no orders are
	// placed at all (the invocation is still logged).
	MinTurnover float64
	// TradeThreshold is the per-asset |Δw| below which an individual
	// sell/buy is skipped during execution.
	TradeThreshold float64
	// VerifyTolerance is the max per-asset deviation between realized and
	// target weights before a warning is emitted.
	VerifyTolerance float64

	// SettleMaxWait bounds how long the sequencer waits for order
	// settlement between phases. SettlePollInterval is how often balances
	// are re-read while waiting.
	SettleMaxWait      time.Duration
	SettlePollInterval time.Duration

	MakerFee float64
	TakerFee float64
}

// DefaultParams returns the production strategy parameters.
func DefaultParams() Params {
	return Params{
		Products:           []string{"BTC-USDC", "ETH-USDC", "PAXG-USDC", "SOL-USDC"},
		RiskFreeAsset:      "USDC",
		TurnoverCap:        0.50,
		RebalanceBand:      0.20,
		TargetVolatility:   0.15,
		RiskFreeRate:       0.0385,
		EWMAHalfLife:       60,
		MomentumShrinkage:  0.1,
		LookbackDays:       60,
		MinTurnover:        0.001,
		TradeThreshold:     0.001,
		VerifyTolerance:    0.02,
		SettleMaxWait:      30 * time.Second,
		SettlePollInterval: 5 * time.Second,
		MakerFee:           0.006,
		TakerFee:           0.012,
	}
}

// Validate checks parameter sanity before any money moves.
func (p Params) Validate() error {
	if len(p.Products) == 0 {
		return fmt.Errorf("no products configured")
	}
	if p.TurnoverCap <= 0 || p.TurnoverCap > 1 {
		return fmt.Errorf("turnover cap must be in (0, 1], got %v", p.TurnoverCap)
	}
	if p.RebalanceBand < 0 {
		return fmt.Errorf("rebalance band must be non-negative, got %v", p.RebalanceBand)
	}
	if p.TargetVolatility <= 0 {
		return fmt.Errorf("target volatility must be positive, got %v", p.TargetVolatility)
	}
	if p.EWMAHalfLife <= 0 {
		return fmt.Errorf("EWMA half-life must be positive, got %v", p.EWMAHalfLife)
	}
	if p.LookbackDays < 2 {
		return fmt.Errorf("lookback must cover at least 2 days, got %d", p.LookbackDays)
	}
	if p.SettleMaxWait < p.SettlePollInterval {
		return fmt.Errorf("settle max wait %v shorter than poll interval %v", p.SettleMaxWait, p.SettlePollInterval)
	}
	return nil
}

// BaseCurrency extracts the base currency from a product ID, e.g.
// "BTC-USDC" -> "BTC". Exchange balances are keyed by base currency.
func BaseCurrency(productID string) string {
	if i := strings.Index(productID, "-"); i > 0 {
		return productID[:i]
	}
	return productID
}

// SMTPConfig holds email notification settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	To       string
	Password string
}

// Configured reports whether email sending is usable.
func (s SMTPConfig) Configured() bool {
	return s.From != "" && s.To != "" && s.Password != ""
}

// BackupConfig holds ledger backup settings (S3-compatible storage).
type BackupConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Config holds application configuration
type Config struct {
	DataDir            string // base directory for databases and caches
	LogLevel           string
	Port               int
	CoinbaseKeyName    string // API key name for JWT "sub"/"kid" claims
	CoinbasePrivateKey string // EC private key PEM
	SMTP               SMTPConfig
	Backup             BackupConfig
	Params             Params
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	params := DefaultParams()
	if v := getEnv("TRADER_PRODUCTS", ""); v != "" {
		params.Products = splitProducts(v)
	}
	params.TurnoverCap = getEnvAsFloat("TRADER_TURNOVER_CAP", params.TurnoverCap)
	params.RebalanceBand = getEnvAsFloat("TRADER_REBALANCE_BAND", params.RebalanceBand)
	params.TargetVolatility = getEnvAsFloat("TRADER_TARGET_VOLATILITY", params.TargetVolatility)
	params.RiskFreeRate = getEnvAsFloat("TRADER_RISK_FREE_RATE", params.RiskFreeRate)
	params.EWMAHalfLife = getEnvAsFloat("TRADER_EWMA_HALFLIFE", params.EWMAHalfLife)
	params.MomentumShrinkage = getEnvAsFloat("TRADER_MOMENTUM_SHRINKAGE", params.MomentumShrinkage)
	params.LookbackDays = getEnvAsInt("TRADER_LOOKBACK_DAYS", params.LookbackDays)

	cfg := &Config{
		DataDir:            absDataDir,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnvAsInt("TRADER_PORT", 8080),
		CoinbaseKeyName:    getEnv("COINBASE_API_KEY_NAME", ""),
		CoinbasePrivateKey: getEnv("COINBASE_PRIVATE_KEY", ""),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_SERVER", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			From:     getEnv("EMAIL_FROM", ""),
			To:       getEnv("EMAIL_TO", ""),
			Password: getEnv("EMAIL_PASSWORD", ""),
		},
		Backup: BackupConfig{
			Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		Params: params,
	}

	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy parameters: %w", err)
	}

	return cfg, nil
}

// LedgerDBPath returns the path of the ledger database file.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// CandleCachePath returns the path of the candle cache file.
func (c *Config) CandleCachePath() string {
	return filepath.Join(c.DataDir, "candles.msgpack")
}

func splitProducts(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
