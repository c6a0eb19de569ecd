package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine. It is built once at startup
// and passed by pointer into every component; nothing reads the environment
// after Load returns.
type Config struct {
	// Trading
	TradingAsset string          // BTC, ETH, ...
	EntryPrice   decimal.Decimal // limit buy price per side
	MinShares    decimal.Decimal // min shares per side
	MaxShares    decimal.Decimal // max shares per side
	SizingMode   string          // "fixed" or "percent"
	RiskPercent  decimal.Decimal // % of balance risked per round (percent mode)

	// Risk
	StopLossPrice        decimal.Decimal // bail out if the unfilled side's ask exceeds this
	EnableStopLoss       bool
	MaxDailyLoss         decimal.Decimal // USD
	MaxConsecutiveLosses int
	MaxConcurrentMarkets int

	// Execution
	SimulationMode     bool
	AutoRedeem         bool
	CheckInterval      time.Duration
	OrderExpiry        time.Duration
	SellOrderExpiry    time.Duration
	RedeemPollAttempts int
	RedeemPollInterval time.Duration
	LookbackHours      int
	FeeRatePct         decimal.Decimal // estimated venue fees, % of gross P&L
	SummaryInterval    time.Duration

	// Timeframe streams
	Timeframes []Timeframe

	// Endpoints
	GammaURL   string
	CLOBURL    string
	RelayerURL string
	WSURL      string

	// CLOB credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Wallet / relayer
	WalletPrivateKey  string
	FunderAddress     string
	BuilderAPIKey     string
	BuilderSecret     string
	BuilderPassphrase string

	// Contracts (Polygon)
	CTFAddress     string
	USDCAddress    string
	NegRiskAdapter string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Store
	DatabasePath string

	Debug bool
}

// Timeframe describes one independent trading stream. Each enabled timeframe
// gets its own control loop, risk state, and store partition.
type Timeframe struct {
	Label         string // "5m", "15m" - also the slug segment
	PeriodSeconds int64
	Anchor        int64 // reference timestamp; window ids are anchor + k*period
	EntryPrice    decimal.Decimal
	MaxPositions  int
	Enabled       bool
}

// Load builds the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TradingAsset: getEnv("TRADING_ASSET", "BTC"),
		EntryPrice:   getEnvDecimal("ENTRY_PRICE", decimal.NewFromFloat(0.45)),
		MinShares:    getEnvDecimal("MIN_POSITION_SIZE", decimal.NewFromInt(10)),
		MaxShares:    getEnvDecimal("MAX_POSITION_SIZE", decimal.NewFromInt(100)),
		SizingMode:   getEnv("POSITION_SIZING", "fixed"),
		RiskPercent:  getEnvDecimal("RISK_PERCENT", decimal.NewFromInt(10)),

		StopLossPrice:        getEnvDecimal("STOP_LOSS_PRICE", decimal.NewFromFloat(0.72)),
		EnableStopLoss:       getEnvBool("ENABLE_STOP_LOSS", true),
		MaxDailyLoss:         getEnvDecimal("MAX_DAILY_LOSS", decimal.NewFromInt(50)),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 5),
		MaxConcurrentMarkets: getEnvInt("MAX_CONCURRENT_MARKETS", 3),

		SimulationMode:     getEnvBool("SIMULATION_MODE", false),
		AutoRedeem:         getEnvBool("AUTO_REDEEM", true),
		CheckInterval:      getEnvDuration("CHECK_INTERVAL_SECONDS", 10) * time.Second,
		OrderExpiry:        getEnvDuration("ORDER_EXPIRY_MINUTES", 60) * time.Minute,
		SellOrderExpiry:    5 * time.Minute,
		RedeemPollAttempts: getEnvInt("REDEEM_POLL_ATTEMPTS", 20),
		RedeemPollInterval: getEnvDuration("REDEEM_POLL_INTERVAL_SECONDS", 3) * time.Second,
		LookbackHours:      getEnvInt("LOOKBACK_HOURS", 2),
		FeeRatePct:         getEnvDecimal("FEE_RATE_PCT", decimal.NewFromInt(2)),
		SummaryInterval:    getEnvDuration("SUMMARY_INTERVAL_MINUTES", 5) * time.Minute,

		GammaURL:   getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:    getEnv("CLOB_API_URL", "https://clob.polymarket.com"),
		RelayerURL: getEnv("RELAYER_URL", "https://relayer-v2.polymarket.com"),
		WSURL:      getEnv("WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		WalletPrivateKey:  os.Getenv("WALLET_PRIVATE_KEY"),
		FunderAddress:     os.Getenv("FUNDER_ADDRESS"),
		BuilderAPIKey:     os.Getenv("BUILDER_API_KEY"),
		BuilderSecret:     os.Getenv("BUILDER_SECRET"),
		BuilderPassphrase: os.Getenv("BUILDER_PASSPHRASE"),

		CTFAddress:     getEnv("CTF_ADDRESS", "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"),
		USDCAddress:    getEnv("USDC_ADDRESS", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		NegRiskAdapter: getEnv("NEG_RISK_ADAPTER", "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/spreadbot.db"),

		Debug: getEnvBool("DEBUG", false),
	}

	cfg.Timeframes = []Timeframe{
		{
			Label:         "5m",
			PeriodSeconds: 300,
			Anchor:        getEnvInt64("TF5_ANCHOR", 1771268400),
			EntryPrice:    getEnvDecimal("TF5_ENTRY_PRICE", decimal.NewFromFloat(0.48)),
			MaxPositions:  getEnvInt("TF5_MAX_POSITIONS", 10),
			Enabled:       getEnvBool("ENABLE_5M", false),
		},
		{
			Label:         "15m",
			PeriodSeconds: 900,
			Anchor:        getEnvInt64("TF15_ANCHOR", 1771268400),
			EntryPrice:    getEnvDecimal("TF15_ENTRY_PRICE", cfg.EntryPrice),
			MaxPositions:  getEnvInt("TF15_MAX_POSITIONS", cfg.MaxConcurrentMarkets),
			Enabled:       getEnvBool("ENABLE_15M", true),
		},
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.SizingMode != "fixed" && cfg.SizingMode != "percent" {
		return nil, fmt.Errorf("invalid POSITION_SIZING %q (want fixed or percent)", cfg.SizingMode)
	}

	// Live trading needs a signing key; simulation runs without credentials.
	if !cfg.SimulationMode && cfg.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required outside simulation mode")
	}

	return cfg, nil
}

// EnabledTimeframes returns the streams that should run.
func (c *Config) EnabledTimeframes() []Timeframe {
	out := make([]Timeframe, 0, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		if tf.Enabled {
			out = append(out, tf)
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultValue))
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
