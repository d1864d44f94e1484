package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the arena
type Config struct {
	// Mode
	TradingMode string // "paper" only; "live" is recognized and refused
	Debug       bool

	// Competition
	CapitalPerModel  decimal.Decimal
	MaxDailyLoss     decimal.Decimal // fraction of initial capital, e.g. 0.05
	Slippage         decimal.Decimal // e.g. 0.001 = 0.1%
	CommissionRate   decimal.Decimal
	MinOrderUSD      decimal.Decimal
	MaxBuyFraction   decimal.Decimal // cap on cash committed per BUY
	DecisionInterval time.Duration
	RoundTimeout     time.Duration

	// Market data
	Symbols              []string
	Timeframes           []string
	PrimaryTimeframe     string
	Lookback             int
	MaxRequestsPerMinute int
	CacheTTL             time.Duration
	ExchangeBaseURL      string

	// Models
	Models map[string]ModelConfig

	// Persistence
	ResultsDir   string
	DatabaseURL  string
	DatabasePath string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Metrics
	MetricsAddr string
}

// ModelConfig is the per-provider adapter block
type ModelConfig struct {
	Provider             string
	Enabled              bool
	APIKey               string
	Model                string
	BaseURL              string
	MaxTokens            int
	Temperature          float64
	Timeout              time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	MaxRequestsPerMinute int
}

// providers with a <PREFIX>_* env block
var providers = []struct {
	name         string
	prefix       string
	defaultModel string
	defaultURL   string
}{
	{"deepseek", "DEEPSEEK", "deepseek-chat", "https://api.deepseek.com/v1/chat/completions"},
	{"openai", "OPENAI", "gpt-4o-mini", "https://api.openai.com/v1/chat/completions"},
	{"anthropic", "ANTHROPIC", "claude-sonnet-4-20250514", "https://api.anthropic.com/v1/messages"},
	{"groq", "GROQ", "llama-3.3-70b-versatile", "https://api.groq.com/openai/v1/chat/completions"},
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Mode
		TradingMode: getEnv("TRADING_MODE", "paper"),
		Debug:       getEnvBool("DEBUG", false),

		// Competition
		CapitalPerModel:  getEnvDecimal("CAPITAL_PER_MODEL", decimal.NewFromInt(100)),
		MaxDailyLoss:     getEnvDecimal("MAX_DAILY_LOSS", decimal.NewFromFloat(0.05)),
		Slippage:         getEnvDecimal("SLIPPAGE", decimal.NewFromFloat(0.001)),
		CommissionRate:   getEnvDecimal("COMMISSION_RATE", decimal.NewFromFloat(0.001)),
		MinOrderUSD:      getEnvDecimal("MIN_ORDER_USD", decimal.NewFromInt(10)),
		MaxBuyFraction:   getEnvDecimal("MAX_BUY_FRACTION", decimal.NewFromFloat(0.05)),
		DecisionInterval: getEnvDuration("DECISION_INTERVAL", 3*time.Minute),
		RoundTimeout:     getEnvDuration("ROUND_TIMEOUT", 2*time.Minute),

		// Market data
		Symbols:              getEnvList("SYMBOLS", []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}),
		Timeframes:           getEnvList("TIMEFRAMES", []string{"1m", "3m", "15m", "1h", "4h"}),
		PrimaryTimeframe:     getEnv("PRIMARY_TIMEFRAME", "3m"),
		Lookback:             getEnvInt("LOOKBACK", 100),
		MaxRequestsPerMinute: getEnvInt("MAX_REQUESTS_PER_MINUTE", 600),
		CacheTTL:             getEnvDuration("CACHE_TTL", 60*time.Second),
		ExchangeBaseURL:      getEnv("EXCHANGE_BASE_URL", "https://api.binance.com"),

		// Persistence
		ResultsDir:   getEnv("RESULTS_DIR", "data/results"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabasePath: getEnv("DATABASE_PATH", ""),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Metrics
		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	// Per-provider model blocks
	cfg.Models = make(map[string]ModelConfig, len(providers)+1)
	for _, p := range providers {
		key := os.Getenv(p.prefix + "_API_KEY")
		cfg.Models[p.name] = ModelConfig{
			Provider:             p.name,
			Enabled:              getEnvBool(p.prefix+"_ENABLED", key != ""),
			APIKey:               key,
			Model:                getEnv(p.prefix+"_MODEL", p.defaultModel),
			BaseURL:              getEnv(p.prefix+"_BASE_URL", p.defaultURL),
			MaxTokens:            getEnvInt(p.prefix+"_MAX_TOKENS", 1024),
			Temperature:          getEnvFloat(p.prefix+"_TEMPERATURE", 0.3),
			Timeout:              getEnvDuration(p.prefix+"_TIMEOUT", 30*time.Second),
			MaxRetries:           getEnvInt(p.prefix+"_MAX_RETRIES", 3),
			RetryDelay:           getEnvDuration(p.prefix+"_RETRY_DELAY", 2*time.Second),
			MaxRequestsPerMinute: getEnvInt(p.prefix+"_MAX_RPM", 20),
		}
	}
	if getEnvBool("MOCK_ENABLED", false) {
		cfg.Models["mock"] = ModelConfig{Provider: "mock", Enabled: true, Model: "mock"}
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Live execution is out of scope for this core
	if cfg.TradingMode == "live" {
		log.Warn().Msg("⚠️ TRADING_MODE=live is not supported, forcing paper mode")
		cfg.TradingMode = "paper"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must list at least one pair")
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("LOOKBACK must be positive")
	}
	if c.CapitalPerModel.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("CAPITAL_PER_MODEL must be positive")
	}
	if c.DecisionInterval <= 0 {
		return fmt.Errorf("DECISION_INTERVAL must be positive")
	}
	primary := false
	for _, tf := range c.Timeframes {
		if tf == c.PrimaryTimeframe {
			primary = true
			break
		}
	}
	if !primary {
		return fmt.Errorf("PRIMARY_TIMEFRAME %q is not in TIMEFRAMES", c.PrimaryTimeframe)
	}
	return nil
}

// EnabledModels returns the enabled provider blocks, keyed by name.
func (c *Config) EnabledModels() map[string]ModelConfig {
	out := make(map[string]ModelConfig)
	for name, mc := range c.Models {
		if mc.Enabled {
			out[name] = mc
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
