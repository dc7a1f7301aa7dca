package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Broker credentials
	BrokerBaseURL    string
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string

	// Market data
	MarketDataBaseURL string
	MarketDataWSURL   string
	MarketDataAPIKey  string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Notifications (optional; log-only when unset)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Watchlist
	Watchlist string // comma-separated symbols, e.g. "AAPL,MSFT,NVDA"

	// Strategy parameters
	OscillatorPeriod int
	WindowSize       int
	MinSeverity      float64
	CrossUnderLevel  float64

	// Risk parameters
	PositionSize     float64 // base dollar size per trade
	StopLossPct      float64
	TrailingStopPct  float64
	TP2OffsetPct     float64 // TP2 threshold offset above the 20-bar median
	MaxHoldingDays   int
	MaxOpenPositions int

	// Live loop
	CycleInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BrokerBaseURL:    getEnv("BROKER_BASE_URL", "https://paper-api.broker.local"),
		BrokerAPIKey:     mustEnv("BROKER_API_KEY"),
		BrokerClientCode: mustEnv("BROKER_CLIENT_CODE"),
		BrokerPassword:   mustEnv("BROKER_PASSWORD"),
		BrokerTOTPSecret: mustEnv("BROKER_TOTP_SECRET"),

		MarketDataBaseURL: getEnv("MARKET_DATA_BASE_URL", "https://data.broker.local"),
		MarketDataWSURL:   getEnv("MARKET_DATA_WS_URL", ""),
		MarketDataAPIKey:  getEnv("MARKET_DATA_API_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		Watchlist: getEnv("WATCHLIST", "AAPL,MSFT,GOOGL,AMZN,NVDA"),

		OscillatorPeriod: getEnvInt("OSCILLATOR_PERIOD", 14),
		WindowSize:       getEnvInt("WINDOW_SIZE", 20),
		MinSeverity:      getEnvFloat("MIN_SEVERITY", 1.0),
		CrossUnderLevel:  getEnvFloat("CROSS_UNDER_LEVEL", 30),

		PositionSize:     getEnvFloat("POSITION_SIZE", 1000),
		StopLossPct:      getEnvFloat("STOP_LOSS_PCT", 0.05),
		TrailingStopPct:  getEnvFloat("TRAILING_STOP_PCT", 0.05),
		TP2OffsetPct:     getEnvFloat("TP2_OFFSET_PCT", 0.02),
		MaxHoldingDays:   getEnvInt("MAX_HOLDING_DAYS", 20),
		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 6),

		CycleInterval: getEnvDuration("CYCLE_INTERVAL", time.Minute),
	}
}

// Symbols parses the Watchlist string into a deduplicated, uppercased slice.
func (c *Config) Symbols() []string {
	parts := strings.Split(c.Watchlist, ",")
	seen := make(map[string]bool, len(parts))
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.ToUpper(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

// MaxHolding returns the time stop duration.
func (c *Config) MaxHolding() time.Duration {
	return time.Duration(c.MaxHoldingDays) * 24 * time.Hour
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
