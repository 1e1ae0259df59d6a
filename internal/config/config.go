// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/avramidis/skopos/internal/utils"
)

// Config holds application configuration
type Config struct {
	LogLevel  string
	LogPretty bool
	Server    ServerConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Provider  ProviderConfig
	Binance   BinanceConfig
	Yahoo     YahooConfig
	Regime    RegimeConfig
	Context   ContextConfig
	Alignment AlignmentConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CacheConfig holds OHLCV cache tuning
type CacheConfig struct {
	Enabled       bool
	TTL           time.Duration
	MaxBarsPerKey int
	// ConnectOnStart makes startup fail fast when Redis is unreachable.
	// When false the connection is established lazily and a down Redis
	// degrades lookups to misses instead of blocking boot.
	ConnectOnStart bool
}

// ProviderConfig holds data provider tuning
type ProviderConfig struct {
	MaxBars        int
	RequestTimeout time.Duration
	DefaultSource  string
}

// BinanceConfig holds the Binance adapter configuration
type BinanceConfig struct {
	BaseURL             string
	StreamURL           string
	RatePerSec          float64
	Burst               int
	StreamSubscriptions []string // "btcusdt:1m" entries; empty disables the stream
}

// YahooConfig holds the Yahoo Finance adapter configuration
type YahooConfig struct {
	BaseURL    string
	RatePerSec float64
	Burst      int
}

// RegimeConfig holds regime detection tuning. Threshold bases are scaled per
// timeframe and volatility at detection time.
type RegimeConfig struct {
	MinBars              int
	WarmupBars           int
	ADXPeriod            int
	ERPeriod             int
	ERSmoothPeriod       int
	ATRShortPeriod       int
	ATRLongPeriod        int
	MAShortPeriod        int
	MALongPeriod         int
	ADXSlopePeriod       int
	ADXSlopeThreshold    float64
	VolumePeriod         int
	VolumeSpikeThreshold float64
	AdaptiveWindow       int
	AdaptiveMinSamples   int
	CompressionThreshold float64
	CompressionWindow    int
	VolatilityFormula    string // balanced | wide
	VolatilityMin        float64
	VolatilityMax        float64
	TimeframeMultipliers map[string]float64
}

// ContextConfig holds multi-timeframe context tuning
type ContextConfig struct {
	Timeout       time.Duration
	BarBudgets    map[string]int
	DefaultBudget int
}

// AlignmentConfig holds cross-timeframe alignment weights
type AlignmentConfig struct {
	Weights         map[string]float64
	HighTFThreshold float64
}

// SchedulerConfig holds background job configuration
type SchedulerConfig struct {
	Enabled        bool
	WarmupSpec     string
	StatsFlushSpec string
	Watchlist      []string // "SYMBOL:timeframe" entries
	WarmupBars     int
}

// DefaultTimeframeMultipliers returns the threshold scaling per timeframe.
// Lower timeframes are noisier, so their thresholds scale up.
func DefaultTimeframeMultipliers() map[string]float64 {
	return map[string]float64{
		"1m":  1.30,
		"5m":  1.20,
		"15m": 1.10,
		"30m": 1.05,
		"1h":  1.00,
		"2h":  0.95,
		"4h":  0.90,
		"1d":  0.85,
		"1w":  0.80,
	}
}

// DefaultAlignmentWeights returns the voting weight per timeframe.
func DefaultAlignmentWeights() map[string]float64 {
	return map[string]float64{
		"1m":  0.3,
		"5m":  0.5,
		"15m": 0.8,
		"30m": 1.0,
		"1h":  1.5,
		"4h":  2.0,
		"1d":  3.0,
		"1w":  2.5,
	}
}

// DefaultBarBudgets returns how many bars each timeframe analysis loads.
func DefaultBarBudgets() map[string]int {
	return map[string]int{
		"5m":  300,
		"15m": 300,
		"30m": 250,
		"1h":  250,
		"4h":  200,
		"1d":  150,
		"1w":  100,
		"1M":  60,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Server: ServerConfig{
			Host:        getEnv("HOST", "0.0.0.0"),
			Port:        getEnvAsInt("PORT", 8090),
			CORSOrigins: utils.ParseCSV(getEnv("CORS_ORIGINS", "*")),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ohlcv"),
		},
		Cache: CacheConfig{
			Enabled:        getEnvAsBool("CACHE_ENABLED", true),
			TTL:            getEnvAsDuration("CACHE_TTL", time.Hour),
			MaxBarsPerKey:  getEnvAsInt("CACHE_MAX_BARS_PER_KEY", 5000),
			ConnectOnStart: getEnvAsBool("CACHE_CONNECT_ON_START", true),
		},
		Provider: ProviderConfig{
			MaxBars:        getEnvAsInt("PROVIDER_MAX_BARS", 5000),
			RequestTimeout: getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
			DefaultSource:  getEnv("PROVIDER_DEFAULT_SOURCE", "binance"),
		},
		Binance: BinanceConfig{
			BaseURL:             getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
			StreamURL:           getEnv("BINANCE_STREAM_URL", "wss://stream.binance.com:9443"),
			RatePerSec:          getEnvAsFloat("BINANCE_RATE_PER_SEC", 18),
			Burst:               getEnvAsInt("BINANCE_BURST", 20),
			StreamSubscriptions: utils.ParseCSV(getEnv("STREAM_SUBSCRIPTIONS", "")),
		},
		Yahoo: YahooConfig{
			BaseURL:    getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			RatePerSec: getEnvAsFloat("YAHOO_RATE_PER_SEC", 4),
			Burst:      getEnvAsInt("YAHOO_BURST", 5),
		},
		Regime: RegimeConfig{
			MinBars:              getEnvAsInt("REGIME_MIN_BARS", 60),
			WarmupBars:           getEnvAsInt("REGIME_WARMUP_BARS", 50),
			ADXPeriod:            getEnvAsInt("REGIME_ADX_PERIOD", 14),
			ERPeriod:             getEnvAsInt("REGIME_ER_PERIOD", 10),
			ERSmoothPeriod:       getEnvAsInt("REGIME_ER_SMOOTH_PERIOD", 3),
			ATRShortPeriod:       getEnvAsInt("REGIME_ATR_SHORT_PERIOD", 14),
			ATRLongPeriod:        getEnvAsInt("REGIME_ATR_LONG_PERIOD", 50),
			MAShortPeriod:        getEnvAsInt("REGIME_MA_SHORT_PERIOD", 20),
			MALongPeriod:         getEnvAsInt("REGIME_MA_LONG_PERIOD", 50),
			ADXSlopePeriod:       getEnvAsInt("REGIME_ADX_SLOPE_PERIOD", 5),
			ADXSlopeThreshold:    getEnvAsFloat("REGIME_ADX_SLOPE_THRESHOLD", 0.02),
			VolumePeriod:         getEnvAsInt("REGIME_VOLUME_PERIOD", 20),
			VolumeSpikeThreshold: getEnvAsFloat("REGIME_VOLUME_SPIKE_THRESHOLD", 1.5),
			AdaptiveWindow:       getEnvAsInt("REGIME_ADAPTIVE_WINDOW", 100),
			AdaptiveMinSamples:   getEnvAsInt("REGIME_ADAPTIVE_MIN_SAMPLES", 20),
			CompressionThreshold: getEnvAsFloat("REGIME_COMPRESSION_THRESHOLD", 0.7),
			CompressionWindow:    getEnvAsInt("REGIME_COMPRESSION_WINDOW", 10),
			VolatilityFormula:    getEnv("REGIME_VOLATILITY_FORMULA", "balanced"),
			VolatilityMin:        getEnvAsFloat("REGIME_VOLATILITY_MIN", 0.7),
			VolatilityMax:        getEnvAsFloat("REGIME_VOLATILITY_MAX", 1.5),
			TimeframeMultipliers: getEnvAsTable("REGIME_TF_MULTIPLIERS", DefaultTimeframeMultipliers()),
		},
		Context: ContextConfig{
			Timeout:       getEnvAsDuration("CONTEXT_TIMEOUT", 60*time.Second),
			BarBudgets:    getEnvAsIntTable("CONTEXT_BAR_BUDGETS", DefaultBarBudgets()),
			DefaultBudget: getEnvAsInt("CONTEXT_DEFAULT_BUDGET", 250),
		},
		Alignment: AlignmentConfig{
			Weights:         getEnvAsTable("ALIGNMENT_WEIGHTS", DefaultAlignmentWeights()),
			HighTFThreshold: getEnvAsFloat("ALIGNMENT_HIGH_TF_THRESHOLD", 2.0),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getEnvAsBool("SCHEDULER_ENABLED", true),
			WarmupSpec:     getEnv("WARMUP_SCHEDULE", "*/15 * * * *"),
			StatsFlushSpec: getEnv("STATS_FLUSH_SCHEDULE", "* * * * *"),
			Watchlist:      utils.ParseCSV(getEnv("WATCHLIST", "")),
			WarmupBars:     getEnvAsInt("WARMUP_BARS", 300),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Cache.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when the cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %s", c.Cache.TTL)
		}
		if c.Cache.MaxBarsPerKey < 1 {
			return fmt.Errorf("cache max bars per key must be at least 1, got %d", c.Cache.MaxBarsPerKey)
		}
	}
	if c.Provider.MaxBars < 1 {
		return fmt.Errorf("provider max bars must be at least 1, got %d", c.Provider.MaxBars)
	}
	switch c.Regime.VolatilityFormula {
	case "balanced", "wide":
	default:
		return fmt.Errorf("unknown volatility formula %q (want balanced or wide)", c.Regime.VolatilityFormula)
	}
	if c.Regime.VolatilityMin > c.Regime.VolatilityMax {
		return fmt.Errorf("volatility multiplier clamp inverted: min %.2f > max %.2f",
			c.Regime.VolatilityMin, c.Regime.VolatilityMax)
	}
	if c.Regime.MinBars < 1 {
		return fmt.Errorf("regime min bars must be at least 1, got %d", c.Regime.MinBars)
	}
	for name, period := range map[string]int{
		"REGIME_ADX_PERIOD":       c.Regime.ADXPeriod,
		"REGIME_ER_PERIOD":        c.Regime.ERPeriod,
		"REGIME_ER_SMOOTH_PERIOD": c.Regime.ERSmoothPeriod,
		"REGIME_ATR_SHORT_PERIOD": c.Regime.ATRShortPeriod,
		"REGIME_ATR_LONG_PERIOD":  c.Regime.ATRLongPeriod,
		"REGIME_MA_SHORT_PERIOD":  c.Regime.MAShortPeriod,
		"REGIME_MA_LONG_PERIOD":   c.Regime.MALongPeriod,
		"REGIME_VOLUME_PERIOD":    c.Regime.VolumePeriod,
	} {
		if period < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, period)
		}
	}
	if c.Context.Timeout <= 0 {
		return fmt.Errorf("context timeout must be positive, got %s", c.Context.Timeout)
	}
	for tf, w := range c.Alignment.Weights {
		if w < 0 {
			return fmt.Errorf("alignment weight for %s must be non-negative, got %.2f", tf, w)
		}
	}
	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsTable parses "key:value" CSV pairs ("1h:1.0,4h:0.9") over defaults.
// Malformed entries are skipped, matching the lenient style of the other
// helpers.
func getEnvAsTable(key string, defaults map[string]float64) map[string]float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaults
	}
	out := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for _, pair := range utils.ParseCSV(value) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
			out[strings.TrimSpace(parts[0])] = f
		}
	}
	return out
}

func getEnvAsIntTable(key string, defaults map[string]int) map[string]int {
	value := os.Getenv(key)
	if value == "" {
		return defaults
	}
	out := make(map[string]int, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for _, pair := range utils.ParseCSV(value) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			out[strings.TrimSpace(parts[0])] = n
		}
	}
	return out
}
