package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "ohlcv", cfg.Redis.KeyPrefix)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Cache.ConnectOnStart)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5000, cfg.Cache.MaxBarsPerKey)
	assert.Equal(t, 5000, cfg.Provider.MaxBars)
	assert.Equal(t, "binance", cfg.Provider.DefaultSource)
	assert.Equal(t, 60, cfg.Regime.MinBars)
	assert.Equal(t, 50, cfg.Regime.WarmupBars)
	assert.Equal(t, "balanced", cfg.Regime.VolatilityFormula)
	assert.Equal(t, 60*time.Second, cfg.Context.Timeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("CACHE_CONNECT_ON_START", "false")
	t.Setenv("REGIME_VOLATILITY_FORMULA", "wide")
	t.Setenv("WATCHLIST", "BTCUSDT:1h, ETHUSDT:4h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Cache.ConnectOnStart)
	assert.Equal(t, "wide", cfg.Regime.VolatilityFormula)
	assert.Equal(t, []string{"BTCUSDT:1h", "ETHUSDT:4h"}, cfg.Scheduler.Watchlist)
}

func TestLoad_TableOverride(t *testing.T) {
	t.Setenv("ALIGNMENT_WEIGHTS", "1h:1.7, 4h:2.2, junk, bad:xx")

	cfg, err := Load()
	require.NoError(t, err)

	// Overridden entries replace defaults, malformed entries are skipped,
	// untouched entries keep their default values.
	assert.Equal(t, 1.7, cfg.Alignment.Weights["1h"])
	assert.Equal(t, 2.2, cfg.Alignment.Weights["4h"])
	assert.Equal(t, 3.0, cfg.Alignment.Weights["1d"])
	assert.NotContains(t, cfg.Alignment.Weights, "junk")
	assert.NotContains(t, cfg.Alignment.Weights, "bad")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"cache enabled without redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"non-positive ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"zero max bars per key", func(c *Config) { c.Cache.MaxBarsPerKey = 0 }},
		{"zero provider max bars", func(c *Config) { c.Provider.MaxBars = 0 }},
		{"unknown volatility formula", func(c *Config) { c.Regime.VolatilityFormula = "narrow" }},
		{"inverted volatility clamps", func(c *Config) { c.Regime.VolatilityMin = 2.0 }},
		{"zero regime min bars", func(c *Config) { c.Regime.MinBars = 0 }},
		{"non-positive context timeout", func(c *Config) { c.Context.Timeout = 0 }},
		{"negative alignment weight", func(c *Config) { c.Alignment.Weights["1h"] = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultTables(t *testing.T) {
	mults := DefaultTimeframeMultipliers()
	assert.Equal(t, 1.30, mults["1m"])
	assert.Equal(t, 1.00, mults["1h"])
	assert.Equal(t, 0.80, mults["1w"])

	weights := DefaultAlignmentWeights()
	assert.Equal(t, 3.0, weights["1d"])
	assert.Equal(t, 2.5, weights["1w"], "weekly stays below daily")

	budgets := DefaultBarBudgets()
	assert.Equal(t, 300, budgets["5m"])
	assert.Equal(t, 60, budgets["1M"])
}
