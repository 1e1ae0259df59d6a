package di

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/skopos/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel: "info",
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 8090},
		Redis:    config.RedisConfig{Addr: "localhost:6379", KeyPrefix: "ohlcv"},
		Cache:    config.CacheConfig{Enabled: false, TTL: time.Hour, MaxBarsPerKey: 5000, ConnectOnStart: true},
		Provider: config.ProviderConfig{
			MaxBars:        2000,
			RequestTimeout: 15 * time.Second,
			DefaultSource:  "binance",
		},
		Binance: config.BinanceConfig{
			BaseURL:    "https://api.binance.com",
			StreamURL:  "wss://stream.binance.com:9443",
			RatePerSec: 18,
			Burst:      20,
		},
		Yahoo: config.YahooConfig{
			BaseURL:    "https://query1.finance.yahoo.com",
			RatePerSec: 4,
			Burst:      5,
		},
		Regime: config.RegimeConfig{
			MinBars:              60,
			WarmupBars:           50,
			ADXPeriod:            14,
			ERPeriod:             10,
			ERSmoothPeriod:       3,
			ATRShortPeriod:       14,
			ATRLongPeriod:        50,
			MAShortPeriod:        20,
			MALongPeriod:         50,
			ADXSlopePeriod:       5,
			ADXSlopeThreshold:    0.02,
			VolumePeriod:         20,
			VolumeSpikeThreshold: 1.5,
			AdaptiveWindow:       100,
			AdaptiveMinSamples:   20,
			CompressionThreshold: 0.7,
			CompressionWindow:    10,
			VolatilityFormula:    "balanced",
			VolatilityMin:        0.7,
			VolatilityMax:        1.5,
			TimeframeMultipliers: config.DefaultTimeframeMultipliers(),
		},
		Context: config.ContextConfig{
			Timeout:       30 * time.Second,
			BarBudgets:    config.DefaultBarBudgets(),
			DefaultBudget: 250,
		},
		Alignment: config.AlignmentConfig{
			Weights:         config.DefaultAlignmentWeights(),
			HighTFThreshold: 2.0,
		},
		Scheduler: config.SchedulerConfig{
			Enabled:        false,
			WarmupSpec:     "*/15 * * * *",
			StatsFlushSpec: "* * * * *",
			WarmupBars:     300,
		},
	}
}

func TestWireMinimal(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	c, err := Wire(testConfig(), log)
	require.NoError(t, err)

	assert.NotNil(t, c.Metrics)
	assert.NotNil(t, c.Bus)
	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Indicators)
	assert.NotNil(t, c.Regime)
	assert.NotNil(t, c.Context)

	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Cache)
	assert.Nil(t, c.Feed)
	assert.Nil(t, c.Scheduler)
	assert.Nil(t, c.Stream)

	def, err := c.Registry.Provider("")
	require.NoError(t, err)
	assert.Equal(t, "binance", def.Adapter().Name())

	_, err = c.Registry.Provider("yahoo")
	assert.NoError(t, err)

	assert.NoError(t, c.Close(context.Background()))
}

func TestWireSchedulerEnabled(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Watchlist = []string{"BTCUSDT:1h"}

	c, err := Wire(cfg, log)
	require.NoError(t, err)

	assert.NotNil(t, c.Scheduler)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Close(ctx))
}

func TestWireRejectsBadWarmupSpec(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.WarmupSpec = "every now and then"

	_, err := Wire(cfg, log)

	assert.Error(t, err)
}

func TestWireStreamConfigured(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Binance.StreamSubscriptions = []string{"btcusdt:1m", "ethusdt:4h"}

	c, err := Wire(cfg, log)
	require.NoError(t, err)

	assert.NotNil(t, c.Stream)
	assert.False(t, c.Stream.Connected())
	assert.NoError(t, c.Close(context.Background()))
}

func TestWireRejectsBadStreamSubscription(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Binance.StreamSubscriptions = []string{"BTCUSDT"}

	_, err := Wire(cfg, log)

	assert.Error(t, err)
}

func TestWireRejectsUnknownDefaultSource(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Provider.DefaultSource = "kraken"

	_, err := Wire(cfg, log)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "default market data source")
}

func TestWireFailsFastOnUnreachableRedis(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Cache.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := Wire(cfg, log)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis")
}

func TestWireLazyCacheSkipsPing(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := testConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.ConnectOnStart = false
	cfg.Redis.Addr = "127.0.0.1:1"

	container, err := Wire(cfg, log)

	require.NoError(t, err)
	require.NotNil(t, container.Cache)
	require.NotNil(t, container.Feed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, container.Cache.Ping(ctx))

	// The shutdown stats flush still needs Redis, so Close surfaces the failure.
	assert.Error(t, container.Close(ctx))
}
