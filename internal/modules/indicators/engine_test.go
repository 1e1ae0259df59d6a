package indicators

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	testingpkg "github.com/avramidis/skopos/internal/testing"
)

func newTestEngine(t *testing.T, bars domain.BarSeries) *Engine {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	provider := marketdata.NewProvider(
		testingpkg.NewMockAdapter("test", bars), nil, marketdata.DefaultConfig(), nil, log)
	registry := marketdata.NewRegistry("test")
	registry.Register(provider)
	return NewEngine(registry, log)
}

func TestGetSeriesEMA(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(80, 100, 0.5))

	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "ema",
		Bars:      60,
		Config:    SeriesConfig{Period: 20},
	})
	require.NoError(t, err)
	require.Len(t, series.Points, 60)
	assert.Equal(t, "ema", series.Indicator)
	assert.Equal(t, "BTCUSDT", series.Symbol)

	for i := 0; i < 19; i++ {
		assert.Nil(t, series.Points[i].Value, "point %d should be warmup", i)
	}
	for i := 19; i < 60; i++ {
		require.NotNil(t, series.Points[i].Value, "point %d should have a value", i)
	}

	// In a steady uptrend the EMA sits below the last close but keeps rising.
	last, ok := series.LastValue()
	require.True(t, ok)
	lastClose := 100 + 0.5*80
	assert.Less(t, last, lastClose)
	assert.Greater(t, last, *series.Points[40].Value)
}

func TestGetSeriesADXComposite(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(120, 100, 0.8))

	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "adx",
		Bars:      100,
	})
	require.NoError(t, err)
	require.Len(t, series.Points, 100)

	// Composite warmup is 2*period-1 = 27 points.
	for i := 0; i < 27; i++ {
		assert.Nil(t, series.Points[i].Values, "point %d should be warmup", i)
	}

	values, ok := series.LastComposite()
	require.True(t, ok)
	require.Contains(t, values, "adx")
	require.Contains(t, values, "plus_di")
	require.Contains(t, values, "minus_di")

	// A persistent uptrend registers as a strong +DI dominated trend.
	assert.Greater(t, values["adx"], 25.0)
	assert.Greater(t, values["plus_di"], values["minus_di"])
}

func TestGetSeriesEfficiencyRatio(t *testing.T) {
	tests := []struct {
		name string
		bars domain.BarSeries
		min  float64
		max  float64
	}{
		{"trending is efficient", testingpkg.TrendingBars(80, 100, 0.5), 0.9, 1.0},
		{"ranging is choppy", testingpkg.RangingBars(80, 100, 4), 0.0, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, tt.bars)
			series, err := engine.GetSeries(context.Background(), SeriesRequest{
				Symbol:    "BTCUSDT",
				Timeframe: "1h",
				Indicator: "er",
				Bars:      60,
			})
			require.NoError(t, err)

			er, ok := series.LastValue()
			require.True(t, ok)
			assert.GreaterOrEqual(t, er, tt.min)
			assert.LessOrEqual(t, er, tt.max)
		})
	}
}

func TestGetSeriesVWAP(t *testing.T) {
	bars := testingpkg.TrendingBars(50, 100, 0.5)
	engine := newTestEngine(t, bars)

	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "vwap",
		Bars:      50,
	})
	require.NoError(t, err)

	// VWAP has no warmup: every bar traded volume.
	for i, p := range series.Points {
		require.NotNil(t, p.Value, "point %d", i)
	}
	last, _ := series.LastValue()
	assert.Greater(t, last, bars[0].Low)
	assert.Less(t, last, bars[len(bars)-1].High)
}

func TestGetSeriesMACDDefaults(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(100, 100, 0.5))

	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "macd",
		Bars:      80,
	})
	require.NoError(t, err)

	values, ok := series.LastComposite()
	require.True(t, ok)
	require.Contains(t, values, "macd")
	require.Contains(t, values, "signal")
	require.Contains(t, values, "histogram")
	// Uptrend: fast EMA above slow.
	assert.Greater(t, values["macd"], 0.0)
}

func TestGetSeriesShortWindowStaysNil(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(10, 100, 0.5))

	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "rsi",
		Bars:      10,
	})
	require.NoError(t, err)
	require.Len(t, series.Points, 10)
	for i, p := range series.Points {
		assert.Nil(t, p.Value, "point %d", i)
	}

	_, ok := series.LastValue()
	assert.False(t, ok)
	_, ok = series.TailValues(5)
	assert.False(t, ok)
}

func TestGetSeriesUnknownIndicator(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(50, 100, 0.5))

	_, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "vortex",
		Bars:      50,
	})
	require.ErrorIs(t, err, ErrUnknownIndicator)
}

func TestGetSeriesReferenceDateExcludesFormingBar(t *testing.T) {
	bars := testingpkg.TrendingBars(80, 100, 0.5)
	engine := newTestEngine(t, bars)

	// Mid-bar reference: the final bar has not closed yet.
	ref := time.UnixMilli(bars[79].Timestamp + 30*60*1000)
	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:        "BTCUSDT",
		Timeframe:     "1h",
		Indicator:     "sma",
		Bars:          50,
		ReferenceDate: &ref,
	})
	require.NoError(t, err)
	require.Len(t, series.Points, 50)
	assert.Equal(t, bars[78].Timestamp, series.Points[49].Timestamp)
}

func TestGetSeriesTailValues(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(80, 100, 0.5))

	series, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "ema",
		Bars:      60,
		Config:    SeriesConfig{Period: 20},
	})
	require.NoError(t, err)

	tail, ok := series.TailValues(5)
	require.True(t, ok)
	require.Len(t, tail, 5)
	for i := 1; i < len(tail); i++ {
		assert.Greater(t, tail[i], tail[i-1], "uptrend EMA should rise")
	}

	// Asking for more points than exist fails cleanly.
	_, ok = series.TailValues(61)
	assert.False(t, ok)
}

func TestGetSeriesValidation(t *testing.T) {
	engine := newTestEngine(t, testingpkg.TrendingBars(50, 100, 0.5))

	_, err := engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "ema",
		Bars:      0,
	})
	require.Error(t, err)

	_, err = engine.GetSeries(context.Background(), SeriesRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Indicator: "ema",
		Bars:      10,
		Source:    "nope",
	})
	require.Error(t, err)
}
