package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/skopos/internal/modules/cache"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	testingpkg "github.com/avramidis/skopos/internal/testing"
)

func newWarmupFixture(t *testing.T, watchlist []string) (*WarmupJob, *testingpkg.MockAdapter) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	adapter := testingpkg.NewMockAdapter("test", testingpkg.TrendingBars(300, 100, 0.5))
	provider := marketdata.NewProvider(adapter, nil, marketdata.DefaultConfig(), nil, log)
	registry := marketdata.NewRegistry("test")
	registry.Register(provider)
	return NewWarmupJob(registry, watchlist, 50, log), adapter
}

func TestParseWatchlistEntry(t *testing.T) {
	cases := []struct {
		entry     string
		symbol    string
		timeframe string
		ok        bool
	}{
		{"BTCUSDT:1h", "BTCUSDT", "1h", true},
		{"btcusdt:4h", "BTCUSDT", "4h", true},
		{" ethusdt : 1d ", "ETHUSDT", "1d", true},
		{"BTCUSDT", "", "", false},
		{"BTCUSDT:h1", "", "", false},
		{":1h", "", "", false},
		{"BTCUSDT:1h:extra", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		symbol, timeframe, ok := parseWatchlistEntry(tc.entry)
		assert.Equal(t, tc.ok, ok, tc.entry)
		assert.Equal(t, tc.symbol, symbol, tc.entry)
		assert.Equal(t, tc.timeframe, timeframe, tc.entry)
	}
}

func TestWarmupJobLoadsWatchlist(t *testing.T) {
	job, adapter := newWarmupFixture(t, []string{"BTCUSDT:1h", "ETHUSDT:4h"})

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 2, adapter.Calls())
}

func TestWarmupJobSkipsMalformedEntries(t *testing.T) {
	job, adapter := newWarmupFixture(t, []string{"BTCUSDT", "ETHUSDT:h1", "SOLUSDT:1h"})

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 1, adapter.Calls())
}

func TestWarmupJobSurvivesFetchFailures(t *testing.T) {
	job, adapter := newWarmupFixture(t, []string{"BTCUSDT:1h", "ETHUSDT:1h"})
	adapter.SetErr(errors.New("exchange maintenance"))

	assert.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, adapter.Calls())
}

func TestWarmupJobEmptyWatchlist(t *testing.T) {
	job, adapter := newWarmupFixture(t, nil)

	require.NoError(t, job.Run(context.Background()))

	assert.Zero(t, adapter.Calls())
}

func TestWarmupJobHonorsCancellation(t *testing.T) {
	job, adapter := newWarmupFixture(t, []string{"BTCUSDT:1h"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := job.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, adapter.Calls())
}

func TestStatsFlushJobPersistsCounters(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	manager := cache.NewManager(db, cache.DefaultConfig(), nil, nil, log)
	job := NewStatsFlushJob(manager)

	snapshot, err := json.Marshal(cache.StatsSnapshot{})
	require.NoError(t, err)
	mock.ExpectSet("ohlcv:_stats", snapshot, time.Hour).SetVal("OK")

	assert.NoError(t, job.Run(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsFlushJobReportsBackendError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	manager := cache.NewManager(db, cache.DefaultConfig(), nil, nil, log)
	job := NewStatsFlushJob(manager)

	snapshot, err := json.Marshal(cache.StatsSnapshot{})
	require.NoError(t, err)
	mock.ExpectSet("ohlcv:_stats", snapshot, time.Hour).SetErr(errors.New("readonly replica"))

	assert.Error(t, job.Run(context.Background()))
}

func TestJobNames(t *testing.T) {
	assert.Equal(t, "warmup", (&WarmupJob{}).Name())
	assert.Equal(t, "stats_flush", (&StatsFlushJob{}).Name())
}
