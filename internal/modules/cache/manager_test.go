package cache

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

	"github.com/avramidis/skopos/internal/domain"
)

const testNowMs int64 = 1_756_000_000_000

func newTestManager(cfg Config) (*Manager, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	m := NewManager(db, cfg, nil, nil, zerolog.New(nil).Level(zerolog.Disabled))
	m.now = func() time.Time { return time.UnixMilli(testNowMs) }
	return m, mock
}

func encoded(t *testing.T, symbol, timeframe string, bars []domain.Bar, createdAt int64) []byte {
	t.Helper()
	data, err := encodeSegment(newSegment(symbol, timeframe, bars, createdAt))
	require.NoError(t, err)
	return data
}

func statsJSON(t *testing.T, snap StatsSnapshot) []byte {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	return data
}

func TestGetFullHit(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	bars := hourlyBars(0, 500)
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(encoded(t, "BTCUSDT", "1h", bars, 1)))

	end := bars[len(bars)-1].Timestamp
	lookup, err := m.Get(context.Background(), "btcusdt", "1h", 200, &end)

	require.NoError(t, err)
	assert.Equal(t, CoverageFull, lookup.Coverage)
	require.Len(t, lookup.Bars, 200)
	assert.Equal(t, bars[300].Timestamp, lookup.Bars[0].Timestamp)
	assert.Equal(t, end, lookup.Bars[199].Timestamp)
	assert.Nil(t, lookup.Missing.Before)
	assert.Nil(t, lookup.Missing.After)
	assert.Equal(t, int64(1), m.stats.Snapshot().Hits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissOnEmptyStore(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	mock.ExpectGet("ohlcv:BTCUSDT:1h").RedisNil()

	lookup, err := m.Get(context.Background(), "BTCUSDT", "1h", 50, nil)

	require.NoError(t, err)
	assert.Equal(t, CoverageNone, lookup.Coverage)
	assert.Empty(t, lookup.Bars)
	assert.Equal(t, int64(1), m.stats.Snapshot().Misses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDegradesToMiss(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mock redismock.ClientMock)
	}{
		{
			"store error",
			func(mock redismock.ClientMock) {
				mock.ExpectGet("ohlcv:BTCUSDT:1h").SetErr(errors.New("connection refused"))
			},
		},
		{
			"undecodable payload",
			func(mock redismock.ClientMock) {
				mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal("not msgpack")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newTestManager(DefaultConfig())
			tt.setup(mock)

			lookup, err := m.Get(context.Background(), "BTCUSDT", "1h", 50, nil)

			require.NoError(t, err)
			assert.Equal(t, CoverageNone, lookup.Coverage)
			assert.Equal(t, int64(1), m.stats.Snapshot().Misses)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetRejectsInvalidInput(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	_, err := m.Get(context.Background(), "BTCUSDT", "1h", 0, nil)
	assert.Error(t, err)

	_, err = m.Get(context.Background(), "BTCUSDT", "7x", 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTimeframe)
}

func TestGetPartialAfterWindow(t *testing.T) {
	// Cached range stops 10 bars short of the requested end: the lookup
	// must report the 9 missing grid steps after the segment end.
	m, mock := newTestManager(DefaultConfig())
	cached := hourlyBars(0, 491) // open times 0h..490h
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(encoded(t, "BTCUSDT", "1h", cached, 1)))

	end := 499 * hourMs
	lookup, err := m.Get(context.Background(), "BTCUSDT", "1h", 200, &end)

	require.NoError(t, err)
	assert.Equal(t, CoveragePartial, lookup.Coverage)
	require.Len(t, lookup.Bars, 200)
	assert.Equal(t, 490*hourMs, lookup.Bars[199].Timestamp)
	assert.Nil(t, lookup.Missing.Before)
	require.NotNil(t, lookup.Missing.After)
	assert.Equal(t, Window{From: 491 * hourMs, To: 499 * hourMs, Bars: 9}, *lookup.Missing.After)
	assert.Equal(t, int64(1), m.stats.Snapshot().PartialHits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPartialBeforeWindow(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	cached := hourlyBars(100*hourMs, 10) // open times 100h..109h
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(encoded(t, "BTCUSDT", "1h", cached, 1)))

	lookup, err := m.Get(context.Background(), "BTCUSDT", "1h", 30, nil)

	require.NoError(t, err)
	assert.Equal(t, CoveragePartial, lookup.Coverage)
	assert.Len(t, lookup.Bars, 10)
	require.NotNil(t, lookup.Missing.Before)
	assert.Equal(t, Window{From: 80 * hourMs, To: 99 * hourMs, Bars: 20}, *lookup.Missing.Before)
	assert.Nil(t, lookup.Missing.After)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEndBeforeSegmentStartIsMiss(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	cached := hourlyBars(100*hourMs, 10)
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(encoded(t, "BTCUSDT", "1h", cached, 1)))

	end := 50 * hourMs
	lookup, err := m.Get(context.Background(), "BTCUSDT", "1h", 5, &end)

	require.NoError(t, err)
	assert.Equal(t, CoverageNone, lookup.Coverage)
	assert.Equal(t, int64(1), m.stats.Snapshot().Misses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEndInsideSegmentServesSubrange(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	cached := hourlyBars(0, 100)
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(encoded(t, "BTCUSDT", "1h", cached, 1)))

	end := 50 * hourMs
	lookup, err := m.Get(context.Background(), "BTCUSDT", "1h", 10, &end)

	require.NoError(t, err)
	assert.Equal(t, CoverageFull, lookup.Coverage)
	require.Len(t, lookup.Bars, 10)
	assert.Equal(t, 41*hourMs, lookup.Bars[0].Timestamp)
	assert.Equal(t, 50*hourMs, lookup.Bars[9].Timestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetWritesCanonicalSegment(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())

	input := []domain.Bar{hourlyBar(2 * hourMs), hourlyBar(0), hourlyBar(hourMs), hourlyBar(2 * hourMs)}
	expected := encoded(t, "BTCUSDT", "1h", hourlyBars(0, 3), testNowMs)
	mock.ExpectSet("ohlcv:BTCUSDT:1h", expected, time.Hour).SetVal("OK")
	mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{LastActivity: testNowMs}), time.Hour).SetVal("OK")

	require.NoError(t, m.Set(context.Background(), "btcusdt", "1h", input))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPropagatesWriteFailure(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())

	bars := hourlyBars(0, 3)
	expected := encoded(t, "BTCUSDT", "1h", bars, testNowMs)
	mock.ExpectSet("ohlcv:BTCUSDT:1h", expected, time.Hour).SetErr(errors.New("readonly replica"))

	err := m.Set(context.Background(), "BTCUSDT", "1h", bars)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRejectsEmptyInput(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	assert.Error(t, m.Set(context.Background(), "BTCUSDT", "1h", nil))
}

func TestSetEvictsOldestBeyondBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBarsPerKey = 5
	m, mock := newTestManager(cfg)

	expected := encoded(t, "BTCUSDT", "1h", hourlyBars(3*hourMs, 5), testNowMs)
	mock.ExpectSet("ohlcv:BTCUSDT:1h", expected, time.Hour).SetVal("OK")
	mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{Evictions: 3, LastActivity: testNowMs}), time.Hour).SetVal("OK")

	require.NoError(t, m.Set(context.Background(), "BTCUSDT", "1h", hourlyBars(0, 8)))
	assert.Equal(t, int64(3), m.stats.Snapshot().Evictions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeExtendsExistingSegment(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())

	existing := encoded(t, "BTCUSDT", "1h", hourlyBars(0, 3), 42)
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(existing))
	merged := encoded(t, "BTCUSDT", "1h", hourlyBars(0, 5), 42)
	mock.ExpectSet("ohlcv:BTCUSDT:1h", merged, time.Hour).SetVal("OK")
	mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{Extensions: 1, Merges: 1, LastActivity: testNowMs}), time.Hour).SetVal("OK")

	require.NoError(t, m.Merge(context.Background(), "BTCUSDT", "1h", hourlyBars(3*hourMs, 2)))

	snap := m.stats.Snapshot()
	assert.Equal(t, int64(1), snap.Merges)
	assert.Equal(t, int64(1), snap.Extensions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeOverlapKeepsIncomingBar(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())

	existing := hourlyBars(0, 5)
	mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(encoded(t, "BTCUSDT", "1h", existing, 42)))

	revised := hourlyBar(2 * hourMs)
	revised.Close = revised.High // revised close inside the bar's range
	expectedBars := hourlyBars(0, 5)
	expectedBars[2] = revised
	mock.ExpectSet("ohlcv:BTCUSDT:1h", encoded(t, "BTCUSDT", "1h", expectedBars, 42), time.Hour).SetVal("OK")
	mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{Merges: 1, LastActivity: testNowMs}), time.Hour).SetVal("OK")

	require.NoError(t, m.Merge(context.Background(), "BTCUSDT", "1h", []domain.Bar{revised}))

	snap := m.stats.Snapshot()
	assert.Equal(t, int64(1), snap.Merges)
	assert.Equal(t, int64(0), snap.Extensions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeCreatesSegmentWhenAbsent(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())

	mock.ExpectGet("ohlcv:BTCUSDT:1h").RedisNil()
	bars := hourlyBars(0, 3)
	mock.ExpectSet("ohlcv:BTCUSDT:1h", encoded(t, "BTCUSDT", "1h", bars, testNowMs), time.Hour).SetVal("OK")
	mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{LastActivity: testNowMs}), time.Hour).SetVal("OK")

	require.NoError(t, m.Merge(context.Background(), "BTCUSDT", "1h", bars))
	assert.Equal(t, int64(0), m.stats.Snapshot().Merges)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeCommutativeForDisjointSets(t *testing.T) {
	// Set(A) then Merge(B) and Set(B) then Merge(A) must store the same
	// final segment bytes.
	a := hourlyBars(0, 3)
	b := hourlyBars(3*hourMs, 3)
	final := encoded(t, "BTCUSDT", "1h", hourlyBars(0, 6), testNowMs)

	run := func(t *testing.T, first, second []domain.Bar) {
		m, mock := newTestManager(DefaultConfig())
		firstEnc := encoded(t, "BTCUSDT", "1h", first, testNowMs)

		mock.ExpectSet("ohlcv:BTCUSDT:1h", firstEnc, time.Hour).SetVal("OK")
		mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{LastActivity: testNowMs}), time.Hour).SetVal("OK")
		mock.ExpectGet("ohlcv:BTCUSDT:1h").SetVal(string(firstEnc))
		mock.ExpectSet("ohlcv:BTCUSDT:1h", final, time.Hour).SetVal("OK")
		mock.ExpectSet("ohlcv:_stats", statsJSON(t, StatsSnapshot{Extensions: 1, Merges: 1, LastActivity: testNowMs}), time.Hour).SetVal("OK")

		require.NoError(t, m.Set(context.Background(), "BTCUSDT", "1h", first))
		require.NoError(t, m.Merge(context.Background(), "BTCUSDT", "1h", second))
		require.NoError(t, mock.ExpectationsWereMet())
	}

	t.Run("a then b", func(t *testing.T) { run(t, a, b) })
	t.Run("b then a", func(t *testing.T) { run(t, b, a) })
}

func TestClearSingleKey(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	mock.ExpectDel("ohlcv:BTCUSDT:1h").SetVal(1)

	require.NoError(t, m.Clear(context.Background(), "btcusdt", "1h"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearSymbolDeletesAllTimeframes(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	mock.ExpectScan(0, "ohlcv:ETHUSDT:*", scanBatchSize).SetVal([]string{"ohlcv:ETHUSDT:1h", "ohlcv:ETHUSDT:4h"}, 0)
	mock.ExpectDel("ohlcv:ETHUSDT:1h", "ohlcv:ETHUSDT:4h").SetVal(2)

	require.NoError(t, m.Clear(context.Background(), "ethusdt", ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearAll(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	keys := []string{"ohlcv:BTCUSDT:1h", "ohlcv:ETHUSDT:4h", "ohlcv:_stats"}
	mock.ExpectScan(0, "ohlcv:*", scanBatchSize).SetVal(keys, 0)
	mock.ExpectDel(keys...).SetVal(3)

	require.NoError(t, m.Clear(context.Background(), "", ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearAllEmptyStore(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	mock.ExpectScan(0, "ohlcv:*", scanBatchSize).SetVal([]string{}, 0)

	require.NoError(t, m.Clear(context.Background(), "", ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsReport(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())

	btcKey := "ohlcv:BTCUSDT:1h"
	ethKey := "ohlcv:ETHUSDT:4h"
	mock.ExpectScan(0, "ohlcv:*", scanBatchSize).SetVal([]string{ethKey, "ohlcv:_stats", btcKey}, 0)
	mock.ExpectGet(btcKey).SetVal(string(encoded(t, "BTCUSDT", "1h", hourlyBars(0, 5), 1)))
	mock.ExpectTTL(btcKey).SetVal(30 * time.Minute)
	mock.ExpectGet(ethKey).SetVal(string(encoded(t, "ETHUSDT", "4h", hourlyBars(0, 3), 1)))
	mock.ExpectTTL(ethKey).SetVal(10 * time.Minute)

	report, err := m.Stats(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Keys, 2)
	assert.Equal(t, KeyStats{Key: btcKey, Symbol: "BTCUSDT", Timeframe: "1h", Count: 5, Start: 0, End: 4 * hourMs, TTLSeconds: 1800}, report.Keys[0])
	assert.Equal(t, "ETHUSDT", report.Keys[1].Symbol)
	assert.Equal(t, int64(600), report.Keys[1].TTLSeconds)
	assert.Equal(t, 8, report.TotalBars)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlushStatsPersistsCounters(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	m.stats.Hit(testNowMs)
	m.stats.PartialHit(testNowMs)

	snap := StatsSnapshot{Hits: 1, PartialHits: 1, LastActivity: testNowMs}
	mock.ExpectSet("ohlcv:_stats", statsJSON(t, snap), time.Hour).SetVal("OK")

	require.NoError(t, m.FlushStats(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreStats(t *testing.T) {
	tests := []struct {
		name         string
		lastActivity int64
		expectedHits int64
	}{
		{"fresh snapshot restored", testNowMs - 30*60*1000, 7},
		{"stale snapshot zeroed", testNowMs - 2*60*60*1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newTestManager(DefaultConfig())
			snap := StatsSnapshot{Hits: 7, LastActivity: tt.lastActivity}
			mock.ExpectGet("ohlcv:_stats").SetVal(string(statsJSON(t, snap)))

			m.RestoreStats(context.Background())

			assert.Equal(t, tt.expectedHits, m.stats.Snapshot().Hits)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRestoreStatsMissingKey(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	mock.ExpectGet("ohlcv:_stats").RedisNil()

	m.RestoreStats(context.Background())

	assert.Equal(t, StatsSnapshot{}, m.stats.Snapshot())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilManagerActsAsMissCache(t *testing.T) {
	var m *Manager
	ctx := context.Background()

	lookup, err := m.Get(ctx, "BTCUSDT", "1h", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, CoverageNone, lookup.Coverage)

	assert.NoError(t, m.Set(ctx, "BTCUSDT", "1h", hourlyBars(0, 2)))
	assert.NoError(t, m.Merge(ctx, "BTCUSDT", "1h", hourlyBars(0, 2)))
	assert.NoError(t, m.Clear(ctx, "", ""))
	assert.NoError(t, m.FlushStats(ctx))
	assert.NotPanics(t, func() { m.RestoreStats(ctx) })

	report, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Keys)

	assert.Error(t, m.Ping(ctx))
}

func TestPing(t *testing.T) {
	m, mock := newTestManager(DefaultConfig())
	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, m.Ping(context.Background()))

	mock.ExpectPing().SetErr(errors.New("down"))
	assert.Error(t, m.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
