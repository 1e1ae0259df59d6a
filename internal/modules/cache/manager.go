// Package cache stores OHLCV bars in Redis as per-key segments with
// range lookup, merge-on-write and oldest-first eviction.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/events"
	"github.com/avramidis/skopos/internal/metrics"
)

// ErrMiss marks a segment that is not present in the store.
var ErrMiss = errors.New("cache: segment not found")

const scanBatchSize = 100

// Coverage describes how much of a lookup the cache could serve.
type Coverage string

const (
	CoverageFull    Coverage = "full"
	CoveragePartial Coverage = "partial"
	CoverageNone    Coverage = "none"
)

// Window is an inclusive range of bar open times on the timeframe grid.
type Window struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
	Bars int   `json:"bars"`
}

// Missing names the uncovered windows around a partial hit.
type Missing struct {
	Before *Window `json:"before,omitempty"`
	After  *Window `json:"after,omitempty"`
}

// Lookup is the result of a cache read.
type Lookup struct {
	Coverage Coverage     `json:"coverage"`
	Bars     []domain.Bar `json:"bars"`
	Missing  Missing      `json:"missing"`
}

// KeyStats summarizes one stored segment.
type KeyStats struct {
	Key        string `json:"key"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	Count      int    `json:"count"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// Report aggregates per-key stats and the activity counters.
type Report struct {
	Keys      []KeyStats    `json:"keys"`
	TotalBars int           `json:"total_bars"`
	Counters  StatsSnapshot `json:"counters"`
}

// Config controls key naming, expiry and the per-key bar budget.
type Config struct {
	KeyPrefix     string
	TTL           time.Duration
	MaxBarsPerKey int
}

// DefaultConfig returns the standard cache settings.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "ohlcv",
		TTL:           time.Hour,
		MaxBarsPerKey: 5000,
	}
}

// Manager is the Redis-backed bar cache. A nil *Manager is valid and acts
// as an always-miss cache so callers never branch on cache availability.
type Manager struct {
	client  *redis.Client
	cfg     Config
	stats   *Stats
	bus     *events.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewManager creates a cache manager on top of an established Redis client.
func NewManager(client *redis.Client, cfg Config, bus *events.Bus, met *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		client:  client,
		cfg:     cfg,
		stats:   &Stats{},
		bus:     bus,
		metrics: met,
		log:     log.With().Str("component", "cache").Logger(),
		now:     time.Now,
	}
}

func (m *Manager) key(symbol, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s", m.cfg.KeyPrefix, strings.ToUpper(symbol), timeframe)
}

func (m *Manager) statsKey() string {
	return m.cfg.KeyPrefix + ":_stats"
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}

// Get extracts up to count bars ending at endTimestamp (segment end when
// nil). Storage and decode failures degrade to a miss and are never
// propagated; only an invalid timeframe is an error.
func (m *Manager) Get(ctx context.Context, symbol, timeframe string, count int, endTimestamp *int64) (Lookup, error) {
	none := Lookup{Coverage: CoverageNone}
	if m == nil {
		return none, nil
	}
	if count < 1 {
		return none, fmt.Errorf("cache get %s:%s: count must be >= 1", symbol, timeframe)
	}
	durMs, err := domain.TimeframeMillis(timeframe)
	if err != nil {
		return none, err
	}

	seg, err := m.readSegment(ctx, m.key(symbol, timeframe))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			m.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
				Msg("Cache lookup failed, treating as miss")
		}
		m.miss()
		return none, nil
	}

	end := seg.End
	if endTimestamp != nil {
		end = *endTimestamp
	}
	if end < seg.Start {
		m.miss()
		return none, nil
	}

	bars := seg.Range(seg.Start, end)
	if len(bars) == 0 {
		m.miss()
		return none, nil
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}

	afterBars := 0
	if end > seg.End {
		afterBars = int((end - seg.End) / durMs)
	}

	if len(bars) >= count && afterBars == 0 {
		m.hit()
		return Lookup{Coverage: CoverageFull, Bars: bars}, nil
	}

	lookup := Lookup{Coverage: CoveragePartial, Bars: bars}
	if afterBars > 0 {
		lookup.Missing.After = &Window{
			From: seg.End + durMs,
			To:   seg.End + int64(afterBars)*durMs,
			Bars: afterBars,
		}
	}
	if beforeBars := count - len(bars) - afterBars; beforeBars > 0 {
		to := seg.Start - durMs
		lookup.Missing.Before = &Window{
			From: to - int64(beforeBars-1)*durMs,
			To:   to,
			Bars: beforeBars,
		}
	}
	m.partialHit()
	return lookup, nil
}

// Set replaces the segment for (symbol, timeframe) with the given bars.
// Write failures propagate; the caller must not assume persistence.
func (m *Manager) Set(ctx context.Context, symbol, timeframe string, bars []domain.Bar) error {
	if m == nil {
		return nil
	}
	if len(bars) == 0 {
		return fmt.Errorf("cache set %s:%s: no bars", symbol, timeframe)
	}
	series := domain.BarSeries(bars).Dedupe()
	seg := newSegment(strings.ToUpper(symbol), timeframe, series, m.nowMs())
	if evicted := seg.Evict(m.cfg.MaxBarsPerKey); evicted > 0 {
		m.evicted(seg.Symbol, timeframe, evicted)
	}
	if err := m.writeSegment(ctx, seg); err != nil {
		return err
	}
	m.stats.touch(m.nowMs())
	m.flushStatsBestEffort(ctx)
	return nil
}

// Merge folds bars into the existing segment, the incoming bar winning on
// timestamp collisions, then renews the TTL. A missing or unreadable
// segment is replaced outright.
func (m *Manager) Merge(ctx context.Context, symbol, timeframe string, bars []domain.Bar) error {
	if m == nil || len(bars) == 0 {
		return nil
	}
	key := m.key(symbol, timeframe)
	seg, err := m.readSegment(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			m.log.Warn().Err(err).Str("key", key).Msg("Unreadable segment replaced on merge")
		}
		return m.Set(ctx, symbol, timeframe, bars)
	}

	prevStart, prevEnd := seg.Start, seg.End
	seg.Merge(domain.BarSeries(bars).Dedupe())
	if evicted := seg.Evict(m.cfg.MaxBarsPerKey); evicted > 0 {
		m.evicted(seg.Symbol, timeframe, evicted)
	}
	if err := m.writeSegment(ctx, seg); err != nil {
		return err
	}

	now := m.nowMs()
	m.stats.Merge(now)
	if seg.Start < prevStart || seg.End > prevEnd {
		m.stats.Extension(now)
	}
	m.flushStatsBestEffort(ctx)
	return nil
}

// Clear deletes one key when both symbol and timeframe are given, every
// key for a symbol when only the symbol is given, and the whole prefix
// (stats entry included) when both are empty.
func (m *Manager) Clear(ctx context.Context, symbol, timeframe string) error {
	if m == nil {
		return nil
	}
	if symbol != "" && timeframe != "" {
		if err := m.client.Del(ctx, m.key(symbol, timeframe)).Err(); err != nil {
			return fmt.Errorf("cache clear %s:%s: %w", symbol, timeframe, err)
		}
		return nil
	}

	pattern := m.cfg.KeyPrefix + ":*"
	if symbol != "" {
		pattern = fmt.Sprintf("%s:%s:*", m.cfg.KeyPrefix, strings.ToUpper(symbol))
	}
	keys, err := m.scanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache clear %s: %w", pattern, err)
	}
	return nil
}

// Stats walks every stored segment and returns per-key figures together
// with the in-memory activity counters.
func (m *Manager) Stats(ctx context.Context) (Report, error) {
	report := Report{Keys: []KeyStats{}}
	if m == nil {
		return report, nil
	}
	report.Counters = m.stats.Snapshot()

	keys, err := m.scanKeys(ctx, m.cfg.KeyPrefix+":*")
	if err != nil {
		return report, err
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == m.statsKey() {
			continue
		}
		seg, err := m.readSegment(ctx, key)
		if err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable segment in stats")
			continue
		}
		ttl, err := m.client.TTL(ctx, key).Result()
		if err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("TTL probe failed")
			ttl = 0
		}
		report.Keys = append(report.Keys, KeyStats{
			Key:        key,
			Symbol:     seg.Symbol,
			Timeframe:  seg.Timeframe,
			Count:      seg.Count,
			Start:      seg.Start,
			End:        seg.End,
			TTLSeconds: int64(ttl.Seconds()),
		})
		report.TotalBars += seg.Count
	}
	return report, nil
}

// FlushStats persists the activity counters under the _stats key.
func (m *Manager) FlushStats(ctx context.Context) error {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m.stats.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding cache stats: %w", err)
	}
	if err := m.client.Set(ctx, m.statsKey(), data, m.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("persisting cache stats: %w", err)
	}
	return nil
}

// RestoreStats loads persisted counters if they are younger than the TTL.
// Stale or missing snapshots leave the counters at zero, matching the
// segments that would have expired with them.
func (m *Manager) RestoreStats(ctx context.Context) {
	if m == nil {
		return
	}
	data, err := m.client.Get(ctx, m.statsKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.log.Warn().Err(err).Msg("Cache stats restore failed")
		}
		return
	}
	var snap StatsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.log.Warn().Err(err).Msg("Discarding unreadable cache stats")
		return
	}
	if m.nowMs()-snap.LastActivity > m.cfg.TTL.Milliseconds() {
		return
	}
	m.stats.Restore(snap)
}

// Ping reports whether the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil {
		return errors.New("cache disabled")
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

func (m *Manager) readSegment(ctx context.Context, key string) (*Segment, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}
	return decodeSegment(data)
}

func (m *Manager) writeSegment(ctx context.Context, seg *Segment) error {
	data, err := encodeSegment(seg)
	if err != nil {
		return err
	}
	key := m.key(seg.Symbol, seg.Timeframe)
	if err := m.client.Set(ctx, key, data, m.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	return nil
}

func (m *Manager) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (m *Manager) flushStatsBestEffort(ctx context.Context) {
	if err := m.FlushStats(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Cache stats flush failed")
	}
}

func (m *Manager) hit() {
	m.stats.Hit(m.nowMs())
	m.metrics.RecordCacheHit()
}

func (m *Manager) miss() {
	m.stats.Miss(m.nowMs())
	m.metrics.RecordCacheMiss()
}

func (m *Manager) partialHit() {
	m.stats.PartialHit(m.nowMs())
	m.metrics.RecordCachePartialHit()
}

func (m *Manager) evicted(symbol, timeframe string, n int) {
	m.stats.Evictions(n, m.nowMs())
	m.metrics.RecordCacheEvictions(n)
	if m.bus != nil {
		m.bus.Publish(&events.CacheEvictedData{Symbol: symbol, Timeframe: timeframe, Evicted: n})
	}
	m.log.Debug().Str("symbol", symbol).Str("timeframe", timeframe).Int("evicted", n).
		Msg("Evicted oldest cached bars")
}
