package scheduler

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/cache"
	"github.com/avramidis/skopos/internal/modules/marketdata"
)

// WarmupJob pre-loads the watchlist so cache segments stay hot between
// requests. Entries are "SYMBOL:timeframe" strings; bad entries and fetch
// failures are logged per entry and never fail the run.
type WarmupJob struct {
	registry  *marketdata.Registry
	watchlist []string
	bars      int
	log       zerolog.Logger
}

// NewWarmupJob creates the watchlist warmup job. bars is the number of
// closed bars loaded per entry.
func NewWarmupJob(registry *marketdata.Registry, watchlist []string, bars int, log zerolog.Logger) *WarmupJob {
	return &WarmupJob{
		registry:  registry,
		watchlist: watchlist,
		bars:      bars,
		log:       log.With().Str("job", "warmup").Logger(),
	}
}

// Name implements Job.
func (j *WarmupJob) Name() string { return "warmup" }

// Run implements Job.
func (j *WarmupJob) Run(ctx context.Context) error {
	if len(j.watchlist) == 0 {
		return nil
	}

	provider, err := j.registry.Provider("")
	if err != nil {
		return err
	}

	warmed := 0
	for _, entry := range j.watchlist {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		symbol, timeframe, ok := parseWatchlistEntry(entry)
		if !ok {
			j.log.Warn().Str("entry", entry).Msg("Skipping malformed watchlist entry")
			continue
		}

		_, err := provider.LoadOHLCV(ctx, marketdata.Request{
			Symbol:    symbol,
			Timeframe: timeframe,
			Count:     j.bars,
		})
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Str("timeframe", timeframe).
				Msg("Warmup load failed")
			continue
		}
		warmed++
	}

	j.log.Info().
		Int("warmed", warmed).
		Int("watchlist", len(j.watchlist)).
		Msg("Watchlist warmup finished")
	return nil
}

// parseWatchlistEntry splits "BTCUSDT:1h" into its symbol and timeframe,
// canonicalizing both.
func parseWatchlistEntry(entry string) (symbol, timeframe string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	symbol = strings.ToUpper(strings.TrimSpace(parts[0]))
	tf, err := domain.ParseTimeframe(strings.TrimSpace(parts[1]))
	if symbol == "" || err != nil {
		return "", "", false
	}
	return symbol, tf.String(), true
}

// StatsFlushJob persists the in-memory cache counters to Redis so they
// survive restarts.
type StatsFlushJob struct {
	cache *cache.Manager
}

// NewStatsFlushJob creates the stats flush job.
func NewStatsFlushJob(cache *cache.Manager) *StatsFlushJob {
	return &StatsFlushJob{cache: cache}
}

// Name implements Job.
func (j *StatsFlushJob) Name() string { return "stats_flush" }

// Run implements Job.
func (j *StatsFlushJob) Run(ctx context.Context) error {
	return j.cache.FlushStats(ctx)
}
