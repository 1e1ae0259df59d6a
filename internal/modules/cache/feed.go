package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/events"
)

// feedMergeTimeout bounds one merge so a slow Redis cannot back the
// listener up behind the bus buffer.
const feedMergeTimeout = 5 * time.Second

// Feed consumes closed-bar events and merges each bar into its segment,
// keeping cached series fresh while the stream runs.
type Feed struct {
	cache  *Manager
	bus    *events.Bus
	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates a cache feed listener.
func NewFeed(cache *Manager, bus *events.Bus, log zerolog.Logger) *Feed {
	return &Feed{
		cache: cache,
		bus:   bus,
		log:   log.With().Str("component", "cache_feed").Logger(),
	}
}

// Start subscribes to BarClosed events and launches the merge loop.
func (f *Feed) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	ch := f.bus.Subscribe(events.BarClosed)
	go f.run(ctx, ch)
	f.log.Info().Msg("Cache feed started")
}

// Stop ends the merge loop and waits for it to drain.
func (f *Feed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.log.Info().Msg("Cache feed stopped")
}

func (f *Feed) run(ctx context.Context, ch <-chan events.Event) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			f.handle(ctx, ev)
		}
	}
}

func (f *Feed) handle(ctx context.Context, ev events.Event) {
	data, ok := ev.Data.(*events.BarClosedData)
	if !ok {
		return
	}

	mergeCtx, cancel := context.WithTimeout(ctx, feedMergeTimeout)
	defer cancel()

	if err := f.cache.Merge(mergeCtx, data.Symbol, data.Timeframe, []domain.Bar{data.Bar}); err != nil {
		f.log.Warn().
			Err(err).
			Str("symbol", data.Symbol).
			Str("timeframe", data.Timeframe).
			Msg("Stream bar not cached")
		return
	}

	f.log.Debug().
		Str("symbol", data.Symbol).
		Str("timeframe", data.Timeframe).
		Int64("timestamp", data.Bar.Timestamp).
		Msg("Stream bar cached")
}
