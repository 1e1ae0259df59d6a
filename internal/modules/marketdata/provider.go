// Package marketdata orchestrates the cache and the market adapters into a
// single loading pipeline: closed-bar filtering against a reference date,
// partial-range fills, backward batching past adapter limits, gap detection.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/metrics"
	"github.com/avramidis/skopos/internal/modules/cache"
)

var (
	// ErrInsufficientHistory means fewer closed bars exist before the
	// reference date than the caller asked for.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrNoData means the adapter had nothing at all for the request.
	ErrNoData = errors.New("no data returned")
	// ErrInvalidRequest marks requests rejected before any fetch.
	ErrInvalidRequest = errors.New("marketdata: invalid request")
)

// FromCache tags how much of a result was served from the cache.
type FromCache string

const (
	FromCacheFull            FromCache = "full"
	FromCacheNone            FromCache = "none"
	FromCachePartial         FromCache = "partial"
	FromCachePartialDegraded FromCache = "partial_degraded"
)

// Request describes one load. From/To are epoch ms bounds on bar open
// times, zero meaning unbounded. ReferenceDate makes the load causal: only
// bars closed at that instant are returned.
type Request struct {
	Symbol           string
	Timeframe        string
	Count            int
	From             int64
	To               int64
	ReferenceDate    *time.Time
	SkipCache        bool
	SkipGapDetection bool
}

// Result is a loaded, validated, ascending bar series with provenance.
type Result struct {
	Symbol         string           `json:"symbol"`
	Timeframe      string           `json:"timeframe"`
	Bars           domain.BarSeries `json:"bars"`
	Count          int              `json:"count"`
	FirstTimestamp int64            `json:"first_timestamp"`
	LastTimestamp  int64            `json:"last_timestamp"`
	Gaps           []domain.Gap     `json:"gaps,omitempty"`
	GapCount       int              `json:"gap_count"`
	FromCache      FromCache        `json:"from_cache"`
	ReferenceDate  *int64           `json:"reference_date,omitempty"`
	Source         string           `json:"source"`
	LoadMs         int64            `json:"load_ms"`
	LoadedAt       int64            `json:"loaded_at"`
}

// Config bounds a provider instance.
type Config struct {
	// MaxBars caps Count per request regardless of adapter limits.
	MaxBars int
	// UseCacheDefault gates the cache consult; a request can still opt out.
	UseCacheDefault bool
	// DetectGapsDefault gates the gap scan; a request can still opt out.
	DetectGapsDefault bool
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		MaxBars:           2000,
		UseCacheDefault:   true,
		DetectGapsDefault: true,
	}
}

// Cache is the slice of the segment store the provider consults. It is
// satisfied by *cache.Manager.
type Cache interface {
	Get(ctx context.Context, symbol, timeframe string, count int, endTimestamp *int64) (cache.Lookup, error)
	Merge(ctx context.Context, symbol, timeframe string, bars []domain.Bar) error
}

// Provider loads OHLCV series through one adapter, with the cache in front.
type Provider struct {
	adapter domain.MarketAdapter
	cache   Cache
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewProvider creates a provider. The cache may be nil, in which case
// every load goes straight to the adapter.
func NewProvider(adapter domain.MarketAdapter, cacheMgr Cache, cfg Config, met *metrics.Metrics, log zerolog.Logger) *Provider {
	return &Provider{
		adapter: adapter,
		cache:   cacheMgr,
		cfg:     cfg,
		metrics: met,
		log:     log.With().Str("component", "marketdata").Str("source", adapter.Name()).Logger(),
		now:     time.Now,
	}
}

// Adapter exposes the underlying adapter for price and symbol lookups.
func (p *Provider) Adapter() domain.MarketAdapter {
	return p.adapter
}

// LoadOHLCV returns the last req.Count bars for a symbol and timeframe.
//
// With a reference date R, a bar opened at T is included only when
// T + duration ≤ R, and the cache is read up to R − duration so the bar
// still forming at R can never be served from it. Fewer than Count closed
// bars under R is an ErrInsufficientHistory.
func (p *Provider) LoadOHLCV(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if req.Count < 1 {
		return nil, fmt.Errorf("%w: count %d must be at least 1", ErrInvalidRequest, req.Count)
	}
	if p.cfg.MaxBars > 0 && req.Count > p.cfg.MaxBars {
		return nil, fmt.Errorf("%w: count %d exceeds the %d bar limit", ErrInvalidRequest, req.Count, p.cfg.MaxBars)
	}
	durMs, err := domain.TimeframeMillis(req.Timeframe)
	if err != nil {
		return nil, err
	}

	var refMs *int64
	if req.ReferenceDate != nil {
		if req.ReferenceDate.IsZero() {
			return nil, fmt.Errorf("%w: zero reference date", ErrInvalidRequest)
		}
		ms := req.ReferenceDate.UnixMilli()
		refMs = &ms
	}

	// The cache is read one duration behind the reference date; the
	// adapter is asked up to the reference date itself.
	cacheEnd := req.To
	fetchEnd := req.To
	if refMs != nil {
		cacheEnd = *refMs - durMs
		fetchEnd = *refMs
	}

	useCache := p.cache != nil && p.cfg.UseCacheDefault && !req.SkipCache
	if useCache {
		var endPtr *int64
		if cacheEnd > 0 {
			endPtr = &cacheEnd
		}
		lookup, err := p.cache.Get(ctx, symbol, req.Timeframe, req.Count, endPtr)
		if err != nil {
			return nil, err
		}

		switch lookup.Coverage {
		case cache.CoverageFull:
			return p.assemble(req, symbol, durMs, lookup.Bars, FromCacheFull, refMs, started)

		case cache.CoveragePartial:
			res, handled, err := p.servePartial(ctx, req, symbol, durMs, lookup, refMs, started)
			if handled {
				return res, err
			}
			// Not enough cached to degrade onto; reload from scratch.
		}
	}

	fetchCount := req.Count
	if refMs != nil {
		// One extra bar compensates for the closed-bar filter dropping
		// the bar still forming at the reference date.
		fetchCount++
	}

	fetched, err := p.fetchBatched(ctx, symbol, req.Timeframe, durMs, fetchCount, req.From, fetchEnd)
	if err != nil {
		return nil, err
	}

	cleaned, err := fetched.Normalize()
	if err != nil {
		return nil, fmt.Errorf("marketdata: %s %s: %w", symbol, req.Timeframe, err)
	}
	if refMs != nil {
		cleaned = cleaned.FilterClosed(durMs, *refMs)
		if len(cleaned) < req.Count {
			return nil, fmt.Errorf("%w: %s %s has %d closed bars, requested %d",
				ErrInsufficientHistory, symbol, req.Timeframe, len(cleaned), req.Count)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, req.Timeframe)
	}

	if useCache {
		if err := p.writeBack(ctx, symbol, req.Timeframe, durMs, cleaned, refMs); err != nil {
			return nil, err
		}
	}

	return p.assemble(req, symbol, durMs, cleaned.LastN(req.Count), FromCacheNone, refMs, started)
}

// servePartial fills the missing windows around a partial hit. The bool
// reports whether the partial path produced a final outcome; false sends
// the caller down the full reload path.
func (p *Provider) servePartial(ctx context.Context, req Request, symbol string, durMs int64, lookup cache.Lookup, refMs *int64, started time.Time) (*Result, bool, error) {
	filled, err := p.fillWindows(ctx, req, symbol, durMs, lookup.Missing, refMs)
	if err != nil {
		if len(lookup.Bars)*2 >= req.Count {
			p.log.Warn().Err(err).
				Str("symbol", symbol).
				Str("timeframe", req.Timeframe).
				Int("cached", len(lookup.Bars)).
				Int("requested", req.Count).
				Msg("Partial fill failed, serving cached bars degraded")
			res, aerr := p.assemble(req, symbol, durMs, lookup.Bars, FromCachePartialDegraded, refMs, started)
			return res, true, aerr
		}
		p.log.Warn().Err(err).
			Str("symbol", symbol).
			Str("timeframe", req.Timeframe).
			Msg("Partial fill failed with too little cached, reloading")
		return nil, false, nil
	}

	merged := make(domain.BarSeries, 0, len(lookup.Bars)+len(filled))
	merged = append(merged, lookup.Bars...)
	merged = append(merged, filled...)
	merged, nerr := merged.Normalize()
	if nerr != nil {
		return nil, true, fmt.Errorf("marketdata: %s %s: %w", symbol, req.Timeframe, nerr)
	}
	if refMs != nil {
		merged = merged.FilterClosed(durMs, *refMs)
		if len(merged) < req.Count {
			return nil, true, fmt.Errorf("%w: %s %s has %d closed bars, requested %d",
				ErrInsufficientHistory, symbol, req.Timeframe, len(merged), req.Count)
		}
	}

	if len(filled) > 0 {
		if err := p.writeBack(ctx, symbol, req.Timeframe, durMs, filled, refMs); err != nil {
			return nil, true, err
		}
	}

	res, aerr := p.assemble(req, symbol, durMs, merged.LastN(req.Count), FromCachePartial, refMs, started)
	return res, true, aerr
}

// fillWindows fetches the before/after gaps reported by the cache. The
// after window is stretched to the reference date so the adapter can hand
// back the newest closed bars.
func (p *Provider) fillWindows(ctx context.Context, req Request, symbol string, durMs int64, missing cache.Missing, refMs *int64) (domain.BarSeries, error) {
	var filled domain.BarSeries

	if after := missing.After; after != nil {
		want := after.Bars
		to := after.To
		if refMs != nil {
			want++
			to = *refMs
		}
		batch, err := p.fetchBatched(ctx, symbol, req.Timeframe, durMs, want, after.From, to)
		if err != nil {
			return nil, err
		}
		filled = append(filled, batch...)
	}

	if before := missing.Before; before != nil {
		batch, err := p.fetchBatched(ctx, symbol, req.Timeframe, durMs, before.Bars, before.From, before.To)
		if err != nil {
			return nil, err
		}
		filled = append(filled, batch...)
	}

	return filled, nil
}

// fetchBatched pulls up to want bars ending at to, working backwards in
// adapter-sized batches. A short or empty batch means history is
// exhausted. The from bound is enforced here, not passed to the adapter:
// vendors fill bounded ranges oldest-first, which would invert the walk.
func (p *Provider) fetchBatched(ctx context.Context, symbol, timeframe string, durMs int64, want int, from, to int64) (domain.BarSeries, error) {
	batchSize := p.adapter.MaxLimit()
	if batchSize < 1 {
		batchSize = want
	}
	if p.cfg.MaxBars > 0 && batchSize > p.cfg.MaxBars {
		batchSize = p.cfg.MaxBars
	}

	maxIterations := want/batchSize + 2
	all := make(domain.BarSeries, 0, want)
	remaining := want
	end := to

	for i := 0; i < maxIterations && remaining > 0; i++ {
		limit := remaining
		if limit > batchSize {
			limit = batchSize
		}

		batch, err := p.adapter.FetchOHLCV(ctx, domain.FetchRequest{
			Symbol:    symbol,
			Timeframe: timeframe,
			Limit:     limit,
			To:        end,
		})
		if err != nil {
			return nil, fmt.Errorf("marketdata: fetching %s %s: %w", symbol, timeframe, err)
		}

		got := len(batch)
		if from > 0 {
			trimmed := batch[:0:0]
			for _, b := range batch {
				if b.Timestamp >= from {
					trimmed = append(trimmed, b)
				}
			}
			batch = trimmed
		}
		if len(batch) == 0 {
			break
		}

		all = append(domain.BarSeries(batch), all...)
		remaining -= len(batch)
		if got < limit || len(batch) < got {
			break
		}

		end = batch[0].Timestamp - durMs
		if from > 0 && end < from {
			break
		}
	}

	return all, nil
}

// writeBack merges freshly fetched bars into the cache. Only closed bars
// are persisted; a forming bar cached now would read as closed later with
// mid-bar values. Segment write failures propagate.
func (p *Provider) writeBack(ctx context.Context, symbol, timeframe string, durMs int64, bars domain.BarSeries, refMs *int64) error {
	reference := p.now().UnixMilli()
	if refMs != nil {
		reference = *refMs
	}
	closed := bars.FilterClosed(durMs, reference)
	if len(closed) == 0 {
		return nil
	}
	if err := p.cache.Merge(ctx, symbol, timeframe, closed); err != nil {
		return fmt.Errorf("marketdata: caching %s %s: %w", symbol, timeframe, err)
	}
	return nil
}

// assemble builds the final result, running the gap scan on the served
// slice and recording provenance.
func (p *Provider) assemble(req Request, symbol string, durMs int64, bars domain.BarSeries, from FromCache, refMs *int64, started time.Time) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, req.Timeframe)
	}

	var gaps []domain.Gap
	if p.cfg.DetectGapsDefault && !req.SkipGapDetection {
		gaps = bars.Gaps(durMs)
		if len(gaps) > 0 {
			p.log.Warn().
				Str("symbol", symbol).
				Str("timeframe", req.Timeframe).
				Int("gaps", len(gaps)).
				Msg("Series has gaps")
		}
	}

	res := &Result{
		Symbol:         symbol,
		Timeframe:      req.Timeframe,
		Bars:           bars,
		Count:          len(bars),
		FirstTimestamp: bars[0].Timestamp,
		LastTimestamp:  bars[len(bars)-1].Timestamp,
		Gaps:           gaps,
		GapCount:       len(gaps),
		FromCache:      from,
		ReferenceDate:  refMs,
		Source:         p.adapter.Name(),
		LoadMs:         time.Since(started).Milliseconds(),
		LoadedAt:       p.now().UnixMilli(),
	}

	p.metrics.RecordProviderLoad(string(from), res.Source)
	p.log.Debug().
		Str("symbol", symbol).
		Str("timeframe", req.Timeframe).
		Int("bars", res.Count).
		Str("from_cache", string(from)).
		Int64("load_ms", res.LoadMs).
		Msg("Loaded OHLCV")
	return res, nil
}
