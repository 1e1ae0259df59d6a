// Package regime classifies a symbol's market regime from closed candles:
// trending, ranging or breaking out, with direction, adaptive thresholds,
// trend phase, breakout quality, range bounds and a scored confidence.
package regime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/events"
	"github.com/avramidis/skopos/internal/metrics"
	"github.com/avramidis/skopos/internal/modules/indicators"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	"github.com/avramidis/skopos/internal/utils"
)

// ErrInsufficientBars means too little history reached the engine: fewer
// bars than the minimum, or an indicator still warming up at the current
// bar. No partial result is emitted.
var ErrInsufficientBars = errors.New("insufficient bars for detection")

// Request describes one detection. Count below the configured minimum is
// raised to it; the engine adds its own warmup on top.
type Request struct {
	Symbol        string
	Timeframe     string
	Count         int
	ReferenceDate *time.Time
	Source        string
	SkipCache     bool
}

// Engine runs regime detection against the market data stack.
type Engine struct {
	registry   *marketdata.Registry
	indicators *indicators.Engine
	cfg        config.RegimeConfig
	metrics    *metrics.Metrics
	bus        *events.Bus
	log        zerolog.Logger
}

// NewEngine creates a regime engine. The bus may be nil when nothing
// subscribes to analysis events.
func NewEngine(registry *marketdata.Registry, ind *indicators.Engine, cfg config.RegimeConfig,
	met *metrics.Metrics, bus *events.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		registry:   registry,
		indicators: ind,
		cfg:        cfg,
		metrics:    met,
		bus:        bus,
		log:        log.With().Str("component", "regime").Logger(),
	}
}

// Detect classifies the current regime for a symbol and timeframe.
//
// Bars plus six indicator series are fetched in parallel and joined before
// any scoring; a failure in any leg fails the detection. All values are
// taken from the last closed bar under the request's reference date.
func (e *Engine) Detect(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("regime: symbol is required")
	}
	if _, err := domain.ParseTimeframe(req.Timeframe); err != nil {
		return nil, err
	}

	count := req.Count
	if count < e.cfg.MinBars {
		count = e.cfg.MinBars
	}
	window := count + e.cfg.WarmupBars

	var (
		wg      sync.WaitGroup
		barsRes *marketdata.Result
		vol     *VolumeAnalysis

		adxSeries, atrShortSeries, atrLongSeries *indicators.Series
		emaShortSeries, emaLongSeries, erSeries  *indicators.Series
	)
	errs := make([]error, 7)
	run := func(slot int, task func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[slot] = task()
		}()
	}
	fetch := func(indicator string, cfg indicators.SeriesConfig, out **indicators.Series) func() error {
		return func() error {
			s, err := e.indicators.GetSeries(ctx, indicators.SeriesRequest{
				Symbol:        symbol,
				Timeframe:     req.Timeframe,
				Indicator:     indicator,
				Bars:          window,
				ReferenceDate: req.ReferenceDate,
				Source:        req.Source,
				SkipCache:     req.SkipCache,
				Config:        cfg,
			})
			if err != nil {
				return err
			}
			*out = s
			return nil
		}
	}

	run(0, func() error {
		res, err := e.loadBars(ctx, symbol, req, window)
		if err != nil {
			return err
		}
		barsRes = res
		vol = analyzeVolume(res.Bars, e.cfg.VolumePeriod, e.cfg.VolumeSpikeThreshold)
		return nil
	})
	run(1, fetch("adx", indicators.SeriesConfig{Period: e.cfg.ADXPeriod}, &adxSeries))
	run(2, fetch("atr", indicators.SeriesConfig{Period: e.cfg.ATRShortPeriod}, &atrShortSeries))
	run(3, fetch("atr", indicators.SeriesConfig{Period: e.cfg.ATRLongPeriod}, &atrLongSeries))
	run(4, fetch("ema", indicators.SeriesConfig{Period: e.cfg.MAShortPeriod}, &emaShortSeries))
	run(5, fetch("ema", indicators.SeriesConfig{Period: e.cfg.MALongPeriod}, &emaLongSeries))
	run(6, fetch("er", indicators.SeriesConfig{Period: e.cfg.ERPeriod, SmoothPeriod: e.cfg.ERSmoothPeriod}, &erSeries))
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("regime: %s %s: %w", symbol, req.Timeframe, err)
		}
	}
	if len(barsRes.Bars) < e.cfg.MinBars {
		return nil, fmt.Errorf("%w: %s %s has %d bars, need %d",
			ErrInsufficientBars, symbol, req.Timeframe, len(barsRes.Bars), e.cfg.MinBars)
	}

	adxValues, ok := adxSeries.LastComposite()
	if !ok {
		return nil, e.notReady(symbol, req.Timeframe, "adx")
	}
	atrShort, ok := atrShortSeries.LastValue()
	if !ok {
		return nil, e.notReady(symbol, req.Timeframe, "short atr")
	}
	atrLong, ok := atrLongSeries.LastValue()
	if !ok || atrLong <= 0 {
		return nil, e.notReady(symbol, req.Timeframe, "long atr")
	}
	emaShort, ok := emaShortSeries.LastValue()
	if !ok {
		return nil, e.notReady(symbol, req.Timeframe, "short ema")
	}
	emaLong, ok := emaLongSeries.LastValue()
	if !ok {
		return nil, e.notReady(symbol, req.Timeframe, "long ema")
	}
	er, ok := erSeries.LastValue()
	if !ok {
		return nil, e.notReady(symbol, req.Timeframe, "efficiency ratio")
	}

	price := barsRes.Bars[len(barsRes.Bars)-1].Close
	atrRatio := atrShort / atrLong
	ratios := atrRatioHistory(atrShortSeries, atrLongSeries)

	thresholds := computeThresholds(e.cfg, req.Timeframe, ratios)
	phase := trendPhase(compositeTail(adxSeries, "adx", e.cfg.ADXSlopePeriod), e.cfg.ADXSlopeThreshold)
	compression := detectCompression(ratios, e.cfg.CompressionWindow, e.cfg.CompressionThreshold)
	direction := classifyDirection(price, emaShort, emaLong,
		adxValues["plus_di"], adxValues["minus_di"], atrLong)
	class := classifyRegime(adxValues["adx"], er, atrRatio, direction.Direction, thresholds)

	var quality *BreakoutQuality
	var bounds *RangeBounds
	switch group(class) {
	case "breakout":
		quality = scoreBreakout(vol, compression, phase.Phase, direction.Direction)
	case "range":
		bounds = computeRangeBounds(barsRes.Bars, atrShort)
	}

	confidence, details := scoreConfidence(class, adxValues["adx"], er, direction,
		atrRatio, vol, phase.Phase, thresholds)

	result := &Result{
		Regime:          class,
		Direction:       direction.Direction,
		Confidence:      confidence,
		Thresholds:      thresholds,
		TrendPhase:      phase,
		VolumeAnalysis:  vol,
		Compression:     compression,
		BreakoutQuality: quality,
		RangeBounds:     bounds,
		ScoringDetails:  details,
		Components: Components{
			ADX:             utils.Round2(adxValues["adx"]),
			PlusDI:          utils.Round2(adxValues["plus_di"]),
			MinusDI:         utils.Round2(adxValues["minus_di"]),
			EfficiencyRatio: utils.Round4(er),
			ATRRatio:        utils.Round4(atrRatio),
			Direction:       direction,
		},
		Metadata: Metadata{
			AnalysisID:    uuid.New().String(),
			Symbol:        symbol,
			Timeframe:     req.Timeframe,
			Bars:          len(barsRes.Bars),
			DurationMs:    time.Since(started).Milliseconds(),
			Source:        barsRes.Source,
			ReferenceDate: barsRes.ReferenceDate,
		},
	}

	e.metrics.RecordRegimeDetection(class)
	if e.bus != nil {
		e.bus.Publish(&events.AnalysisCompletedData{
			Symbol:     symbol,
			Timeframe:  req.Timeframe,
			Regime:     class,
			Confidence: confidence,
			DurationMs: result.Metadata.DurationMs,
		})
	}
	e.log.Info().
		Str("symbol", symbol).
		Str("timeframe", req.Timeframe).
		Str("regime", class).
		Str("direction", direction.Direction).
		Float64("confidence", confidence).
		Int64("duration_ms", result.Metadata.DurationMs).
		Msg("Regime detected")

	return result, nil
}

func (e *Engine) loadBars(ctx context.Context, symbol string, req Request, window int) (*marketdata.Result, error) {
	provider, err := e.registry.Provider(req.Source)
	if err != nil {
		return nil, err
	}
	return provider.LoadOHLCV(ctx, marketdata.Request{
		Symbol:           symbol,
		Timeframe:        req.Timeframe,
		Count:            window,
		ReferenceDate:    req.ReferenceDate,
		SkipCache:        req.SkipCache,
		SkipGapDetection: true,
	})
}

func (e *Engine) notReady(symbol, timeframe, indicator string) error {
	return fmt.Errorf("%w: %s %s: %s has no value at the current bar",
		ErrInsufficientBars, symbol, timeframe, indicator)
}

// atrRatioHistory pairs the two ATR series point-wise. Both come from the
// same bar window, so indexes line up; bars where either leg is warming up
// are skipped.
func atrRatioHistory(short, long *indicators.Series) []float64 {
	n := len(short.Points)
	if len(long.Points) < n {
		n = len(long.Points)
	}
	ratios := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		sp, lp := short.Points[i], long.Points[i]
		if sp.Value == nil || lp.Value == nil {
			continue
		}
		s, l := *sp.Value, *lp.Value
		if l <= 0 {
			continue
		}
		ratios = append(ratios, s/l)
	}
	return ratios
}

// compositeTail extracts the last n values of one composite field, or nil
// when any of them is still warming up.
func compositeTail(s *indicators.Series, field string, n int) []float64 {
	if s == nil || n < 1 || len(s.Points) < n {
		return nil
	}
	out := make([]float64, 0, n)
	for _, p := range s.Points[len(s.Points)-n:] {
		v, ok := p.Values[field]
		if !ok {
			return nil
		}
		out = append(out, v)
	}
	return out
}
