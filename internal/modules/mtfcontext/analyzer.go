// Package mtfcontext builds the multi-timeframe market context: each
// requested timeframe gets a regime detection plus depth-gated statistical
// enrichment, the per-timeframe verdicts are combined into a weighted
// alignment report, and the whole thing can be projected into a compact
// narrative.
//
// Timeframes are processed from longest to shortest so that shorter
// timeframes can reference scalars (RSI, ATR ratio) already computed on
// the next timeframe up. Within one timeframe all series fetches run in
// parallel.
package mtfcontext

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/metrics"
	"github.com/avramidis/skopos/internal/modules/indicators"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	"github.com/avramidis/skopos/internal/modules/regime"
)

// emaPeriods is the ladder every timeframe computes. Longer entries may stay
// nil when the bar budget is below the warmup.
var emaPeriods = []int{9, 20, 50, 100, 200}

// Fixed enrichment periods.
const (
	rsiPeriod     = 14
	atrPeriod     = 14
	obvTrendBars  = 10
	structureBars = 10
	rangeBars     = 20
	patternBars   = 5
)

// Analyzer orchestrates per-timeframe regime detection and enrichment.
type Analyzer struct {
	registry   *marketdata.Registry
	indicators *indicators.Engine
	detector   *regime.Engine
	cfg        config.ContextConfig
	align      config.AlignmentConfig
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewAnalyzer creates a multi-timeframe context analyzer.
func NewAnalyzer(registry *marketdata.Registry, ind *indicators.Engine, detector *regime.Engine,
	cfg config.ContextConfig, align config.AlignmentConfig, met *metrics.Metrics, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		registry:   registry,
		indicators: ind,
		detector:   detector,
		cfg:        cfg,
		align:      align,
		metrics:    met,
		log:        log.With().Str("component", "mtfcontext").Logger(),
	}
}

// plannedTimeframe is one timeframe scheduled for analysis.
type plannedTimeframe struct {
	Role      string
	Timeframe string
	Minutes   int64
	Depth     string
}

// carryDown holds scalars from the previously analyzed (next higher)
// timeframe. It is replaced wholesale after each timeframe so every value
// refers to the immediate neighbour, never a grandparent.
type carryDown struct {
	timeframe string
	rsi       *float64
	atrRatio  *float64
}

func (c carryDown) absorb(tc *TimeframeContext) carryDown {
	next := carryDown{timeframe: tc.Timeframe}
	ratio := tc.Regime.Components.ATRRatio
	next.atrRatio = &ratio
	if tc.Momentum != nil && tc.Momentum.RSI != nil {
		next.rsi = tc.Momentum.RSI
	}
	return next
}

// Analyze runs the full multi-timeframe context for one symbol.
//
// Timeframes fail independently: an errored timeframe lands in the report's
// Errors map and drops out of the alignment. The call as a whole fails only
// on invalid input, on the global timeout, or when no timeframe succeeded.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*ContextReport, error) {
	started := time.Now()

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("mtfcontext: symbol is required")
	}
	plan, err := buildPlan(req.Timeframes)
	if err != nil {
		return nil, fmt.Errorf("mtfcontext: %s: %w", symbol, err)
	}
	if _, err := a.registry.Provider(req.Source); err != nil {
		return nil, fmt.Errorf("mtfcontext: %s: %w", symbol, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	a.metrics.RecordContextRequest()

	report := &ContextReport{
		Symbol:     symbol,
		Timeframes: make(map[string]*TimeframeContext, len(plan)),
	}
	var ordered []*TimeframeContext
	var carry carryDown
	for _, p := range plan {
		tc, err := a.analyzeTimeframe(ctx, symbol, req, p, carry)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("mtfcontext: %s: %w", symbol, ctx.Err())
			}
			a.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Str("timeframe", p.Timeframe).
				Msg("Timeframe analysis failed")
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[p.Timeframe] = err.Error()
			continue
		}
		report.Timeframes[p.Timeframe] = tc
		ordered = append(ordered, tc)
		carry = carry.absorb(tc)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("mtfcontext: %s: no timeframe could be analyzed", symbol)
	}

	report.Alignment = alignTimeframes(ordered, a.align)
	report.Metadata = ReportMetadata{
		AnalysisID: uuid.New().String(),
		Symbol:     symbol,
		Timeframes: timeframeCodes(ordered),
		DurationMs: time.Since(started).Milliseconds(),
		Source:     ordered[0].Regime.Metadata.Source,
	}
	if req.ReferenceDate != nil {
		ms := req.ReferenceDate.UnixMilli()
		report.Metadata.ReferenceDate = &ms
	}
	if req.IncludeNarrative {
		report.Narrative = Project(report)
	}

	a.log.Info().
		Str("symbol", symbol).
		Strs("timeframes", report.Metadata.Timeframes).
		Str("dominant", report.Alignment.DominantDirection).
		Float64("alignment", report.Alignment.AlignmentScore).
		Str("quality", report.Alignment.Quality).
		Int64("duration_ms", report.Metadata.DurationMs).
		Msg("Context built")

	return report, nil
}

// buildPlan validates the requested timeframes and orders them longest
// first. Duplicate codes are rejected: the same timeframe under two roles
// would be analyzed twice and counted twice in the alignment.
func buildPlan(tfs Timeframes) ([]plannedTimeframe, error) {
	var plan []plannedTimeframe
	add := func(role string, tf *string) error {
		if tf == nil || strings.TrimSpace(*tf) == "" {
			return nil
		}
		parsed, err := domain.ParseTimeframe(strings.TrimSpace(*tf))
		if err != nil {
			return err
		}
		code := parsed.String()
		for _, p := range plan {
			if p.Timeframe == code {
				return fmt.Errorf("duplicate timeframe %q", code)
			}
		}
		plan = append(plan, plannedTimeframe{
			Role:      role,
			Timeframe: code,
			Minutes:   parsed.Minutes(),
			Depth:     depthFor(parsed.Minutes()),
		})
		return nil
	}
	if err := add(RoleLong, tfs.Long); err != nil {
		return nil, err
	}
	if err := add(RoleMedium, tfs.Medium); err != nil {
		return nil, err
	}
	if err := add(RoleShort, tfs.Short); err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.New("at least one timeframe is required")
	}
	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Minutes > plan[j].Minutes
	})
	return plan, nil
}

// depthFor maps a timeframe size to its analysis depth: daily and above is
// macro direction only, four hours and above adds structure, intraday gets
// the full treatment.
func depthFor(minutes int64) string {
	switch {
	case minutes >= 1440:
		return DepthLight
	case minutes >= 240:
		return DepthMedium
	default:
		return DepthFull
	}
}

func (a *Analyzer) budgetFor(tf string) int {
	if n, ok := a.cfg.BarBudgets[tf]; ok && n > 0 {
		return n
	}
	return a.cfg.DefaultBudget
}

// seriesBundle is everything one timeframe's enrichers read. Light depth
// fills only bars and the EMA ladder.
type seriesBundle struct {
	bars   domain.BarSeries
	ema    map[int]*indicators.Series
	rsi    *indicators.Series
	macd   *indicators.Series
	bbands *indicators.Series
	atr    *indicators.Series
	obv    *indicators.Series
	vwap   *indicators.Series
	psar   *indicators.Series
}

func (a *Analyzer) analyzeTimeframe(ctx context.Context, symbol string, req Request,
	p plannedTimeframe, carry carryDown) (*TimeframeContext, error) {
	budget := a.budgetFor(p.Timeframe)

	res, err := a.detector.Detect(ctx, regime.Request{
		Symbol:        symbol,
		Timeframe:     p.Timeframe,
		Count:         budget,
		ReferenceDate: req.ReferenceDate,
		Source:        req.Source,
		SkipCache:     req.SkipCache,
	})
	if err != nil {
		return nil, err
	}

	bundle, err := a.fetchSeries(ctx, symbol, req, p, budget)
	if err != nil {
		return nil, err
	}
	if len(bundle.bars) == 0 {
		return nil, fmt.Errorf("mtfcontext: %s %s: no bars", symbol, p.Timeframe)
	}
	price := bundle.bars[len(bundle.bars)-1].Close

	tc := &TimeframeContext{
		Timeframe:     p.Timeframe,
		Role:          p.Role,
		Depth:         p.Depth,
		BarsRequested: budget,
		BarsAnalyzed:  len(bundle.bars),
		Regime:        res,
	}
	tc.MovingAverages = movingAverages(price, bundle)
	tc.TrendIndicators = trendIndicators(res, bundle.psar, price)
	tc.PriceAction = priceAction(bundle.bars, p.Depth)
	if p.Depth != DepthLight {
		tc.Momentum = momentumIndicators(bundle, carry)
		tc.Volatility = volatilityIndicators(res, bundle, price, carry)
		tc.Volume = volumeIndicators(res, bundle, price)
		tc.SupportResistance = supportResistance(res, bundle, price)
		if p.Depth == DepthFull {
			tc.MicroPatterns = microPatterns(bundle.bars)
		}
		tc.CoherenceCheck = coherenceCheck(tc)
	}
	tc.Summary = summarize(tc)
	return tc, nil
}

// fetchSeries loads the bars and indicator series one timeframe's enrichers
// need, all in parallel. Light depth stops at the EMA ladder.
func (a *Analyzer) fetchSeries(ctx context.Context, symbol string, req Request,
	p plannedTimeframe, budget int) (*seriesBundle, error) {
	provider, err := a.registry.Provider(req.Source)
	if err != nil {
		return nil, err
	}

	bundle := &seriesBundle{ema: make(map[int]*indicators.Series, len(emaPeriods))}
	var wg sync.WaitGroup
	emaOut := make([]*indicators.Series, len(emaPeriods))
	errs := make([]error, 13)
	run := func(slot int, task func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[slot] = task()
		}()
	}
	fetch := func(indicator string, cfg indicators.SeriesConfig, out **indicators.Series) func() error {
		return func() error {
			s, err := a.indicators.GetSeries(ctx, indicators.SeriesRequest{
				Symbol:        symbol,
				Timeframe:     p.Timeframe,
				Indicator:     indicator,
				Bars:          budget,
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
		res, err := provider.LoadOHLCV(ctx, marketdata.Request{
			Symbol:        symbol,
			Timeframe:     p.Timeframe,
			Count:         budget,
			ReferenceDate: req.ReferenceDate,
			SkipCache:     req.SkipCache,
			// The regime detection already surfaced data-quality
			// problems for this window.
			SkipGapDetection: true,
		})
		if err != nil {
			return err
		}
		bundle.bars = res.Bars
		return nil
	})
	for i, period := range emaPeriods {
		run(1+i, fetch("ema", indicators.SeriesConfig{Period: period}, &emaOut[i]))
	}
	if p.Depth != DepthLight {
		run(6, fetch("rsi", indicators.SeriesConfig{Period: rsiPeriod}, &bundle.rsi))
		run(7, fetch("macd", indicators.SeriesConfig{}, &bundle.macd))
		run(8, fetch("bbands", indicators.SeriesConfig{}, &bundle.bbands))
		run(9, fetch("atr", indicators.SeriesConfig{Period: atrPeriod}, &bundle.atr))
		run(10, fetch("obv", indicators.SeriesConfig{}, &bundle.obv))
		run(11, fetch("vwap", indicators.SeriesConfig{}, &bundle.vwap))
		run(12, fetch("psar", indicators.SeriesConfig{}, &bundle.psar))
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for i, period := range emaPeriods {
		bundle.ema[period] = emaOut[i]
	}
	return bundle, nil
}

func timeframeCodes(ordered []*TimeframeContext) []string {
	codes := make([]string, len(ordered))
	for i, tc := range ordered {
		codes[i] = tc.Timeframe
	}
	return codes
}
