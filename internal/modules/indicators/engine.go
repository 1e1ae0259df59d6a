// Package indicators computes technical indicator series on top of the
// market data provider. Bars inherit the provider's closed-bar semantics, so
// a series computed with a reference date never leaks a forming candle.
//
// Every series has one point per loaded bar. Points inside an indicator's
// warmup window carry a nil value; consumers check the samples they need
// instead of trusting positional math.
package indicators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/modules/marketdata"
)

// ErrUnknownIndicator means the requested indicator name is not supported.
var ErrUnknownIndicator = errors.New("unknown indicator")

// SeriesConfig carries per-indicator tuning. Zero values fall back to the
// defaults of the requested indicator.
type SeriesConfig struct {
	Period       int     `json:"period,omitempty"`
	FastPeriod   int     `json:"fast_period,omitempty"`
	SlowPeriod   int     `json:"slow_period,omitempty"`
	SignalPeriod int     `json:"signal_period,omitempty"`
	SmoothPeriod int     `json:"smooth_period,omitempty"`
	StdDev       float64 `json:"std_dev,omitempty"`
	Acceleration float64 `json:"acceleration,omitempty"`
	Maximum      float64 `json:"maximum,omitempty"`
}

// SeriesRequest describes one indicator computation.
type SeriesRequest struct {
	Symbol        string
	Timeframe     string
	Indicator     string
	Bars          int
	ReferenceDate *time.Time
	Source        string
	SkipCache     bool
	Config        SeriesConfig
}

// Point is one indicator sample, aligned to a candle open time. Scalar
// indicators fill Value; composites (adx, macd, bbands) fill Values. Both
// stay nil while the indicator is warming up.
type Point struct {
	Timestamp int64              `json:"timestamp"`
	Value     *float64           `json:"value,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
}

// Series is a computed indicator over one symbol and timeframe.
type Series struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Indicator string  `json:"indicator"`
	Points    []Point `json:"points"`
}

// Last returns the final point, or false on an empty series.
func (s *Series) Last() (Point, bool) {
	if s == nil || len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// LastValue returns the final point's scalar value, or false when the series
// is empty or still warming up at its end.
func (s *Series) LastValue() (float64, bool) {
	p, ok := s.Last()
	if !ok || p.Value == nil {
		return 0, false
	}
	return *p.Value, true
}

// LastComposite returns the final point's component map, or false when the
// series is empty or still warming up at its end.
func (s *Series) LastComposite() (map[string]float64, bool) {
	p, ok := s.Last()
	if !ok || p.Values == nil {
		return nil, false
	}
	return p.Values, true
}

// TailValues returns the scalar values of the last n points, oldest first.
// The second return is false when any of those points is nil.
func (s *Series) TailValues(n int) ([]float64, bool) {
	if s == nil || n < 1 || len(s.Points) < n {
		return nil, false
	}
	out := make([]float64, 0, n)
	for _, p := range s.Points[len(s.Points)-n:] {
		if p.Value == nil {
			return nil, false
		}
		out = append(out, *p.Value)
	}
	return out, true
}

// Engine computes indicator series from provider-loaded bars.
type Engine struct {
	registry *marketdata.Registry
	log      zerolog.Logger
}

// NewEngine creates an indicator engine over the provider registry.
func NewEngine(registry *marketdata.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		log:      log.With().Str("component", "indicators").Logger(),
	}
}

// GetSeries loads bars for the request and computes the indicator over them.
// The series has exactly one point per loaded bar.
func (e *Engine) GetSeries(ctx context.Context, req SeriesRequest) (*Series, error) {
	if req.Bars < 1 {
		return nil, fmt.Errorf("indicators: bars %d must be at least 1", req.Bars)
	}
	kernel, ok := kernels[req.Indicator]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndicator, req.Indicator)
	}

	provider, err := e.registry.Provider(req.Source)
	if err != nil {
		return nil, err
	}
	res, err := provider.LoadOHLCV(ctx, marketdata.Request{
		Symbol:        req.Symbol,
		Timeframe:     req.Timeframe,
		Count:         req.Bars,
		ReferenceDate: req.ReferenceDate,
		SkipCache:     req.SkipCache,
		// The gap scan is the OHLCV endpoint's concern; indicator math
		// tolerates market-closure holes.
		SkipGapDetection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("indicators: %s: %w", req.Indicator, err)
	}

	cfg := req.Config.withDefaults(req.Indicator)
	points := kernel(res.Bars, cfg)

	e.log.Debug().
		Str("symbol", res.Symbol).
		Str("timeframe", req.Timeframe).
		Str("indicator", req.Indicator).
		Int("points", len(points)).
		Msg("Computed indicator series")

	return &Series{
		Symbol:    res.Symbol,
		Timeframe: req.Timeframe,
		Indicator: req.Indicator,
		Points:    points,
	}, nil
}

// withDefaults fills the zero fields with the indicator's conventional
// parameters.
func (c SeriesConfig) withDefaults(indicator string) SeriesConfig {
	switch indicator {
	case "ema", "sma":
		if c.Period == 0 {
			c.Period = 20
		}
	case "rsi", "atr", "adx":
		if c.Period == 0 {
			c.Period = 14
		}
	case "macd":
		if c.FastPeriod == 0 {
			c.FastPeriod = 12
		}
		if c.SlowPeriod == 0 {
			c.SlowPeriod = 26
		}
		if c.SignalPeriod == 0 {
			c.SignalPeriod = 9
		}
	case "bbands":
		if c.Period == 0 {
			c.Period = 20
		}
		if c.StdDev == 0 {
			c.StdDev = 2.0
		}
	case "psar":
		if c.Acceleration == 0 {
			c.Acceleration = 0.02
		}
		if c.Maximum == 0 {
			c.Maximum = 0.2
		}
	case "er":
		if c.Period == 0 {
			c.Period = 10
		}
		if c.SmoothPeriod == 0 {
			c.SmoothPeriod = 3
		}
	}
	return c
}
