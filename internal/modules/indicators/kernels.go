package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/avramidis/skopos/internal/domain"
)

// kernel computes one indicator over a bar window. Kernels never fail: a
// window too short for the lookback yields all-nil points and the consumer's
// own null check decides what that means.
type kernel func(bars domain.BarSeries, cfg SeriesConfig) []Point

var kernels = map[string]kernel{
	"ema":    emaKernel,
	"sma":    smaKernel,
	"rsi":    rsiKernel,
	"atr":    atrKernel,
	"adx":    adxKernel,
	"macd":   macdKernel,
	"bbands": bbandsKernel,
	"obv":    obvKernel,
	"psar":   psarKernel,
	"vwap":   vwapKernel,
	"er":     erKernel,
}

// nilPoints returns one timestamp-only point per bar.
func nilPoints(bars domain.BarSeries) []Point {
	pts := make([]Point, len(bars))
	for i, b := range bars {
		pts[i] = Point{Timestamp: b.Timestamp}
	}
	return pts
}

// usable reports whether a computed sample is a real number.
func usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// scalarPoints maps a talib output onto points, nil inside the lookback
// prefix where talib emits placeholder zeros.
func scalarPoints(bars domain.BarSeries, values []float64, lookback int) []Point {
	pts := nilPoints(bars)
	if len(values) != len(bars) {
		return pts
	}
	for i := lookback; i < len(pts); i++ {
		if !usable(values[i]) {
			continue
		}
		v := values[i]
		pts[i].Value = &v
	}
	return pts
}

// compositePoints maps several aligned talib outputs onto points. A point is
// non-nil only once every component has cleared the shared lookback.
func compositePoints(bars domain.BarSeries, fields map[string][]float64, lookback int) []Point {
	pts := nilPoints(bars)
	for i := lookback; i < len(pts); i++ {
		values := make(map[string]float64, len(fields))
		ok := true
		for name, series := range fields {
			if len(series) != len(pts) || !usable(series[i]) {
				ok = false
				break
			}
			values[name] = series[i]
		}
		if ok {
			pts[i].Values = values
		}
	}
	return pts
}

func emaKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := cfg.Period - 1
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	return scalarPoints(bars, talib.Ema(bars.Closes(), cfg.Period), lookback)
}

func smaKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := cfg.Period - 1
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	return scalarPoints(bars, talib.Sma(bars.Closes(), cfg.Period), lookback)
}

func rsiKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := cfg.Period
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	return scalarPoints(bars, talib.Rsi(bars.Closes(), cfg.Period), lookback)
}

func atrKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := cfg.Period
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	values := talib.Atr(bars.Highs(), bars.Lows(), bars.Closes(), cfg.Period)
	return scalarPoints(bars, values, lookback)
}

// adxKernel emits the composite {adx, plus_di, minus_di}. ADX needs roughly
// twice the DI lookback, so the composite stays nil until all three settle.
func adxKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := 2*cfg.Period - 1
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	highs, lows, closes := bars.Highs(), bars.Lows(), bars.Closes()
	return compositePoints(bars, map[string][]float64{
		"adx":      talib.Adx(highs, lows, closes, cfg.Period),
		"plus_di":  talib.PlusDI(highs, lows, closes, cfg.Period),
		"minus_di": talib.MinusDI(highs, lows, closes, cfg.Period),
	}, lookback)
}

func macdKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := cfg.SlowPeriod + cfg.SignalPeriod - 2
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	macd, signal, hist := talib.Macd(bars.Closes(), cfg.FastPeriod, cfg.SlowPeriod, cfg.SignalPeriod)
	return compositePoints(bars, map[string][]float64{
		"macd":      macd,
		"signal":    signal,
		"histogram": hist,
	}, lookback)
}

func bbandsKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	lookback := cfg.Period - 1
	if len(bars) <= lookback {
		return nilPoints(bars)
	}
	upper, middle, lower := talib.BBands(bars.Closes(), cfg.Period, cfg.StdDev, cfg.StdDev, talib.SMA)
	return compositePoints(bars, map[string][]float64{
		"upper":  upper,
		"middle": middle,
		"lower":  lower,
	}, lookback)
}

func obvKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	if len(bars) == 0 {
		return nil
	}
	return scalarPoints(bars, talib.Obv(bars.Closes(), bars.Volumes()), 0)
}

func psarKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	if len(bars) < 2 {
		return nilPoints(bars)
	}
	values := talib.Sar(bars.Highs(), bars.Lows(), cfg.Acceleration, cfg.Maximum)
	return scalarPoints(bars, values, 1)
}

// vwapKernel accumulates typical price × volume over the whole window. Bars
// before the first traded volume stay nil.
func vwapKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	pts := nilPoints(bars)
	var cumPV, cumVol float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumVol += b.Volume
		if cumVol == 0 {
			continue
		}
		v := cumPV / cumVol
		pts[i].Value = &v
	}
	return pts
}

// erKernel computes the Kaufman efficiency ratio, then smooths it with a
// short EMA seeded by the mean of the first SmoothPeriod raw values. A flat
// window (zero path length) counts as fully inefficient.
func erKernel(bars domain.BarSeries, cfg SeriesConfig) []Point {
	period, smooth := cfg.Period, cfg.SmoothPeriod
	pts := nilPoints(bars)
	closes := bars.Closes()
	n := len(closes)
	if n <= period {
		return pts
	}

	raw := make([]float64, n)
	for i := period; i < n; i++ {
		change := math.Abs(closes[i] - closes[i-period])
		var path float64
		for j := i - period + 1; j <= i; j++ {
			path += math.Abs(closes[j] - closes[j-1])
		}
		if path > 0 {
			raw[i] = change / path
		}
	}

	if smooth <= 1 {
		for i := period; i < n; i++ {
			v := raw[i]
			pts[i].Value = &v
		}
		return pts
	}

	seedEnd := period + smooth - 1
	if seedEnd >= n {
		return pts
	}
	var seed float64
	for i := period; i <= seedEnd; i++ {
		seed += raw[i]
	}
	seedVal := seed / float64(smooth)
	pts[seedEnd].Value = &seedVal
	prev := seedVal

	k := 2.0 / (float64(smooth) + 1)
	for i := seedEnd + 1; i < n; i++ {
		v := (raw[i]-prev)*k + prev
		pts[i].Value = &v
		prev = v
	}
	return pts
}
