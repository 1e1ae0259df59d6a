package regime

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/utils"
)

// Base threshold bands before timeframe and volatility scaling.
const (
	baseADXWeak     = 20.0
	baseADXTrending = 25.0
	baseADXStrong   = 40.0
	baseERChoppy    = 0.3
	baseERTrending  = 0.5
	baseATRLow      = 0.8
	baseATRHigh     = 1.2

	// The volatility multiplier may stretch ADX bands only this far; beyond
	// it expansion already speaks through the ATR ratio itself.
	adxVolatilityCap = 1.2
)

// computeThresholds derives the adaptive bands for one detection.
//
// The timeframe multiplier comes from configuration (noisy low timeframes
// scale up). The volatility multiplier compares the current atrShort/atrLong
// ratio to its median over the adaptive window; too little history leaves it
// at 1. ER bands react to the timeframe only, and ATR bands move inversely
// with volatility so an already-expanded market needs a genuinely unusual
// ratio to read as expansion.
func computeThresholds(cfg config.RegimeConfig, timeframe string, ratios []float64) Thresholds {
	tfMult := 1.0
	if m, ok := cfg.TimeframeMultipliers[timeframe]; ok && m > 0 {
		tfMult = m
	}

	volMult := 1.0
	if len(ratios) >= cfg.AdaptiveMinSamples {
		window := len(ratios)
		if cfg.AdaptiveWindow > 0 && window > cfg.AdaptiveWindow {
			window = cfg.AdaptiveWindow
		}
		recent := make([]float64, window)
		copy(recent, ratios[len(ratios)-window:])
		sort.Float64s(recent)
		median := stat.Quantile(0.5, stat.Empirical, recent, nil)
		if median > 0 {
			rel := ratios[len(ratios)-1] / median
			switch cfg.VolatilityFormula {
			case "wide":
				volMult = 0.7 + 0.6*rel
			default:
				volMult = 0.5 + 0.5*rel
			}
			volMult = utils.Clamp(volMult, cfg.VolatilityMin, cfg.VolatilityMax)
		}
	}

	adxCombined := tfMult * math.Min(volMult, adxVolatilityCap)
	erScale := 0.8 + 0.2*tfMult
	atrScale := math.Sqrt(volMult)

	return Thresholds{
		ADX: ADXBands{
			Weak:     utils.Round2(utils.Clamp(baseADXWeak*adxCombined, 10, 35)),
			Trending: utils.Round2(utils.Clamp(baseADXTrending*adxCombined, 15, 35)),
			Strong:   utils.Round2(utils.Clamp(baseADXStrong*adxCombined, 25, 50)),
		},
		ER: ERBands{
			Choppy:   utils.Round4(utils.Clamp(baseERChoppy*erScale, 0.1, 0.5)),
			Trending: utils.Round4(utils.Clamp(baseERTrending*erScale, 0.3, 0.8)),
		},
		ATRRatio: ATRBands{
			Low:  utils.Round4(math.Max(0.3, baseATRLow/atrScale)),
			High: utils.Round4(math.Max(1.0, baseATRHigh/atrScale)),
		},
		Adjustments: Adjustments{
			Timeframe:  tfMult,
			Volatility: utils.Round4(volMult),
			Combined:   utils.Round4(adxCombined),
		},
	}
}
