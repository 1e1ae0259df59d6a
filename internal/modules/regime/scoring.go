package regime

import (
	"math"

	"github.com/avramidis/skopos/internal/utils"
)

// Confidence weights over the four sub-scores.
const (
	weightClarity   = 0.35
	weightCoherence = 0.25
	weightDirection = 0.2
	weightER        = 0.2
)

// scoreConfidence combines the sub-scores and the phase bonus into the final
// confidence, clamped to [0,1] and rounded to two decimals.
func scoreConfidence(class string, adx, er float64, direction DirectionComponent,
	atrRatio float64, vol *VolumeAnalysis, phase string, th Thresholds) (float64, ScoringDetails) {

	details := ScoringDetails{
		RegimeClarity:  utils.Round4(clarityScore(class, adx, th)),
		ERScore:        utils.Round4(erScore(class, er, th)),
		DirectionScore: directionScore(direction.Strength),
		Coherence:      utils.Round4(coherenceScore(class, adx, er, atrRatio, direction.Direction, vol, th)),
		PhaseBonus:     phaseBonus(class, phase),
	}

	confidence := weightClarity*details.RegimeClarity +
		weightCoherence*details.Coherence +
		weightDirection*details.DirectionScore +
		weightER*details.ERScore +
		details.PhaseBonus
	return utils.Round2(utils.Clamp(confidence, 0, 1)), details
}

// clarityScore rewards trend regimes whose ADX sits deep in the trending
// band, and range regimes whose ADX sits low. A directional range keeps a
// fixed 0.7: the ADX is high, but that is exactly what the sub-type says.
func clarityScore(class string, adx float64, th Thresholds) float64 {
	bands := th.ADX
	switch group(class) {
	case "trending", "breakout":
		switch {
		case adx >= bands.Strong:
			return 1.0
		case adx >= bands.Trending:
			return 0.6 + 0.4*(adx-bands.Trending)/(bands.Strong-bands.Trending)
		case adx >= bands.Weak:
			return 0.3 + 0.3*(adx-bands.Weak)/(bands.Trending-bands.Weak)
		default:
			return 0.3 * adx / bands.Weak
		}
	default:
		if class == RangeDirectional && adx >= bands.Trending {
			return 0.7
		}
		switch {
		case adx <= bands.Weak:
			return 1.0 - 0.4*adx/bands.Weak
		case adx < bands.Trending:
			return 0.6 - 0.3*(adx-bands.Weak)/(bands.Trending-bands.Weak)
		default:
			return 0.3
		}
	}
}

// erScore is regime-aware: trends want an efficient tape, ranges an
// inefficient one, breakouts tolerate the messy middle.
func erScore(class string, er float64, th Thresholds) float64 {
	choppy, trending := th.ER.Choppy, th.ER.Trending
	switch group(class) {
	case "trending":
		hi := math.Max(0.7, trending+0.2)
		switch {
		case er >= hi:
			return 1.0
		case er >= trending:
			return 0.6 + 0.4*(er-trending)/(hi-trending)
		case er >= choppy:
			return 0.3 + 0.3*(er-choppy)/(trending-choppy)
		default:
			return 0.2
		}
	case "breakout":
		switch {
		case er >= trending:
			return 1.0
		case er >= choppy:
			return 0.7 + 0.3*(er-choppy)/(trending-choppy)
		default:
			return 0.5
		}
	default:
		lo := math.Max(0.05, choppy-0.15)
		switch {
		case er <= lo:
			return 1.0
		case er <= choppy:
			return 0.6 + 0.4*(choppy-er)/(choppy-lo)
		case er <= trending:
			return 0.3 + 0.3*(trending-er)/(trending-choppy)
		default:
			return 0.2
		}
	}
}

// directionScore is a step function of the EMA separation strength.
func directionScore(strength float64) float64 {
	s := math.Abs(strength)
	switch {
	case s >= 1.0:
		return 1.0
	case s >= 0.5:
		return 0.75
	case s >= 0.25:
		return 0.5
	case s >= 0.1:
		return 0.3
	default:
		return 0.0
	}
}

// coherenceScore is the fraction of the class-specific rule set that holds.
func coherenceScore(class string, adx, er, atrRatio float64, direction string,
	vol *VolumeAnalysis, th Thresholds) float64 {

	var checks []bool
	switch class {
	case TrendingBullish:
		checks = []bool{adx >= th.ADX.Trending, er >= th.ER.Trending, direction == DirectionBullish}
	case TrendingBearish:
		checks = []bool{adx >= th.ADX.Trending, er >= th.ER.Trending, direction == DirectionBearish}
	case TrendingNeutral:
		checks = []bool{adx >= th.ADX.Trending, er >= th.ER.Trending, direction == DirectionNeutral}
	case RangeLowVol:
		checks = []bool{atrRatio <= th.ATRRatio.Low, er <= th.ER.Choppy}
	case RangeHighVol:
		checks = []bool{atrRatio >= th.ATRRatio.High, adx < th.ADX.Trending, er <= th.ER.Choppy}
	case RangeDirectional:
		checks = []bool{adx >= th.ADX.Trending, er <= th.ER.Choppy, atrRatio < th.ATRRatio.High}
	case RangeNormal:
		checks = []bool{atrRatio <= th.ATRRatio.High, atrRatio >= th.ATRRatio.Low, adx < th.ADX.Trending}
	case BreakoutBullish:
		checks = []bool{atrRatio >= th.ATRRatio.High, adx >= th.ADX.Trending,
			direction == DirectionBullish, vol == nil || vol.Confirms}
	case BreakoutBearish:
		checks = []bool{atrRatio >= th.ATRRatio.High, adx >= th.ADX.Trending,
			direction == DirectionBearish, vol == nil || vol.Confirms}
	case BreakoutNeutral:
		checks = []bool{atrRatio >= th.ATRRatio.High, adx >= th.ADX.Trending, direction == DirectionNeutral}
	default:
		return 0
	}

	hold := 0
	for _, ok := range checks {
		if ok {
			hold++
		}
	}
	return float64(hold) / float64(len(checks))
}

// phaseBonus nudges trending regimes by their life-cycle phase.
func phaseBonus(class, phase string) float64 {
	if group(class) != "trending" {
		return 0
	}
	switch phase {
	case PhaseNascent:
		return 0.1
	case PhaseExhausted:
		return -0.1
	default:
		return 0
	}
}
