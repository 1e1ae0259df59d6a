package regime

import (
	"gonum.org/v1/gonum/stat"

	"github.com/avramidis/skopos/internal/utils"
)

// trendPhase classifies the ADX slope over its regression window. The slope
// is normalized by the window mean so the ±threshold means the same thing at
// ADX 15 and ADX 45.
func trendPhase(adxTail []float64, slopeThreshold float64) TrendPhase {
	if len(adxTail) < 2 {
		return TrendPhase{Phase: PhaseUnknown}
	}
	mean := stat.Mean(adxTail, nil)
	if mean <= 0 {
		return TrendPhase{Phase: PhaseUnknown}
	}

	xs := make([]float64, len(adxTail))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, adxTail, nil, false)
	normalized := slope / mean

	phase := PhaseMature
	switch {
	case normalized > slopeThreshold:
		phase = PhaseNascent
	case normalized < -slopeThreshold:
		phase = PhaseExhausted
	}
	return TrendPhase{ADXSlope: utils.Round4(normalized), Phase: phase}
}

// detectCompression inspects the ATR ratios of the bars preceding the
// current one. The series is volatility contraction when at least half of
// that window sits under the compression threshold.
func detectCompression(ratios []float64, window int, threshold float64) *Compression {
	if len(ratios) < 2 {
		return nil
	}
	prior := ratios[:len(ratios)-1]
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}

	below := 0
	minRatio := prior[0]
	for _, r := range prior {
		if r < threshold {
			below++
		}
		if r < minRatio {
			minRatio = r
		}
	}
	return &Compression{
		Detected: below*2 >= len(prior),
		Ratio:    utils.Round4(float64(below) / float64(len(prior))),
		MinRatio: utils.Round4(minRatio),
		Window:   len(prior),
	}
}

// classifyDirection orders price against the EMA pair, then lets a strongly
// opposing DI spread veto the verdict.
func classifyDirection(price, emaShort, emaLong, plusDI, minusDI, atrLong float64) DirectionComponent {
	direction := DirectionNeutral
	switch {
	case price > emaShort && emaShort > emaLong:
		direction = DirectionBullish
	case price < emaShort && emaShort < emaLong:
		direction = DirectionBearish
	}

	diSpread := plusDI - minusDI
	if direction == DirectionBullish && -diSpread > 10 {
		direction = DirectionNeutral
	}
	if direction == DirectionBearish && diSpread > 10 {
		direction = DirectionNeutral
	}

	strength := 0.0
	if atrLong > 0 {
		strength = utils.Clamp((emaShort-emaLong)/atrLong, -2, 2)
	}
	return DirectionComponent{
		Direction: direction,
		Strength:  utils.Round4(strength),
		EMAShort:  utils.Round2(emaShort),
		EMALong:   utils.Round2(emaLong),
	}
}

// classifyRegime maps the current-bar values onto a regime class. Expansion
// with a strong trend reads as breakout; a strong and efficient trend as
// trending; everything else is a range sub-type.
func classifyRegime(adx, er, atrRatio float64, direction string, th Thresholds) string {
	expansion := atrRatio > th.ATRRatio.High
	trendStrong := adx >= th.ADX.Trending

	switch {
	case expansion && trendStrong:
		return "breakout_" + direction
	case trendStrong && er >= th.ER.Trending:
		return "trending_" + direction
	case trendStrong:
		return RangeDirectional
	case atrRatio < th.ATRRatio.Low:
		return RangeLowVol
	case atrRatio > th.ATRRatio.High:
		return RangeHighVol
	default:
		return RangeNormal
	}
}

// Breakout quality factor weights.
const (
	factorVolumeConfirmed = 30
	factorVolumeSpike     = 15
	factorCompression     = 30
	factorNascent         = 25
	factorMature          = 10
	factorExhausted       = -15
	factorClearDirection  = 15
)

// scoreBreakout grades a breakout from its supporting evidence.
func scoreBreakout(vol *VolumeAnalysis, compression *Compression, phase, direction string) *BreakoutQuality {
	score := 0
	factors := make([]string, 0, 4)

	if vol != nil {
		switch {
		case vol.Confirms:
			score += factorVolumeConfirmed
			factors = append(factors, "volume_confirmed")
		case vol.Spike:
			score += factorVolumeSpike
			factors = append(factors, "volume_spike")
		}
	}
	if compression != nil && compression.Detected {
		score += factorCompression
		factors = append(factors, "prior_compression")
	}
	switch phase {
	case PhaseNascent:
		score += factorNascent
		factors = append(factors, "trend_nascent")
	case PhaseMature:
		score += factorMature
		factors = append(factors, "trend_mature")
	case PhaseExhausted:
		score += factorExhausted
		factors = append(factors, "trend_exhausted")
	}
	if direction != DirectionNeutral {
		score += factorClearDirection
		factors = append(factors, "clear_direction")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	grade := "low"
	switch {
	case score >= 70:
		grade = "high"
	case score >= 40:
		grade = "medium"
	}
	return &BreakoutQuality{Score: score, Grade: grade, Factors: factors}
}
