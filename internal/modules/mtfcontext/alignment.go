package mtfcontext

import (
	"fmt"

	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/modules/regime"
	"github.com/avramidis/skopos/internal/utils"
)

// alignTimeframes collapses the per-timeframe regimes into one weighted
// directional verdict. Every timeframe contributes weight * confidence to
// its regime direction; the alignment score is the share of that mass held
// by the dominant direction. A single timeframe scores its own confidence
// so that one clean reading is not flattered into a perfect 1.0.
func alignTimeframes(ordered []*TimeframeContext, cfg config.AlignmentConfig) *AlignmentReport {
	signals := make([]Signal, 0, len(ordered))
	for _, tc := range ordered {
		res := tc.Regime
		signals = append(signals, Signal{
			Timeframe:  tc.Timeframe,
			Class:      regime.Class(res.Regime),
			Direction:  res.Direction,
			Confidence: res.Confidence,
			Weight:     weightFor(tc.Timeframe, cfg),
		})
	}

	scores := make(map[string]float64)
	total := 0.0
	for _, s := range signals {
		mass := s.Weight * s.Confidence
		scores[s.Direction] += mass
		total += mass
	}

	report := &AlignmentReport{
		Signals:           signals,
		WeightedScores:    roundScores(scores),
		DominantDirection: dominantDirection(scores),
	}
	switch {
	case len(signals) == 1:
		report.AlignmentScore = utils.Round2(signals[0].Confidence)
	case total > 0:
		report.AlignmentScore = utils.Round2(scores[report.DominantDirection] / total)
	}
	report.Conflicts = detectConflicts(signals, cfg)
	report.Quality = qualityOf(report.AlignmentScore, report.Conflicts)
	return report
}

func weightFor(timeframe string, cfg config.AlignmentConfig) float64 {
	if w, ok := cfg.Weights[timeframe]; ok && w > 0 {
		return w
	}
	return 1.0
}

func roundScores(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for dir, v := range scores {
		if v == 0 {
			continue
		}
		out[dir] = utils.Round2(v)
	}
	return out
}

// dominantDirection picks the direction with the strictly largest mass.
// An exact tie between the leaders is read as no dominance.
func dominantDirection(scores map[string]float64) string {
	best, bestScore := regime.DirectionNeutral, 0.0
	tie := false
	for _, dir := range []string{regime.DirectionBullish, regime.DirectionBearish, regime.DirectionNeutral} {
		switch v := scores[dir]; {
		case v > bestScore:
			best, bestScore, tie = dir, v, false
		case v == bestScore && v > 0:
			tie = true
		}
	}
	if tie {
		return regime.DirectionNeutral
	}
	return best
}

func detectConflicts(signals []Signal, cfg config.AlignmentConfig) []Conflict {
	var bullish, bearish []Signal
	for _, s := range signals {
		switch s.Direction {
		case regime.DirectionBullish:
			bullish = append(bullish, s)
		case regime.DirectionBearish:
			bearish = append(bearish, s)
		}
	}
	if len(bullish) == 0 || len(bearish) == 0 {
		return nil
	}

	threshold := cfg.HighTFThreshold
	heavyBull := filterHeavy(bullish, threshold)
	heavyBear := filterHeavy(bearish, threshold)

	var conflicts []Conflict
	if len(heavyBull) > 0 && len(heavyBear) > 0 {
		conflicts = append(conflicts, Conflict{
			Kind:       ConflictHighTimeframe,
			Severity:   ConflictSeverityHigh,
			Detail:     "high-weight timeframes disagree on direction",
			Timeframes: timeframesOf(heavyBull, heavyBear),
		})
	} else {
		severity := ConflictSeverityLow
		if len(bullish) >= 2 && len(bearish) >= 2 {
			severity = ConflictSeverityModerate
		}
		conflicts = append(conflicts, Conflict{
			Kind:       ConflictDirectional,
			Severity:   severity,
			Detail:     "timeframes split between bullish and bearish",
			Timeframes: timeframesOf(bullish, bearish),
		})
	}

	if htfDir := heavyConsensus(heavyBull, heavyBear); htfDir != "" {
		if light := lightOpposition(signals, htfDir, threshold); len(light) > 0 {
			heavy := heavyBull
			if htfDir == regime.DirectionBearish {
				heavy = heavyBear
			}
			conflicts = append(conflicts, Conflict{
				Kind:       ConflictHTFDivergence,
				Severity:   ConflictSeverityLow,
				Detail:     fmt.Sprintf("lower timeframes oppose the %s higher-timeframe bias", htfDir),
				Timeframes: timeframesOf(heavy, light),
			})
		}
	}
	return conflicts
}

func filterHeavy(signals []Signal, threshold float64) []Signal {
	var out []Signal
	for _, s := range signals {
		if s.Weight >= threshold {
			out = append(out, s)
		}
	}
	return out
}

// heavyConsensus resolves the direction the high-weight timeframes lean to,
// or "" when they carry no mass or cancel each other out.
func heavyConsensus(heavyBull, heavyBear []Signal) string {
	bullMass := massOf(heavyBull)
	bearMass := massOf(heavyBear)
	switch {
	case bullMass > bearMass:
		return regime.DirectionBullish
	case bearMass > bullMass:
		return regime.DirectionBearish
	default:
		return ""
	}
}

func lightOpposition(signals []Signal, htfDir string, threshold float64) []Signal {
	opposite := regime.DirectionBearish
	if htfDir == regime.DirectionBearish {
		opposite = regime.DirectionBullish
	}
	var out []Signal
	for _, s := range signals {
		if s.Weight < threshold && s.Direction == opposite {
			out = append(out, s)
		}
	}
	return out
}

func massOf(signals []Signal) float64 {
	total := 0.0
	for _, s := range signals {
		total += s.Weight * s.Confidence
	}
	return total
}

func timeframesOf(groups ...[]Signal) []string {
	var out []string
	for _, group := range groups {
		for _, s := range group {
			out = append(out, s.Timeframe)
		}
	}
	return out
}

// qualityOf grades how actionable the combined picture is. Any high-severity
// conflict caps the grade at poor regardless of score.
func qualityOf(score float64, conflicts []Conflict) string {
	moderate := false
	for _, c := range conflicts {
		switch c.Severity {
		case ConflictSeverityHigh:
			return QualityPoor
		case ConflictSeverityModerate:
			moderate = true
		}
	}
	switch {
	case score >= 0.85:
		return QualityExcellent
	case score >= 0.75 && !moderate:
		return QualityGood
	case score >= 0.6:
		return QualityFair
	default:
		return QualityPoor
	}
}
