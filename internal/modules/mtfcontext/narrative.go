package mtfcontext

import (
	"fmt"
	"strings"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/regime"
)

// Project renders a context report as a compact narrative payload for
// chat-oriented consumers. Values are plain sentences keyed by topic, and
// branches the data cannot support are pruned instead of emitted empty.
func Project(report *ContextReport) map[string]any {
	out := map[string]any{"symbol": report.Symbol}

	codes := report.Metadata.Timeframes
	if len(codes) == 0 {
		for code := range report.Timeframes {
			codes = append(codes, code)
		}
		if sorted, err := domain.SortTimeframesDescending(codes); err == nil {
			codes = sorted
		}
	}

	if al := report.Alignment; al != nil {
		out["alignment"] = alignmentBlock(al)
	}

	tfs := make(map[string]any, len(codes))
	for _, code := range codes {
		tc := report.Timeframes[code]
		if tc == nil || tc.Regime == nil {
			continue
		}
		tfs[code] = timeframeBlock(tc)
	}
	out["timeframes"] = tfs

	if len(codes) > 0 {
		story := map[string]any{
			"market_state":    marketState(report, codes),
			"cross_timeframe": crossTimeframe(report, codes),
			"momentum_phase":  momentumPhase(report, codes),
			"key_levels":      keyLevels(report, codes),
		}
		if watch := watchFor(report, codes); len(watch) > 0 {
			story["watch_for"] = watch
		}
		out["narrative"] = story
	}
	return pruneMap(out)
}

func alignmentBlock(al *AlignmentReport) map[string]any {
	block := map[string]any{
		"direction": al.DominantDirection,
		"strength":  strengthWord(al),
		"score":     al.AlignmentScore,
	}
	if len(al.Conflicts) > 0 {
		details := make([]string, 0, len(al.Conflicts))
		for _, c := range al.Conflicts {
			details = append(details, c.Detail)
		}
		block["conflicts"] = details
	}
	return block
}

func strengthWord(al *AlignmentReport) string {
	for _, c := range al.Conflicts {
		if c.Severity == ConflictSeverityHigh {
			return "conflicting"
		}
	}
	switch {
	case al.AlignmentScore >= 0.75:
		return "strong"
	case al.AlignmentScore >= 0.5:
		return "moderate"
	default:
		return "weak"
	}
}

func timeframeBlock(tc *TimeframeContext) map[string]any {
	block := map[string]any{
		"regime": tc.Regime.Regime,
		"bias":   tc.Regime.Direction,
	}
	if phrase := momentumPhrase(tc); phrase != "" {
		block["momentum"] = phrase
	}
	return block
}

func momentumPhrase(tc *TimeframeContext) string {
	m := tc.Momentum
	if m == nil {
		return ""
	}
	var parts []string
	if m.RSI != nil {
		parts = append(parts, fmt.Sprintf("rsi %.1f %s", *m.RSI, m.RSIZone))
	}
	if m.MACD != nil {
		phrase := "macd " + m.MACD.Cross
		if trend := m.MACD.HistogramTrend; trend != "" && trend != "flat" {
			phrase += ", histogram " + trend
		}
		parts = append(parts, phrase)
	}
	return strings.Join(parts, "; ")
}

// marketState describes the longest timeframe, which anchors the story.
func marketState(report *ContextReport, codes []string) string {
	lead := report.Timeframes[codes[0]]
	if lead == nil || lead.Regime == nil {
		return ""
	}
	state := fmt.Sprintf("%s is %s on %s", report.Symbol, readable(lead.Regime.Regime), lead.Timeframe)
	if phase := lead.Regime.TrendPhase.Phase; phase != regime.PhaseUnknown && regime.Class(lead.Regime.Regime) == "trending" {
		state += fmt.Sprintf(" (%s phase)", phase)
	}
	if c := lead.Regime.Compression; c != nil && c.Detected {
		state += " with volatility compressing"
	}
	return state
}

func crossTimeframe(report *ContextReport, codes []string) string {
	al := report.Alignment
	if al == nil {
		return ""
	}
	if len(codes) == 1 {
		return fmt.Sprintf("single-timeframe view; %s bias with confidence %.2f", al.DominantDirection, al.AlignmentScore)
	}
	joined := strings.Join(codes, ", ")
	switch strengthWord(al) {
	case "conflicting":
		for _, c := range al.Conflicts {
			if c.Severity == ConflictSeverityHigh {
				return fmt.Sprintf("conflicting signals: %s", c.Detail)
			}
		}
		return "conflicting signals across timeframes"
	case "strong":
		return fmt.Sprintf("%s bias is confirmed across %s (alignment %.2f)", al.DominantDirection, joined, al.AlignmentScore)
	case "moderate":
		return fmt.Sprintf("%s bias holds on balance across %s (alignment %.2f)", al.DominantDirection, joined, al.AlignmentScore)
	default:
		return fmt.Sprintf("no decisive bias across %s (alignment %.2f)", joined, al.AlignmentScore)
	}
}

// momentumPhase reports from the shortest timeframe that carries momentum
// data, where the freshest turn shows first.
func momentumPhase(report *ContextReport, codes []string) string {
	for i := len(codes) - 1; i >= 0; i-- {
		tc := report.Timeframes[codes[i]]
		if tc == nil {
			continue
		}
		if phrase := momentumPhrase(tc); phrase != "" {
			return fmt.Sprintf("%s on %s", phrase, tc.Timeframe)
		}
	}
	return ""
}

func keyLevels(report *ContextReport, codes []string) string {
	for i := len(codes) - 1; i >= 0; i-- {
		tc := report.Timeframes[codes[i]]
		if tc == nil || tc.SupportResistance == nil {
			continue
		}
		sr := tc.SupportResistance
		var parts []string
		if len(sr.Resistance) > 0 {
			l := sr.Resistance[0]
			parts = append(parts, fmt.Sprintf("resistance %g (+%.2f%%)", l.Price, l.DistancePercent))
		}
		if len(sr.Support) > 0 {
			l := sr.Support[0]
			parts = append(parts, fmt.Sprintf("support %g (-%.2f%%)", l.Price, l.DistancePercent))
		}
		if len(parts) == 0 {
			continue
		}
		return fmt.Sprintf("%s on %s", strings.Join(parts, ", "), tc.Timeframe)
	}
	return ""
}

func watchFor(report *ContextReport, codes []string) []string {
	var hints []string
	for _, code := range codes {
		tc := report.Timeframes[code]
		if tc == nil || tc.Regime == nil {
			continue
		}
		res := tc.Regime
		if c := res.Compression; c != nil && c.Detected {
			hints = append(hints, fmt.Sprintf("volatility squeeze on %s; expect expansion", code))
		}
		if regime.Class(res.Regime) == "breakout" {
			hint := fmt.Sprintf("active %s on %s", readable(res.Regime), code)
			if bq := res.BreakoutQuality; bq != nil {
				hint += " graded " + bq.Grade
			}
			hints = append(hints, hint)
		}
		if res.TrendPhase.Phase == regime.PhaseExhausted {
			hints = append(hints, fmt.Sprintf("%s trend looks exhausted; guard against reversal", code))
		}
	}
	if al := report.Alignment; al != nil {
		for _, c := range al.Conflicts {
			if c.Kind == ConflictHTFDivergence {
				hints = append(hints, "lower timeframes are fading the higher-timeframe bias")
				break
			}
		}
	}
	for i := len(codes) - 1; i >= 0; i-- {
		tc := report.Timeframes[codes[i]]
		if tc == nil || len(tc.MicroPatterns) == 0 {
			continue
		}
		hints = append(hints, fmt.Sprintf("%s printed on %s", tc.MicroPatterns[0].Pattern, codes[i]))
		break
	}
	return hints
}

func readable(token string) string {
	return strings.ReplaceAll(token, "_", " ")
}

// pruneMap strips nils, empty strings and empty containers in place so the
// serialized narrative never carries hollow branches.
func pruneMap(m map[string]any) map[string]any {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case string:
			if val == "" {
				delete(m, k)
			}
		case map[string]any:
			if len(pruneMap(val)) == 0 {
				delete(m, k)
			}
		case []string:
			if len(val) == 0 {
				delete(m, k)
			}
		case []any:
			if len(val) == 0 {
				delete(m, k)
			}
		}
	}
	return m
}
