package mtfcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/skopos/internal/modules/regime"
)

func TestProjectPrunesEmptyBranches(t *testing.T) {
	tc := &TimeframeContext{
		Timeframe: "1d",
		Regime: &regime.Result{
			Regime:     regime.RangeNormal,
			Direction:  regime.DirectionNeutral,
			Confidence: 0.6,
			TrendPhase: regime.TrendPhase{Phase: regime.PhaseUnknown},
		},
	}
	report := &ContextReport{
		Symbol:     "BTCUSDT",
		Timeframes: map[string]*TimeframeContext{"1d": tc},
		Alignment:  alignTimeframes([]*TimeframeContext{tc}, testAlignConfig()),
		Metadata:   ReportMetadata{Timeframes: []string{"1d"}},
	}

	out := Project(report)

	assert.Equal(t, "BTCUSDT", out["symbol"])

	story, ok := out["narrative"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT is range normal on 1d", story["market_state"])
	assert.Equal(t, "single-timeframe view; neutral bias with confidence 0.60", story["cross_timeframe"])
	assert.NotContains(t, story, "momentum_phase")
	assert.NotContains(t, story, "key_levels")
	assert.NotContains(t, story, "watch_for")

	tfs, ok := out["timeframes"].(map[string]any)
	require.True(t, ok)
	block, ok := tfs["1d"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, regime.RangeNormal, block["regime"])
	assert.Equal(t, regime.DirectionNeutral, block["bias"])
	assert.NotContains(t, block, "momentum")
}

func TestProjectStrengthWords(t *testing.T) {
	tests := []struct {
		name   string
		report AlignmentReport
		want   string
	}{
		{
			"high conflict wins",
			AlignmentReport{AlignmentScore: 0.9, Conflicts: []Conflict{{Severity: ConflictSeverityHigh}}},
			"conflicting",
		},
		{"strong", AlignmentReport{AlignmentScore: 0.8}, "strong"},
		{"moderate", AlignmentReport{AlignmentScore: 0.6}, "moderate"},
		{"weak", AlignmentReport{AlignmentScore: 0.3}, "weak"},
		{
			"low conflict does not flip the word",
			AlignmentReport{AlignmentScore: 0.8, Conflicts: []Conflict{{Severity: ConflictSeverityLow}}},
			"strong",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strengthWord(&tt.report))
		})
	}
}

func TestProjectTrendPhaseInMarketState(t *testing.T) {
	tc := &TimeframeContext{
		Timeframe: "1d",
		Regime: &regime.Result{
			Regime:      regime.TrendingBullish,
			Direction:   regime.DirectionBullish,
			Confidence:  0.8,
			TrendPhase:  regime.TrendPhase{Phase: regime.PhaseMature},
			Compression: &regime.Compression{Detected: true},
		},
	}
	report := &ContextReport{
		Symbol:     "SOLUSDT",
		Timeframes: map[string]*TimeframeContext{"1d": tc},
		Alignment:  alignTimeframes([]*TimeframeContext{tc}, testAlignConfig()),
		Metadata:   ReportMetadata{Timeframes: []string{"1d"}},
	}

	story := Project(report)["narrative"].(map[string]any)
	assert.Equal(t, "SOLUSDT is trending bullish on 1d (mature phase) with volatility compressing",
		story["market_state"])
}

func TestProjectWatchForHints(t *testing.T) {
	day := &TimeframeContext{
		Timeframe: "1d",
		Regime: &regime.Result{
			Regime:      regime.TrendingBullish,
			Direction:   regime.DirectionBullish,
			Confidence:  0.7,
			TrendPhase:  regime.TrendPhase{Phase: regime.PhaseExhausted},
			Compression: &regime.Compression{Detected: true},
		},
	}
	hour := &TimeframeContext{
		Timeframe: "1h",
		Regime: &regime.Result{
			Regime:          regime.BreakoutBullish,
			Direction:       regime.DirectionBullish,
			Confidence:      0.75,
			BreakoutQuality: &regime.BreakoutQuality{Grade: "high"},
		},
		MicroPatterns: []MicroPattern{{Pattern: "hammer", Confidence: 0.6, Implication: "bullish_reversal"}},
	}
	report := &ContextReport{
		Symbol:     "ETHUSDT",
		Timeframes: map[string]*TimeframeContext{"1d": day, "1h": hour},
		Alignment: &AlignmentReport{
			DominantDirection: regime.DirectionBullish,
			AlignmentScore:    0.9,
			Conflicts:         []Conflict{{Kind: ConflictHTFDivergence, Severity: ConflictSeverityLow}},
		},
		Metadata: ReportMetadata{Timeframes: []string{"1d", "1h"}},
	}

	story := Project(report)["narrative"].(map[string]any)
	watch, ok := story["watch_for"].([]string)
	require.True(t, ok)

	assert.Equal(t, []string{
		"volatility squeeze on 1d; expect expansion",
		"1d trend looks exhausted; guard against reversal",
		"active breakout bullish on 1h graded high",
		"lower timeframes are fading the higher-timeframe bias",
		"hammer printed on 1h",
	}, watch)
}

func TestProjectMomentumAndKeyLevelsFromShortestTimeframe(t *testing.T) {
	rsi := 61.3
	day := &TimeframeContext{
		Timeframe: "1d",
		Regime: &regime.Result{
			Regime: regime.TrendingBullish, Direction: regime.DirectionBullish, Confidence: 0.8,
		},
	}
	hour := &TimeframeContext{
		Timeframe: "1h",
		Regime: &regime.Result{
			Regime: regime.TrendingBullish, Direction: regime.DirectionBullish, Confidence: 0.7,
		},
		Momentum: &MomentumIndicators{
			RSI:     &rsi,
			RSIZone: "neutral",
			MACD:    &MACDState{Cross: regime.DirectionBullish, HistogramTrend: "rising"},
		},
		SupportResistance: &SupportResistance{
			Resistance: []LevelInfo{{Price: 196.2, Kind: "range_boundary", DistancePercent: 1.3}},
			Support:    []LevelInfo{{Price: 189.9, Kind: "swing_low", DistancePercent: 2}},
		},
	}
	report := &ContextReport{
		Symbol:     "AAPL",
		Timeframes: map[string]*TimeframeContext{"1d": day, "1h": hour},
		Alignment:  alignTimeframes([]*TimeframeContext{day, hour}, testAlignConfig()),
		Metadata:   ReportMetadata{Timeframes: []string{"1d", "1h"}},
	}

	story := Project(report)["narrative"].(map[string]any)
	assert.Equal(t, "rsi 61.3 neutral; macd bullish, histogram rising on 1h", story["momentum_phase"])
	assert.Equal(t, "resistance 196.2 (+1.30%), support 189.9 (-2.00%) on 1h", story["key_levels"])

	tfs := Project(report)["timeframes"].(map[string]any)
	block := tfs["1h"].(map[string]any)
	assert.Equal(t, "rsi 61.3 neutral; macd bullish, histogram rising", block["momentum"])
}

func TestProjectCrossTimeframeConflict(t *testing.T) {
	day := contextWith("1d", regime.TrendingBullish, regime.DirectionBullish, 0.8)
	four := contextWith("4h", regime.TrendingBearish, regime.DirectionBearish, 0.7)
	report := &ContextReport{
		Symbol:     "BTCUSDT",
		Timeframes: map[string]*TimeframeContext{"1d": day, "4h": four},
		Alignment:  alignTimeframes([]*TimeframeContext{day, four}, testAlignConfig()),
		Metadata:   ReportMetadata{Timeframes: []string{"1d", "4h"}},
	}

	out := Project(report)
	alignment := out["alignment"].(map[string]any)
	assert.Equal(t, "conflicting", alignment["strength"])

	details, ok := alignment["conflicts"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, details)

	story := out["narrative"].(map[string]any)
	assert.Equal(t, "conflicting signals: high-weight timeframes disagree on direction",
		story["cross_timeframe"])
}
