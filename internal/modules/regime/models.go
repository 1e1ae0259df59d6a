package regime

// Regime classes. The prefix (trending/range/breakout) selects the scoring
// rule set; the suffix is the directional sub-label.
const (
	TrendingBullish  = "trending_bullish"
	TrendingBearish  = "trending_bearish"
	TrendingNeutral  = "trending_neutral"
	RangeNormal      = "range_normal"
	RangeLowVol      = "range_low_vol"
	RangeHighVol     = "range_high_vol"
	RangeDirectional = "range_directional"
	BreakoutBullish  = "breakout_bullish"
	BreakoutBearish  = "breakout_bearish"
	BreakoutNeutral  = "breakout_neutral"
)

// Direction labels.
const (
	DirectionBullish = "bullish"
	DirectionBearish = "bearish"
	DirectionNeutral = "neutral"
)

// Trend phases derived from the ADX slope.
const (
	PhaseNascent   = "nascent"
	PhaseMature    = "mature"
	PhaseExhausted = "exhausted"
	PhaseUnknown   = "unknown"
)

// Result is the full output of one detection. Field names are part of the
// API; consumers may ignore unknown fields but existing ones never move.
type Result struct {
	Regime          string           `json:"regime"`
	Direction       string           `json:"direction"`
	Confidence      float64          `json:"confidence"`
	Components      Components       `json:"components"`
	Thresholds      Thresholds       `json:"thresholds"`
	TrendPhase      TrendPhase       `json:"trend_phase"`
	VolumeAnalysis  *VolumeAnalysis  `json:"volume_analysis,omitempty"`
	Compression     *Compression     `json:"compression,omitempty"`
	BreakoutQuality *BreakoutQuality `json:"breakout_quality,omitempty"`
	RangeBounds     *RangeBounds     `json:"range_bounds,omitempty"`
	ScoringDetails  ScoringDetails   `json:"scoring_details"`
	Metadata        Metadata         `json:"metadata"`
}

// Components carries the current-bar indicator values the classification ran
// on. ADX, ±DI and EMAs are rounded to 2 decimals, ER and the ATR ratio to 4.
type Components struct {
	ADX             float64            `json:"adx"`
	PlusDI          float64            `json:"plus_di"`
	MinusDI         float64            `json:"minus_di"`
	EfficiencyRatio float64            `json:"efficiency_ratio"`
	ATRRatio        float64            `json:"atr_ratio"`
	Direction       DirectionComponent `json:"direction"`
}

// DirectionComponent is the EMA-ordering verdict with its strength.
type DirectionComponent struct {
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
	EMAShort  float64 `json:"ema_short"`
	EMALong   float64 `json:"ema_long"`
}

// Thresholds are the adaptive bands one detection classified against.
type Thresholds struct {
	ADX         ADXBands    `json:"adx"`
	ER          ERBands     `json:"er"`
	ATRRatio    ATRBands    `json:"atr_ratio"`
	Adjustments Adjustments `json:"adjustments"`
}

// ADXBands splits ADX into weak / trending / strong regions.
type ADXBands struct {
	Weak     float64 `json:"weak"`
	Trending float64 `json:"trending"`
	Strong   float64 `json:"strong"`
}

// ERBands splits the efficiency ratio into choppy / trending regions.
type ERBands struct {
	Choppy   float64 `json:"choppy"`
	Trending float64 `json:"trending"`
}

// ATRBands brackets the ATR ratio between compression and expansion.
type ATRBands struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Adjustments records the scaling factors behind the bands.
type Adjustments struct {
	Timeframe  float64 `json:"timeframe"`
	Volatility float64 `json:"volatility"`
	Combined   float64 `json:"combined"`
}

// TrendPhase is the ADX slope classification.
type TrendPhase struct {
	ADXSlope float64 `json:"adx_slope"`
	Phase    string  `json:"phase"`
}

// VolumeAnalysis summarises recent volume behaviour. Confirms means a spike
// on a rising trend, the strongest breakout endorsement.
type VolumeAnalysis struct {
	Ratio    float64 `json:"ratio"`
	Average  float64 `json:"average"`
	Spike    bool    `json:"spike"`
	Trend    string  `json:"trend"`
	Slope    float64 `json:"slope"`
	Confirms bool    `json:"confirms"`
}

// Compression reports how much of the recent ATR-ratio history sat below the
// compression threshold.
type Compression struct {
	Detected bool    `json:"detected"`
	Ratio    float64 `json:"ratio"`
	MinRatio float64 `json:"min_ratio"`
	Window   int     `json:"window"`
}

// BreakoutQuality grades a breakout by its supporting factors.
type BreakoutQuality struct {
	Score   int      `json:"score"`
	Grade   string   `json:"grade"`
	Factors []string `json:"factors"`
}

// Level is one support/resistance cluster beyond the primary pair.
type Level struct {
	Price   float64 `json:"price"`
	Touches int     `json:"touches"`
}

// RangeBounds are the selected support/resistance levels for range regimes.
type RangeBounds struct {
	Support         float64 `json:"support"`
	Resistance      float64 `json:"resistance"`
	Width           float64 `json:"width"`
	WidthATR        float64 `json:"width_atr"`
	Position        float64 `json:"position"`
	Proximity       string  `json:"proximity"`
	Strength        string  `json:"strength"`
	Touches         int     `json:"touches"`
	Method          string  `json:"method"`
	ExtraResistance []Level `json:"extra_resistance,omitempty"`
	ExtraSupport    []Level `json:"extra_support,omitempty"`
}

// ScoringDetails breaks the confidence down into its sub-scores.
type ScoringDetails struct {
	RegimeClarity  float64 `json:"regime_clarity"`
	ERScore        float64 `json:"er_score"`
	DirectionScore float64 `json:"direction_score"`
	Coherence      float64 `json:"coherence"`
	PhaseBonus     float64 `json:"phase_bonus"`
}

// Metadata identifies one detection run.
type Metadata struct {
	AnalysisID    string `json:"analysis_id"`
	Symbol        string `json:"symbol"`
	Timeframe     string `json:"timeframe"`
	Bars          int    `json:"bars"`
	DurationMs    int64  `json:"duration_ms"`
	Source        string `json:"source"`
	ReferenceDate *int64 `json:"reference_date,omitempty"`
}

// group maps a regime class onto its scoring family.
func group(class string) string {
	switch class {
	case TrendingBullish, TrendingBearish, TrendingNeutral:
		return "trending"
	case BreakoutBullish, BreakoutBearish, BreakoutNeutral:
		return "breakout"
	default:
		return "range"
	}
}

// Class reports the regime family for a class name; it is used by consumers
// that only care about trending/range/breakout.
func Class(regime string) string {
	return group(regime)
}
