package mtfcontext

import (
	"time"

	"github.com/avramidis/skopos/internal/modules/regime"
)

// Analysis depth levels. Longer timeframes carry the macro picture and get
// lighter enrichment; intraday timeframes get the full treatment.
const (
	DepthLight  = "light"
	DepthMedium = "medium"
	DepthFull   = "full"
)

// Timeframe roles as requested by the caller.
const (
	RoleLong   = "long"
	RoleMedium = "medium"
	RoleShort  = "short"
)

// Timeframes maps the requested roles to timeframe codes. Every field is
// optional but at least one must be set.
type Timeframes struct {
	Long   *string `json:"long,omitempty"`
	Medium *string `json:"medium,omitempty"`
	Short  *string `json:"short,omitempty"`
}

// Request describes one multi-timeframe context analysis.
type Request struct {
	Symbol           string
	Timeframes       Timeframes
	ReferenceDate    *time.Time
	IncludeNarrative bool
	Source           string
	SkipCache        bool
}

// TimeframeContext is the enriched analysis of one timeframe. Blocks beyond
// the regime, moving averages and price action appear only at medium/full
// depth; micro patterns only at full depth. Indicator fields are pointers
// because a short bar budget can leave the longer lookbacks in warmup.
type TimeframeContext struct {
	Timeframe         string                 `json:"timeframe"`
	Role              string                 `json:"role"`
	Depth             string                 `json:"depth"`
	BarsRequested     int                    `json:"bars_requested"`
	BarsAnalyzed      int                    `json:"bars_analyzed"`
	Regime            *regime.Result         `json:"regime"`
	MovingAverages    *MovingAverages        `json:"moving_averages,omitempty"`
	TrendIndicators   *TrendIndicators       `json:"trend_indicators,omitempty"`
	Momentum          *MomentumIndicators    `json:"momentum_indicators,omitempty"`
	Volatility        *VolatilityIndicators  `json:"volatility_indicators,omitempty"`
	Volume            *VolumeIndicators      `json:"volume_indicators,omitempty"`
	PriceAction       *PriceAction           `json:"price_action,omitempty"`
	SupportResistance *SupportResistance     `json:"support_resistance,omitempty"`
	MicroPatterns     []MicroPattern         `json:"micro_patterns,omitempty"`
	CoherenceCheck    *CoherenceCheck        `json:"coherence_check,omitempty"`
	Summary           string                 `json:"summary"`
}

// MovingAverages is the EMA ladder with its ordering verdict.
type MovingAverages struct {
	EMA9          *float64 `json:"ema_9,omitempty"`
	EMA20         *float64 `json:"ema_20,omitempty"`
	EMA50         *float64 `json:"ema_50,omitempty"`
	EMA100        *float64 `json:"ema_100,omitempty"`
	EMA200        *float64 `json:"ema_200,omitempty"`
	Alignment     string   `json:"alignment"`
	PricePosition string   `json:"price_position"`
}

// TrendIndicators carries the directional-movement snapshot the regime ran
// on, plus the PSAR side at medium/full depth.
type TrendIndicators struct {
	ADX      float64    `json:"adx"`
	PlusDI   float64    `json:"plus_di"`
	MinusDI  float64    `json:"minus_di"`
	Strength string     `json:"strength"`
	PSAR     *PSARState `json:"psar,omitempty"`
}

// PSARState is the parabolic stop-and-reverse value relative to price.
type PSARState struct {
	Value float64 `json:"value"`
	Side  string  `json:"side"`
}

// MomentumIndicators holds RSI and MACD state, with the higher-timeframe RSI
// carried down for comparison when one was computed.
type MomentumIndicators struct {
	RSI            *float64   `json:"rsi,omitempty"`
	RSIZone        string     `json:"rsi_zone,omitempty"`
	HigherTFRSI    *float64   `json:"higher_tf_rsi,omitempty"`
	RSIVsHigherTF  string     `json:"rsi_vs_higher_tf,omitempty"`
	MACD           *MACDState `json:"macd,omitempty"`
}

// MACDState is the MACD line set with its cross side and histogram drift.
type MACDState struct {
	MACD           float64 `json:"macd"`
	Signal         float64 `json:"signal"`
	Histogram      float64 `json:"histogram"`
	Cross          string  `json:"cross"`
	HistogramTrend string  `json:"histogram_trend,omitempty"`
}

// VolatilityIndicators combines ATR readings with the Bollinger width state.
type VolatilityIndicators struct {
	ATR              *float64 `json:"atr,omitempty"`
	ATRPercent       *float64 `json:"atr_percent,omitempty"`
	ATRRatio         float64  `json:"atr_ratio"`
	HigherTFATRRatio *float64 `json:"higher_tf_atr_ratio,omitempty"`
	BBWidth          *float64 `json:"bb_width,omitempty"`
	BBSqueeze        bool     `json:"bb_squeeze"`
	State            string   `json:"state"`
}

// VolumeIndicators reuses the regime's volume analysis and adds OBV and VWAP
// placement.
type VolumeIndicators struct {
	Ratio               *float64 `json:"ratio,omitempty"`
	Trend               string   `json:"trend,omitempty"`
	Spike               bool     `json:"spike"`
	OBVTrend            string   `json:"obv_trend,omitempty"`
	VWAP                *float64 `json:"vwap,omitempty"`
	VWAPDistancePercent *float64 `json:"vwap_distance_percent,omitempty"`
	VWAPSide            string   `json:"vwap_side,omitempty"`
}

// PriceAction summarises the recent tape. RangePosition is filled at
// medium/full depth only.
type PriceAction struct {
	Close               float64  `json:"close"`
	ChangePercent       float64  `json:"change_percent"`
	RecentChangePercent float64  `json:"recent_change_percent"`
	Structure           string   `json:"structure"`
	LastBar             string   `json:"last_bar"`
	RangePosition       *float64 `json:"range_position,omitempty"`
}

// SupportResistance lists price levels around the current close, nearest
// first on each side.
type SupportResistance struct {
	Resistance []LevelInfo `json:"resistance,omitempty"`
	Support    []LevelInfo `json:"support,omitempty"`
}

// LevelInfo is one support/resistance level with its origin.
type LevelInfo struct {
	Price           float64 `json:"price"`
	Kind            string  `json:"kind"`
	DistancePercent float64 `json:"distance_percent"`
}

// MicroPattern is one candlestick pattern found on the recent bars.
type MicroPattern struct {
	Pattern      string   `json:"pattern"`
	Confidence   float64  `json:"confidence"`
	Implication  string   `json:"implication"`
	Invalidation *float64 `json:"invalidation,omitempty"`
}

// CoherenceCheck reports whether the timeframe's indicators tell one story.
type CoherenceCheck struct {
	Status      string   `json:"status"`
	Divergences []string `json:"divergences,omitempty"`
	Severity    string   `json:"severity"`
}

// Coherence statuses and severities.
const (
	CoherenceCoherent     = "coherent"
	CoherenceDiverging    = "diverging"
	CoherenceInsufficient = "insufficient_data"

	SeverityNone   = "none"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Signal is one timeframe's vote in the alignment aggregation.
type Signal struct {
	Timeframe  string  `json:"timeframe"`
	Class      string  `json:"class"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// Conflict flags disagreement between timeframe signals.
type Conflict struct {
	Kind       string   `json:"kind"`
	Severity   string   `json:"severity"`
	Detail     string   `json:"detail"`
	Timeframes []string `json:"timeframes,omitempty"`
}

// Conflict kinds and severities.
const (
	ConflictHighTimeframe  = "high_timeframe_conflict"
	ConflictDirectional    = "directional_conflict"
	ConflictHTFDivergence  = "htf_ltf_divergence"

	ConflictSeverityHigh     = "high"
	ConflictSeverityModerate = "moderate"
	ConflictSeverityLow      = "low"
)

// Alignment quality grades.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// AlignmentReport is the weighted cross-timeframe vote.
type AlignmentReport struct {
	Signals           []Signal           `json:"signals"`
	AlignmentScore    float64            `json:"alignment_score"`
	DominantDirection string             `json:"dominant_direction"`
	WeightedScores    map[string]float64 `json:"weighted_scores"`
	Conflicts         []Conflict         `json:"conflicts,omitempty"`
	Quality           string             `json:"quality"`
}

// ReportMetadata identifies one context run.
type ReportMetadata struct {
	AnalysisID    string   `json:"analysis_id"`
	Symbol        string   `json:"symbol"`
	Timeframes    []string `json:"timeframes"`
	DurationMs    int64    `json:"duration_ms"`
	Source        string   `json:"source"`
	ReferenceDate *int64   `json:"reference_date,omitempty"`
}

// ContextReport is the full multi-timeframe output. Timeframes that failed
// are reported under Errors and excluded from the alignment.
type ContextReport struct {
	Symbol     string                       `json:"symbol"`
	Timeframes map[string]*TimeframeContext `json:"timeframes"`
	Alignment  *AlignmentReport             `json:"alignment,omitempty"`
	Errors     map[string]string            `json:"errors,omitempty"`
	Narrative  map[string]any               `json:"narrative,omitempty"`
	Metadata   ReportMetadata               `json:"metadata"`
}
