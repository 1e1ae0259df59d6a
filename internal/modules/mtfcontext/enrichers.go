package mtfcontext

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/indicators"
	"github.com/avramidis/skopos/internal/modules/regime"
	"github.com/avramidis/skopos/internal/utils"
)

// EMA ladder verdicts and price placement labels.
const (
	alignmentStackedBullish = "stacked_bullish"
	alignmentStackedBearish = "stacked_bearish"
	alignmentMixed          = "mixed"
	alignmentUnknown        = "unknown"

	positionAboveAll = "above_all"
	positionBelowAll = "below_all"
	positionInside   = "inside"

	psarBelowPrice = "below_price"
	psarAbovePrice = "above_price"
)

// rsiBiasBand is the dead zone around RSI 50 inside which the reading casts
// no directional vote, and the tolerance for the higher-timeframe comparison.
const rsiBiasBand = 5.0

// Bollinger width state needs this much history before it judges squeezes.
const (
	bbStateWindow     = 100
	bbStateMinSamples = 20
)

func movingAverages(price float64, b *seriesBundle) *MovingAverages {
	ma := &MovingAverages{}
	ordered := make([]float64, 0, len(emaPeriods))
	for _, period := range emaPeriods {
		v, ok := b.ema[period].LastValue()
		if !ok {
			continue
		}
		rounded := utils.Round8(v)
		switch period {
		case 9:
			ma.EMA9 = &rounded
		case 20:
			ma.EMA20 = &rounded
		case 50:
			ma.EMA50 = &rounded
		case 100:
			ma.EMA100 = &rounded
		case 200:
			ma.EMA200 = &rounded
		}
		ordered = append(ordered, v)
	}
	ma.Alignment = emaAlignment(ordered)
	ma.PricePosition = pricePosition(price, ordered)
	return ma
}

// emaAlignment classifies the ladder ordering. Values arrive shortest period
// first, so a strictly descending ladder is a bullish stack.
func emaAlignment(ordered []float64) string {
	if len(ordered) < 2 {
		return alignmentUnknown
	}
	bullish, bearish := true, true
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] <= ordered[i] {
			bullish = false
		}
		if ordered[i-1] >= ordered[i] {
			bearish = false
		}
	}
	switch {
	case bullish:
		return alignmentStackedBullish
	case bearish:
		return alignmentStackedBearish
	default:
		return alignmentMixed
	}
}

func pricePosition(price float64, ordered []float64) string {
	if len(ordered) == 0 {
		return alignmentUnknown
	}
	above, below := true, true
	for _, v := range ordered {
		if price <= v {
			above = false
		}
		if price >= v {
			below = false
		}
	}
	switch {
	case above:
		return positionAboveAll
	case below:
		return positionBelowAll
	default:
		return positionInside
	}
}

func trendIndicators(res *regime.Result, psar *indicators.Series, price float64) *TrendIndicators {
	ti := &TrendIndicators{
		ADX:      res.Components.ADX,
		PlusDI:   res.Components.PlusDI,
		MinusDI:  res.Components.MinusDI,
		Strength: adxStrength(res.Components.ADX, res.Thresholds.ADX),
	}
	if v, ok := psar.LastValue(); ok {
		side := psarBelowPrice
		if v > price {
			side = psarAbovePrice
		}
		ti.PSAR = &PSARState{Value: utils.Round8(v), Side: side}
	}
	return ti
}

// adxStrength grades ADX against the same adaptive bands the regime
// classified with, so the label never contradicts the regime class.
func adxStrength(adx float64, bands regime.ADXBands) string {
	switch {
	case adx >= bands.Strong:
		return "strong"
	case adx >= bands.Trending:
		return "trending"
	default:
		return "weak"
	}
}

func momentumIndicators(b *seriesBundle, carry carryDown) *MomentumIndicators {
	m := &MomentumIndicators{}
	if v, ok := b.rsi.LastValue(); ok {
		rounded := utils.Round2(v)
		m.RSI = &rounded
		m.RSIZone = rsiZone(v)
		if carry.rsi != nil {
			m.HigherTFRSI = carry.rsi
			m.RSIVsHigherTF = rsiVsHigher(v, *carry.rsi)
		}
	}
	if vals, ok := b.macd.LastComposite(); ok {
		state := &MACDState{
			MACD:      utils.Round4(vals["macd"]),
			Signal:    utils.Round4(vals["signal"]),
			Histogram: utils.Round4(vals["histogram"]),
			Cross:     regime.DirectionBearish,
		}
		if vals["macd"] >= vals["signal"] {
			state.Cross = regime.DirectionBullish
		}
		state.HistogramTrend = histogramTrend(b.macd)
		m.MACD = state
	}
	if m.RSI == nil && m.MACD == nil {
		return nil
	}
	return m
}

func rsiZone(v float64) string {
	switch {
	case v < 30:
		return "oversold"
	case v > 70:
		return "overbought"
	default:
		return "neutral"
	}
}

func rsiVsHigher(v, higher float64) string {
	switch diff := v - higher; {
	case diff > rsiBiasBand:
		return "above"
	case diff < -rsiBiasBand:
		return "below"
	default:
		return "in_line"
	}
}

func histogramTrend(macd *indicators.Series) string {
	if macd == nil || len(macd.Points) < 2 {
		return ""
	}
	cur := macd.Points[len(macd.Points)-1].Values
	prev := macd.Points[len(macd.Points)-2].Values
	if cur == nil || prev == nil {
		return ""
	}
	switch {
	case cur["histogram"] > prev["histogram"]:
		return "rising"
	case cur["histogram"] < prev["histogram"]:
		return "falling"
	default:
		return "flat"
	}
}

func volatilityIndicators(res *regime.Result, b *seriesBundle, price float64, carry carryDown) *VolatilityIndicators {
	v := &VolatilityIndicators{
		ATRRatio: res.Components.ATRRatio,
		State:    "normal",
	}
	if atr, ok := b.atr.LastValue(); ok {
		rounded := utils.Round8(atr)
		v.ATR = &rounded
		if price > 0 {
			pct := utils.Round2(atr / price * 100)
			v.ATRPercent = &pct
		}
	}
	if carry.atrRatio != nil {
		v.HigherTFATRRatio = carry.atrRatio
	}
	widths := bbWidths(b.bbands)
	if len(widths) > 0 {
		current := utils.Round4(widths[len(widths)-1])
		v.BBWidth = &current
		v.BBSqueeze, v.State = bbState(widths)
	}
	return v
}

// bbWidths extracts the normalized Bollinger band width for every point past
// warmup.
func bbWidths(s *indicators.Series) []float64 {
	if s == nil {
		return nil
	}
	widths := make([]float64, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Values == nil {
			continue
		}
		middle := p.Values["middle"]
		if middle <= 0 {
			continue
		}
		widths = append(widths, (p.Values["upper"]-p.Values["lower"])/middle)
	}
	return widths
}

// bbState places the current width inside its own recent distribution:
// bottom quartile is a squeeze, top quartile is expansion.
func bbState(widths []float64) (bool, string) {
	if len(widths) < bbStateMinSamples {
		return false, "normal"
	}
	window := widths
	if len(window) > bbStateWindow {
		window = window[len(window)-bbStateWindow:]
	}
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	lo := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	hi := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	current := widths[len(widths)-1]
	switch {
	case lo == hi:
		return false, "normal"
	case current <= lo:
		return true, "compressed"
	case current >= hi:
		return false, "expanding"
	default:
		return false, "normal"
	}
}

func volumeIndicators(res *regime.Result, b *seriesBundle, price float64) *VolumeIndicators {
	vi := &VolumeIndicators{}
	if va := res.VolumeAnalysis; va != nil {
		ratio := va.Ratio
		vi.Ratio = &ratio
		vi.Trend = va.Trend
		vi.Spike = va.Spike
	}
	vi.OBVTrend = obvTrend(b.obv)
	if v, ok := b.vwap.LastValue(); ok && v > 0 {
		vwap := utils.Round8(v)
		vi.VWAP = &vwap
		pct := utils.Round2((price - v) / v * 100)
		vi.VWAPDistancePercent = &pct
		vi.VWAPSide = "above"
		if price < v {
			vi.VWAPSide = "below"
		}
	}
	if vi.Ratio == nil && vi.OBVTrend == "" && vi.VWAP == nil {
		return nil
	}
	return vi
}

func obvTrend(s *indicators.Series) string {
	tail, ok := s.TailValues(obvTrendBars)
	if !ok {
		return ""
	}
	first, last := tail[0], tail[len(tail)-1]
	switch {
	case last > first:
		return "rising"
	case last < first:
		return "falling"
	default:
		return "flat"
	}
}

func priceAction(bars domain.BarSeries, depth string) *PriceAction {
	n := len(bars)
	last := bars[n-1]
	pa := &PriceAction{
		Close:     utils.Round8(last.Close),
		Structure: "neutral",
		LastBar:   barShape(last),
	}
	if n >= 2 {
		prev := bars[n-2].Close
		if prev > 0 {
			pa.ChangePercent = utils.Round2((last.Close - prev) / prev * 100)
		}
	}
	lookback := structureBars
	if n-1 < lookback {
		lookback = n - 1
	}
	if lookback >= 1 {
		base := bars[n-1-lookback].Close
		if base > 0 {
			change := (last.Close - base) / base
			pa.RecentChangePercent = utils.Round2(change * 100)
			switch {
			case change > 0.001:
				pa.Structure = "up"
			case change < -0.001:
				pa.Structure = "down"
			}
		}
	}
	if depth != DepthLight {
		window := rangeBars
		if n < window {
			window = n
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, b := range bars[n-window:] {
			lo = math.Min(lo, b.Low)
			hi = math.Max(hi, b.High)
		}
		if hi > lo {
			pos := utils.Round4(utils.Clamp((last.Close-lo)/(hi-lo), 0, 1))
			pa.RangePosition = &pos
		}
	}
	return pa
}

func barShape(b domain.Bar) string {
	rng := b.High - b.Low
	body := math.Abs(b.Close - b.Open)
	switch {
	case rng <= 0 || body <= 0.1*rng:
		return "doji"
	case b.Close >= b.Open:
		return "bullish"
	default:
		return "bearish"
	}
}

type levelCandidate struct {
	price float64
	kind  string
}

// supportResistance merges the regime's range bounds, the slow EMAs and the
// recent extremes into one level map around the current price. Candidates
// are offered strongest kind first so the dedupe keeps the better label.
func supportResistance(res *regime.Result, b *seriesBundle, price float64) *SupportResistance {
	if price <= 0 {
		return nil
	}
	var cands []levelCandidate
	if rb := res.RangeBounds; rb != nil {
		cands = append(cands,
			levelCandidate{rb.Resistance, "range_boundary"},
			levelCandidate{rb.Support, "range_boundary"},
		)
		for _, l := range rb.ExtraResistance {
			cands = append(cands, levelCandidate{l.Price, "swing_cluster"})
		}
		for _, l := range rb.ExtraSupport {
			cands = append(cands, levelCandidate{l.Price, "swing_cluster"})
		}
	}
	if v, ok := b.ema[50].LastValue(); ok {
		cands = append(cands, levelCandidate{v, "ema_50"})
	}
	if v, ok := b.ema[200].LastValue(); ok {
		cands = append(cands, levelCandidate{v, "ema_200"})
	}
	if n := len(b.bars); n > 0 {
		window := rangeBars
		if n < window {
			window = n
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, bar := range b.bars[n-window:] {
			lo = math.Min(lo, bar.Low)
			hi = math.Max(hi, bar.High)
		}
		cands = append(cands,
			levelCandidate{hi, "swing_high"},
			levelCandidate{lo, "swing_low"},
		)
	}

	sr := &SupportResistance{}
	for _, c := range cands {
		if c.price <= 0 {
			continue
		}
		if c.price >= price {
			sr.Resistance = appendLevel(sr.Resistance, c, price)
		} else {
			sr.Support = appendLevel(sr.Support, c, price)
		}
	}
	sort.Slice(sr.Resistance, func(i, j int) bool {
		return sr.Resistance[i].Price < sr.Resistance[j].Price
	})
	sort.Slice(sr.Support, func(i, j int) bool {
		return sr.Support[i].Price > sr.Support[j].Price
	})
	if len(sr.Resistance) > 4 {
		sr.Resistance = sr.Resistance[:4]
	}
	if len(sr.Support) > 4 {
		sr.Support = sr.Support[:4]
	}
	if len(sr.Resistance) == 0 && len(sr.Support) == 0 {
		return nil
	}
	return sr
}

// appendLevel adds a level unless one within 0.1% of price already exists.
func appendLevel(list []LevelInfo, c levelCandidate, price float64) []LevelInfo {
	for _, l := range list {
		if math.Abs(l.Price-c.price)/price < 0.001 {
			return list
		}
	}
	return append(list, LevelInfo{
		Price:           utils.Round8(c.price),
		Kind:            c.kind,
		DistancePercent: utils.Round2(math.Abs(c.price-price) / price * 100),
	})
}

// microPatterns scans the last few bars for simple candlestick patterns,
// most recent bar first. Several patterns may fire on the same bar.
func microPatterns(bars domain.BarSeries) []MicroPattern {
	n := len(bars)
	if n < 2 {
		return nil
	}
	start := n - patternBars
	if start < 1 {
		start = 1
	}
	var out []MicroPattern
	for i := n - 1; i >= start; i-- {
		out = append(out, patternsAt(bars[i], bars[i-1])...)
	}
	return out
}

func patternsAt(cur, prev domain.Bar) []MicroPattern {
	var out []MicroPattern
	body := math.Abs(cur.Close - cur.Open)
	rng := cur.High - cur.Low
	upper := cur.High - math.Max(cur.Open, cur.Close)
	lower := math.Min(cur.Open, cur.Close) - cur.Low
	prevBody := math.Abs(prev.Close - prev.Open)

	switch {
	case cur.Close > cur.Open && prev.Close < prev.Open &&
		cur.Open <= prev.Close && cur.Close >= prev.Open && body > prevBody:
		inv := utils.Round8(cur.Low)
		out = append(out, MicroPattern{
			Pattern: "bullish_engulfing", Confidence: 0.7,
			Implication: "bullish_reversal", Invalidation: &inv,
		})
	case cur.Close < cur.Open && prev.Close > prev.Open &&
		cur.Open >= prev.Close && cur.Close <= prev.Open && body > prevBody:
		inv := utils.Round8(cur.High)
		out = append(out, MicroPattern{
			Pattern: "bearish_engulfing", Confidence: 0.7,
			Implication: "bearish_reversal", Invalidation: &inv,
		})
	}
	if rng > 0 {
		switch {
		case body <= 0.1*rng:
			out = append(out, MicroPattern{
				Pattern: "doji", Confidence: 0.5, Implication: "indecision",
			})
		case body <= rng/3 && lower >= 2*body && upper <= body:
			inv := utils.Round8(cur.Low)
			out = append(out, MicroPattern{
				Pattern: "hammer", Confidence: 0.6,
				Implication: "bullish_reversal", Invalidation: &inv,
			})
		case body <= rng/3 && upper >= 2*body && lower <= body:
			inv := utils.Round8(cur.High)
			out = append(out, MicroPattern{
				Pattern: "shooting_star", Confidence: 0.6,
				Implication: "bearish_reversal", Invalidation: &inv,
			})
		}
	}
	if cur.High < prev.High && cur.Low > prev.Low {
		out = append(out, MicroPattern{
			Pattern: "inside_bar", Confidence: 0.5, Implication: "consolidation",
		})
	}
	return out
}

type vote struct {
	name      string
	direction string
}

// coherenceCheck compares the directional reads of the EMA ladder, the MACD
// cross, the PSAR side and the RSI bias. The EMA structure is the anchor
// when it is directional; divergences name the signals opposing the anchor.
func coherenceCheck(tc *TimeframeContext) *CoherenceCheck {
	var votes []vote
	if ma := tc.MovingAverages; ma != nil {
		switch ma.Alignment {
		case alignmentStackedBullish:
			votes = append(votes, vote{"ema_alignment", regime.DirectionBullish})
		case alignmentStackedBearish:
			votes = append(votes, vote{"ema_alignment", regime.DirectionBearish})
		}
	}
	if tc.Momentum != nil && tc.Momentum.MACD != nil {
		votes = append(votes, vote{"macd_cross", tc.Momentum.MACD.Cross})
	}
	if ti := tc.TrendIndicators; ti != nil && ti.PSAR != nil {
		dir := regime.DirectionBullish
		if ti.PSAR.Side == psarAbovePrice {
			dir = regime.DirectionBearish
		}
		votes = append(votes, vote{"psar_position", dir})
	}
	if tc.Momentum != nil && tc.Momentum.RSI != nil {
		switch rsi := *tc.Momentum.RSI; {
		case rsi >= 50+rsiBiasBand:
			votes = append(votes, vote{"rsi_bias", regime.DirectionBullish})
		case rsi <= 50-rsiBiasBand:
			votes = append(votes, vote{"rsi_bias", regime.DirectionBearish})
		}
	}

	if len(votes) < 2 {
		return &CoherenceCheck{Status: CoherenceInsufficient, Severity: SeverityNone}
	}
	var bull, bear int
	for _, v := range votes {
		if v.direction == regime.DirectionBullish {
			bull++
		} else {
			bear++
		}
	}
	if bull == 0 || bear == 0 {
		return &CoherenceCheck{Status: CoherenceCoherent, Severity: SeverityNone}
	}

	anchor := anchorDirection(votes, bull, bear)
	var divergences []string
	for _, v := range votes {
		if v.direction != anchor {
			divergences = append(divergences, v.name)
		}
	}
	severity := SeverityMedium
	if len(divergences) >= 2 {
		severity = SeverityHigh
	}
	return &CoherenceCheck{
		Status:      CoherenceDiverging,
		Divergences: divergences,
		Severity:    severity,
	}
}

func anchorDirection(votes []vote, bull, bear int) string {
	for _, v := range votes {
		if v.name == "ema_alignment" {
			return v.direction
		}
	}
	if bull > bear {
		return regime.DirectionBullish
	}
	if bear > bull {
		return regime.DirectionBearish
	}
	// Even split with no EMA structure: the MACD cross breaks the tie.
	for _, v := range votes {
		if v.name == "macd_cross" {
			return v.direction
		}
	}
	return regime.DirectionBullish
}

func summarize(tc *TimeframeContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (confidence %.2f)", tc.Timeframe, tc.Regime.Regime, tc.Regime.Confidence)
	if ma := tc.MovingAverages; ma != nil && ma.Alignment != alignmentUnknown {
		fmt.Fprintf(&b, ", emas %s", ma.Alignment)
	}
	if m := tc.Momentum; m != nil && m.RSI != nil {
		fmt.Fprintf(&b, ", rsi %.1f %s", *m.RSI, m.RSIZone)
	}
	if v := tc.Volatility; v != nil && v.BBSqueeze {
		b.WriteString(", bb squeeze")
	}
	return b.String()
}
