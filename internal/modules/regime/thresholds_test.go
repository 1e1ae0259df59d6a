package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// flatRatios returns n copies of value with the last element replaced, a
// convenient way to steer the current/median relationship.
func flatRatios(n int, value, last float64) []float64 {
	ratios := make([]float64, n)
	for i := range ratios {
		ratios[i] = value
	}
	ratios[n-1] = last
	return ratios
}

func TestComputeThresholdsBaseline(t *testing.T) {
	th := computeThresholds(testRegimeConfig(), "1h", nil)

	assert.Equal(t, 20.0, th.ADX.Weak)
	assert.Equal(t, 25.0, th.ADX.Trending)
	assert.Equal(t, 40.0, th.ADX.Strong)
	assert.Equal(t, 0.3, th.ER.Choppy)
	assert.Equal(t, 0.5, th.ER.Trending)
	assert.Equal(t, 0.8, th.ATRRatio.Low)
	assert.Equal(t, 1.2, th.ATRRatio.High)
	assert.Equal(t, 1.0, th.Adjustments.Timeframe)
	assert.Equal(t, 1.0, th.Adjustments.Volatility)
}

func TestComputeThresholdsTimeframeScaling(t *testing.T) {
	cfg := testRegimeConfig()

	m5 := computeThresholds(cfg, "5m", nil)
	h1 := computeThresholds(cfg, "1h", nil)
	d1 := computeThresholds(cfg, "1d", nil)

	// Noisier timeframes demand more ADX before calling a trend.
	assert.Greater(t, m5.ADX.Trending, h1.ADX.Trending)
	assert.Greater(t, h1.ADX.Trending, d1.ADX.Trending)
	assert.Greater(t, m5.ER.Trending, d1.ER.Trending)

	// The ATR bands ignore the timeframe.
	assert.Equal(t, h1.ATRRatio, m5.ATRRatio)

	// An unknown timeframe falls back to the neutral multiplier.
	unknown := computeThresholds(cfg, "42h", nil)
	assert.Equal(t, 1.0, unknown.Adjustments.Timeframe)
}

func TestComputeThresholdsVolatileMarket(t *testing.T) {
	cfg := testRegimeConfig()
	// Current ratio 60% above its median.
	th := computeThresholds(cfg, "1h", flatRatios(30, 1.0, 1.6))

	assert.Equal(t, 1.3, th.Adjustments.Volatility) // 0.5 + 0.5*1.6
	assert.Equal(t, 1.2, th.Adjustments.Combined)   // ADX effect capped

	assert.Equal(t, 30.0, th.ADX.Trending)
	// Expansion is already priced in, so the ATR bands tighten downward.
	assert.Less(t, th.ATRRatio.Low, 0.8)
	assert.Less(t, th.ATRRatio.High, 1.2)
	assert.GreaterOrEqual(t, th.ATRRatio.High, 1.0)

	// ER bands react to the timeframe only.
	assert.Equal(t, 0.3, th.ER.Choppy)
	assert.Equal(t, 0.5, th.ER.Trending)
}

func TestComputeThresholdsQuietMarket(t *testing.T) {
	cfg := testRegimeConfig()
	// Current ratio at half its median.
	th := computeThresholds(cfg, "1h", flatRatios(30, 1.0, 0.5))

	assert.Equal(t, 0.75, th.Adjustments.Volatility)
	assert.Less(t, th.ADX.Trending, 25.0)
	// A quiet market needs a genuinely unusual ratio to read as expansion.
	assert.Greater(t, th.ATRRatio.Low, 0.8)
	assert.Greater(t, th.ATRRatio.High, 1.2)
}

func TestComputeThresholdsMinSamplesGate(t *testing.T) {
	cfg := testRegimeConfig()

	// 19 samples are one short of the gate: the multiplier stays neutral.
	th := computeThresholds(cfg, "1h", flatRatios(19, 1.0, 3.0))
	assert.Equal(t, 1.0, th.Adjustments.Volatility)

	th = computeThresholds(cfg, "1h", flatRatios(20, 1.0, 3.0))
	assert.NotEqual(t, 1.0, th.Adjustments.Volatility)
}

func TestComputeThresholdsClamps(t *testing.T) {
	cfg := testRegimeConfig()
	// An absurd spike relative to the median pins the multiplier at its cap.
	th := computeThresholds(cfg, "1m", flatRatios(40, 0.5, 5.0))

	assert.Equal(t, 1.5, th.Adjustments.Volatility)
	// 1m multiplies by 1.3 and the volatility cap adds 1.2: 25*1.56 and
	// 40*1.56 both overshoot their bands.
	assert.Equal(t, 35.0, th.ADX.Trending)
	assert.Equal(t, 50.0, th.ADX.Strong)
	assert.LessOrEqual(t, th.ADX.Weak, 35.0)
	assert.LessOrEqual(t, th.ER.Trending, 0.8)
	assert.GreaterOrEqual(t, th.ATRRatio.Low, 0.3)
	assert.GreaterOrEqual(t, th.ATRRatio.High, 1.0)
}

func TestComputeThresholdsWideFormula(t *testing.T) {
	balanced := testRegimeConfig()
	wide := testRegimeConfig()
	wide.VolatilityFormula = "wide"

	ratios := flatRatios(30, 1.0, 1.4)
	b := computeThresholds(balanced, "1h", ratios)
	w := computeThresholds(wide, "1h", ratios)

	// The wide formula reacts more to the same volatility move.
	assert.Greater(t, w.Adjustments.Volatility, b.Adjustments.Volatility)
}

func TestComputeThresholdsOrderingInvariant(t *testing.T) {
	cfg := testRegimeConfig()
	timeframes := []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}
	histories := [][]float64{
		nil,
		flatRatios(30, 1.0, 0.4),
		flatRatios(30, 1.0, 1.0),
		flatRatios(30, 1.0, 2.5),
		flatRatios(120, 0.6, 1.8),
	}

	for _, tf := range timeframes {
		for _, ratios := range histories {
			th := computeThresholds(cfg, tf, ratios)
			assert.LessOrEqual(t, th.ADX.Weak, th.ADX.Trending, "tf %s", tf)
			assert.LessOrEqual(t, th.ADX.Trending, th.ADX.Strong, "tf %s", tf)
			assert.LessOrEqual(t, th.ER.Choppy, th.ER.Trending, "tf %s", tf)
			assert.Less(t, th.ATRRatio.Low, th.ATRRatio.High, "tf %s", tf)
			assert.GreaterOrEqual(t, th.Adjustments.Volatility, cfg.VolatilityMin)
			assert.LessOrEqual(t, th.Adjustments.Volatility, cfg.VolatilityMax)
		}
	}
}
