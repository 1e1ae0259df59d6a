package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/avramidis/skopos/internal/testing"
)

func TestComputeRangeBoundsClusters(t *testing.T) {
	// A clean 8-bar triangle: swing highs at 103.45, swing lows at 96.55,
	// touched twice per cycle.
	bars := testingpkg.RangingBars(120, 100, 3)
	bounds := computeRangeBounds(bars, 1.0)
	require.NotNil(t, bounds)

	assert.Equal(t, "swing_clusters", bounds.Method)
	assert.InDelta(t, 103.45, bounds.Resistance, 0.01)
	assert.InDelta(t, 96.55, bounds.Support, 0.01)
	assert.InDelta(t, 6.9, bounds.Width, 0.05)
	assert.GreaterOrEqual(t, bounds.Touches, 6)
	assert.Equal(t, "strong", bounds.Strength)

	// The series ends on a falling leg at 98.5, low in the range.
	assert.Equal(t, "lower_half", bounds.Proximity)
	assert.GreaterOrEqual(t, bounds.Position, 0.0)
	assert.LessOrEqual(t, bounds.Position, 1.0)
	assert.Empty(t, bounds.ExtraResistance)
	assert.Empty(t, bounds.ExtraSupport)
}

func TestComputeRangeBoundsNearSupport(t *testing.T) {
	// 121 bars end on the triangle trough: price 97, support 96.55.
	bars := testingpkg.RangingBars(121, 100, 3)
	bounds := computeRangeBounds(bars, 1.0)
	require.NotNil(t, bounds)
	assert.Equal(t, "near_support", bounds.Proximity)
}

func TestComputeRangeBoundsFallbackWithoutSwings(t *testing.T) {
	// A monotone climb has no local extremes to cluster.
	bars := testingpkg.TrendingBars(40, 100, 1)
	bounds := computeRangeBounds(bars, 1.0)
	require.NotNil(t, bounds)

	assert.Equal(t, "minmax_fallback", bounds.Method)
	assert.Equal(t, "weak", bounds.Strength)
	assert.Equal(t, "near_resistance", bounds.Proximity)
	assert.Less(t, bounds.Support, bounds.Resistance)
}

func TestComputeRangeBoundsFlatWindow(t *testing.T) {
	bars := testingpkg.RangingBars(30, 100, 0)
	bounds := computeRangeBounds(bars, 1.0)
	require.NotNil(t, bounds)

	assert.Equal(t, "minmax_fallback", bounds.Method)
	assert.Equal(t, 0.5, bounds.Position)
	assert.Equal(t, "middle", bounds.Proximity)
	assert.Equal(t, "weak", bounds.Strength)
}

func TestComputeRangeBoundsDegenerateInput(t *testing.T) {
	assert.Nil(t, computeRangeBounds(nil, 1.0))
	assert.Nil(t, computeRangeBounds(testingpkg.RangingBars(30, 100, 3), 0))
}

func TestPickLevelPreference(t *testing.T) {
	clusters := []levelCluster{
		{avg: 101, touches: 1},
		{avg: 103, touches: 3},
		{avg: 95, touches: 1},
		{avg: 92, touches: 4},
	}

	resistance, ok := pickResistance(clusters, 100)
	require.True(t, ok)
	// The closer 101 level has a single touch; 103 is better established.
	assert.Equal(t, 103.0, resistance.avg)

	support, ok := pickSupport(clusters, 100)
	require.True(t, ok)
	assert.Equal(t, 92.0, support.avg)
}

func TestPickLevelFallsBackAcrossPrice(t *testing.T) {
	below := []levelCluster{{avg: 95, touches: 2}, {avg: 90, touches: 1}}
	resistance, ok := pickResistance(below, 100)
	require.True(t, ok)
	assert.Equal(t, 95.0, resistance.avg) // highest available

	above := []levelCluster{{avg: 105, touches: 2}, {avg: 110, touches: 1}}
	support, ok := pickSupport(above, 100)
	require.True(t, ok)
	assert.Equal(t, 105.0, support.avg) // lowest available

	_, ok = pickResistance(nil, 100)
	assert.False(t, ok)
}

func TestExtraLevels(t *testing.T) {
	clusters := []levelCluster{
		{avg: 105, touches: 3},
		{avg: 110, touches: 2},
		{avg: 115, touches: 1},
		{avg: 120, touches: 4},
		{avg: 125, touches: 1},
		{avg: 95, touches: 2},
	}

	above := extraLevels(clusters, 100, 105, true)
	require.Len(t, above, 3) // capped, primary excluded
	assert.Equal(t, 110.0, above[0].Price)
	assert.Equal(t, 115.0, above[1].Price)
	assert.Equal(t, 120.0, above[2].Price)

	below := extraLevels(clusters, 100, 95, false)
	assert.Empty(t, below)
}

func TestClusterSwings(t *testing.T) {
	swings := []swingPoint{
		{price: 100.0, index: 10},
		{price: 100.3, index: 25},
		{price: 100.2, index: 40}, // same level, three touches
		{price: 104.0, index: 18},
		{price: 104.4, index: 33}, // second level, two touches
		{price: 110.0, index: 50},
	}
	clusters := clusterSwings(swings, 1.0) // tolerance 0.5

	require.Len(t, clusters, 3)
	assert.Equal(t, 3, clusters[0].touches)
	assert.InDelta(t, 100.17, clusters[0].avg, 0.01)
	assert.Equal(t, 2, clusters[1].touches)
	assert.Equal(t, 1, clusters[2].touches)
	assert.Equal(t, 10, clusters[0].first)
	assert.Equal(t, 40, clusters[0].last)
}
