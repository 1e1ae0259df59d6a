package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/skopos/internal/domain"
)

func volumeBars(volumes ...float64) domain.BarSeries {
	bars := make(domain.BarSeries, len(volumes))
	for i, v := range volumes {
		bars[i] = domain.Bar{Timestamp: int64(i), Close: 100, Volume: v}
	}
	return bars
}

func constantVolumes(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAnalyzeVolumeStable(t *testing.T) {
	vol := analyzeVolume(volumeBars(constantVolumes(20, 1000)...), 20, 1.5)
	require.NotNil(t, vol)

	assert.Equal(t, 1.0, vol.Ratio)
	assert.Equal(t, 1000.0, vol.Average)
	assert.False(t, vol.Spike)
	assert.Equal(t, "stable", vol.Trend)
	assert.False(t, vol.Confirms)
}

func TestAnalyzeVolumeRisingWithoutSpike(t *testing.T) {
	volumes := make([]float64, 20)
	for i := range volumes {
		volumes[i] = 100 + 10*float64(i)
	}
	vol := analyzeVolume(volumeBars(volumes...), 20, 1.5)
	require.NotNil(t, vol)

	assert.Equal(t, "rising", vol.Trend)
	assert.False(t, vol.Spike) // ratio ~1.49 stays under the bar
	assert.False(t, vol.Confirms)
}

func TestAnalyzeVolumeConfirmsBreakout(t *testing.T) {
	volumes := append(constantVolumes(19, 1000), 2500)
	vol := analyzeVolume(volumeBars(volumes...), 20, 1.5)
	require.NotNil(t, vol)

	assert.True(t, vol.Spike)
	assert.Equal(t, "rising", vol.Trend)
	assert.True(t, vol.Confirms)
	assert.InDelta(t, 2.3256, vol.Ratio, 0.001)
}

func TestAnalyzeVolumeSpikeAgainstFallingTrend(t *testing.T) {
	volumes := make([]float64, 0, 20)
	for i := 0; i < 19; i++ {
		volumes = append(volumes, 2000-100*float64(i))
	}
	volumes = append(volumes, 5000)
	vol := analyzeVolume(volumeBars(volumes...), 20, 1.5)
	require.NotNil(t, vol)

	assert.True(t, vol.Spike)
	assert.Equal(t, "falling", vol.Trend)
	assert.False(t, vol.Confirms)
}

func TestAnalyzeVolumeOnlyRecentWindowCounts(t *testing.T) {
	// Heavy old volume followed by a quiet recent window.
	volumes := append(constantVolumes(30, 9000), constantVolumes(20, 500)...)
	vol := analyzeVolume(volumeBars(volumes...), 20, 1.5)
	require.NotNil(t, vol)

	assert.Equal(t, 500.0, vol.Average)
	assert.Equal(t, 1.0, vol.Ratio)
}

func TestAnalyzeVolumeDegenerateInput(t *testing.T) {
	assert.Nil(t, analyzeVolume(volumeBars(constantVolumes(10, 1000)...), 20, 1.5))
	assert.Nil(t, analyzeVolume(volumeBars(1000), 1, 1.5))
	assert.Nil(t, analyzeVolume(volumeBars(constantVolumes(20, 0)...), 20, 1.5))
	assert.Nil(t, analyzeVolume(nil, 20, 1.5))
}
