package regime

import (
	"gonum.org/v1/gonum/stat"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/utils"
)

// Normalized volume slope below this is treated as flat.
const volumeTrendThreshold = 0.01

// analyzeVolume summarises the last period volumes: ratio of the current bar
// to the window average, spike flag, and the regression trend. Returns nil
// when the window is too short or the market traded nothing; volume analysis
// is optional evidence, not a hard requirement.
func analyzeVolume(bars domain.BarSeries, period int, spikeThreshold float64) *VolumeAnalysis {
	volumes := bars.Volumes()
	if len(volumes) < period || period < 2 {
		return nil
	}
	window := volumes[len(volumes)-period:]

	average := stat.Mean(window, nil)
	if average <= 0 {
		return nil
	}
	current := window[len(window)-1]
	ratio := current / average

	xs := make([]float64, len(window))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, window, nil, false)
	normalized := slope / average

	trend := "stable"
	switch {
	case normalized > volumeTrendThreshold:
		trend = "rising"
	case normalized < -volumeTrendThreshold:
		trend = "falling"
	}

	spike := ratio > spikeThreshold
	return &VolumeAnalysis{
		Ratio:    utils.Round4(ratio),
		Average:  utils.Round2(average),
		Spike:    spike,
		Trend:    trend,
		Slope:    utils.Round4(normalized),
		Confirms: spike && trend == "rising",
	}
}
