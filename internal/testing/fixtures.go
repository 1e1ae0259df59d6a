// Package testing provides deterministic market fixtures and mock adapters
// shared by module tests. Import it aliased (testingpkg) to avoid shadowing
// the standard library.
package testing

import (
	"math"

	"github.com/avramidis/skopos/internal/domain"
)

// Anchor is the open time of bar zero in every generated series.
const Anchor int64 = 1_700_000_000_000

const hourMs int64 = 3_600_000

// HourlyTimestamp returns the open time of generated hourly bar i.
func HourlyTimestamp(i int) int64 {
	return Anchor + int64(i)*hourMs
}

// TrendingBars builds n hourly bars whose closes move by step each bar
// (negative step trends down), with a small repeating wiggle so ranges are
// realistic. Volume stays near 1000.
func TrendingBars(n int, start, step float64) domain.BarSeries {
	bars := make(domain.BarSeries, 0, n)
	prev := start
	for i := 0; i < n; i++ {
		c := start + step*float64(i+1)
		wiggle := math.Abs(step) * (0.2 + 0.1*float64(i%3))
		bars = append(bars, makeBar(i, prev, c, wiggle, 1000+20*float64(i%5)))
		prev = c
	}
	return bars
}

// RangingBars builds n hourly bars oscillating around center on an 8-bar
// triangle of the given amplitude.
func RangingBars(n int, center, amplitude float64) domain.BarSeries {
	bars := make(domain.BarSeries, 0, n)
	prev := center + amplitude*triangle(0)
	for i := 0; i < n; i++ {
		c := center + amplitude*triangle(i)
		bars = append(bars, makeBar(i, prev, c, amplitude*0.15, 1000+15*float64(i%4)))
		prev = c
	}
	return bars
}

// CompressingBars builds a ranging series whose swing amplitude decays about
// 3% per bar. The decay is exponential so the short ATR runs a steady ~0.6 of
// the long one for the whole series, well inside compression territory.
func CompressingBars(n int, center, amplitude float64) domain.BarSeries {
	bars := make(domain.BarSeries, 0, n)
	prev := center + amplitude*triangle(0)
	for i := 0; i < n; i++ {
		amp := amplitude * math.Exp(-0.03*float64(i))
		c := center + amp*triangle(i)
		bars = append(bars, makeBar(i, prev, c, amp*0.15, 1000+10*float64(i%4)))
		prev = c
	}
	return bars
}

// BreakoutBars builds a series that ranges, squeezes into a quiet shelf and
// then breaks out with five thrust bars of expanding range and rising volume.
// The shelf is long enough for the short ATR to settle near the shrunken
// ranges, so the thrust reads as genuine expansion out of compression. up
// selects the thrust direction.
func BreakoutBars(n int, base, amplitude float64, up bool) domain.BarSeries {
	const thrust = 5
	const shelf = 12
	const squeeze = 20
	if n < thrust+shelf+squeeze+10 {
		n = thrust + shelf + squeeze + 10
	}

	bars := make(domain.BarSeries, 0, n)
	prev := base + amplitude*triangle(0)
	quiet := n - thrust
	for i := 0; i < quiet; i++ {
		amp := amplitude
		switch {
		case i >= quiet-shelf:
			amp = amplitude * 0.1
		case i >= quiet-shelf-squeeze:
			// Linear squeeze down to the shelf amplitude.
			progress := float64(i-(quiet-shelf-squeeze)) / float64(squeeze)
			amp = amplitude * (1.0 - 0.9*progress)
		}
		c := base + amp*triangle(i)
		bars = append(bars, makeBar(i, prev, c, amp*0.15, 1000+10*float64(i%4)))
		prev = c
	}

	step := amplitude * 4
	if !up {
		step = -step
	}
	for i := quiet; i < n; i++ {
		c := prev + step
		volume := 1600 + 500*float64(i-quiet)
		bars = append(bars, makeBar(i, prev, c, amplitude*0.3, volume))
		prev = c
	}
	return bars
}

// triangle is an 8-bar wave in [-1, 1].
func triangle(i int) float64 {
	offsets := [...]float64{-1, -0.5, 0, 0.5, 1, 0.5, 0, -0.5}
	return offsets[i%len(offsets)]
}

func makeBar(i int, open, c, wiggle, volume float64) domain.Bar {
	high := math.Max(open, c) + wiggle
	low := math.Min(open, c) - wiggle
	if low < 0 {
		low = 0
	}
	return domain.Bar{
		Timestamp: HourlyTimestamp(i),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     c,
		Volume:    volume,
	}
}
