package utils

import "math"

// Round rounds a value to the given number of decimal places.
// NaN and infinities pass through unchanged.
func Round(value float64, places int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	factor := math.Pow10(places)
	return math.Round(value*factor) / factor
}

// Round2 rounds to 2 decimal places (indicator scores, confidence).
func Round2(value float64) float64 {
	return Round(value, 2)
}

// Round4 rounds to 4 decimal places (ratios, efficiency values).
func Round4(value float64) float64 {
	return Round(value, 4)
}

// Round8 rounds to 8 decimal places (prices).
func Round8(value float64) float64 {
	return Round(value, 8)
}

// Clamp limits a value to the [min, max] range.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
