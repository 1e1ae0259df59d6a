// Package domain provides the core market-data types shared across the service.
package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidBar indicates a candle that violates OHLCV integrity rules.
var ErrInvalidBar = errors.New("invalid bar")

// Bar represents a single OHLCV candle. Timestamp is the bar open time in
// epoch milliseconds, aligned to the timeframe grid.
type Bar struct {
	Timestamp int64   `json:"timestamp" msgpack:"t"`
	Open      float64 `json:"open" msgpack:"o"`
	High      float64 `json:"high" msgpack:"h"`
	Low       float64 `json:"low" msgpack:"l"`
	Close     float64 `json:"close" msgpack:"c"`
	Volume    float64 `json:"volume" msgpack:"v"`
}

// Validate checks OHLCV integrity: finite non-negative fields, a positive
// timestamp, and low <= open,close <= high.
func (b Bar) Validate() error {
	if b.Timestamp <= 0 {
		return fmt.Errorf("%w: non-positive timestamp %d", ErrInvalidBar, b.Timestamp)
	}
	fields := [...]struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
		{"volume", b.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: non-finite %s at %d", ErrInvalidBar, f.name, b.Timestamp)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: negative %s at %d", ErrInvalidBar, f.name, b.Timestamp)
		}
	}
	if b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("%w: low above open/close at %d", ErrInvalidBar, b.Timestamp)
	}
	if math.Max(b.Open, b.Close) > b.High {
		return fmt.Errorf("%w: high below open/close at %d", ErrInvalidBar, b.Timestamp)
	}
	return nil
}

// IsClosed reports whether the bar has fully completed relative to the
// reference time: open time plus duration is at or before the reference.
func (b Bar) IsClosed(durationMs, referenceMs int64) bool {
	return b.Timestamp+durationMs <= referenceMs
}

// Gap describes a hole in a bar series: one or more expected grid slots
// missing between two received bars.
type Gap struct {
	FromTimestamp int64 `json:"from_timestamp"`
	ToTimestamp   int64 `json:"to_timestamp"`
	Missing       int   `json:"missing"`
}

// BarSeries is an ordered collection of bars, ascending by timestamp.
type BarSeries []Bar

// Sort orders the series ascending by timestamp in place.
func (s BarSeries) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Timestamp < s[j].Timestamp })
}

// Dedupe returns a sorted copy with duplicate timestamps collapsed.
// The last occurrence wins, matching merge semantics in the cache.
func (s BarSeries) Dedupe() BarSeries {
	if len(s) == 0 {
		return nil
	}
	byTS := make(map[int64]Bar, len(s))
	for _, b := range s {
		byTS[b.Timestamp] = b
	}
	out := make(BarSeries, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	out.Sort()
	return out
}

// Normalize validates every bar, then dedupes and sorts. This is the single
// entry point the provider runs on adapter output before anything else
// touches the data.
func (s BarSeries) Normalize() (BarSeries, error) {
	for _, b := range s {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}
	return s.Dedupe(), nil
}

// FilterClosed returns only the bars that have completed relative to the
// reference time. The input must be sorted; order is preserved.
func (s BarSeries) FilterClosed(durationMs, referenceMs int64) BarSeries {
	out := make(BarSeries, 0, len(s))
	for _, b := range s {
		if b.IsClosed(durationMs, referenceMs) {
			out = append(out, b)
		}
	}
	return out
}

// LastN returns the trailing n bars (the whole series when n exceeds it).
func (s BarSeries) LastN(n int) BarSeries {
	if n <= 0 {
		return BarSeries{}
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Gaps scans a sorted series for missing grid slots. A gap exists when two
// consecutive timestamps differ by more than one duration.
func (s BarSeries) Gaps(durationMs int64) []Gap {
	if durationMs <= 0 || len(s) < 2 {
		return nil
	}
	var gaps []Gap
	for i := 1; i < len(s); i++ {
		diff := s[i].Timestamp - s[i-1].Timestamp
		if diff <= durationMs {
			continue
		}
		missing := int((diff - 1) / durationMs)
		gaps = append(gaps, Gap{
			FromTimestamp: s[i-1].Timestamp + durationMs,
			ToTimestamp:   s[i-1].Timestamp + int64(missing)*durationMs,
			Missing:       missing,
		})
	}
	return gaps
}

// First returns the earliest bar, if any.
func (s BarSeries) First() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[0], true
}

// Last returns the latest bar, if any.
func (s BarSeries) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Opens extracts the open prices in series order.
func (s BarSeries) Opens() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Open
	}
	return out
}

// Highs extracts the high prices in series order.
func (s BarSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low prices in series order.
func (s BarSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// Closes extracts the close prices in series order.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volumes in series order.
func (s BarSeries) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Timestamps extracts the open times in series order.
func (s BarSeries) Timestamps() []int64 {
	out := make([]int64, len(s))
	for i, b := range s {
		out[i] = b.Timestamp
	}
	return out
}
