package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ErrInvalidTimeframe indicates a timeframe string outside the supported syntax.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

// timeframePattern matches the supported syntax: a positive integer followed
// by a case-sensitive unit. Lowercase m is minutes, uppercase M is months.
var timeframePattern = regexp.MustCompile(`^(\d+)([mhdwM])$`)

// Unit durations in milliseconds. Months use a fixed 30-day convention.
const (
	minuteMs int64 = 60_000
	hourMs   int64 = 3_600_000
	dayMs    int64 = 86_400_000
	weekMs   int64 = 604_800_000
	monthMs  int64 = 2_592_000_000
)

var unitMillis = map[string]int64{
	"m": minuteMs,
	"h": hourMs,
	"d": dayMs,
	"w": weekMs,
	"M": monthMs,
}

// timeframeLadder is the canonical ordering used for escalation decisions.
var timeframeLadder = []string{"1m", "5m", "15m", "30m", "1h", "2h", "4h", "1d", "1w", "1M"}

// Timeframe is a parsed timeframe: a positive multiplier and a unit letter.
type Timeframe struct {
	Value int
	Unit  string
}

// ParseTimeframe parses strings such as "15m", "4h", "1d", "1w", "1M".
func ParseTimeframe(tf string) (Timeframe, error) {
	m := timeframePattern.FindStringSubmatch(tf)
	if m == nil {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value < 1 {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
	}
	return Timeframe{Value: value, Unit: m[2]}, nil
}

// String renders the canonical form, e.g. {4, "h"} -> "4h".
func (tf Timeframe) String() string {
	return strconv.Itoa(tf.Value) + tf.Unit
}

// Millis returns the timeframe duration in milliseconds.
func (tf Timeframe) Millis() int64 {
	return int64(tf.Value) * unitMillis[tf.Unit]
}

// Minutes returns the timeframe duration in whole minutes.
func (tf Timeframe) Minutes() int64 {
	return tf.Millis() / minuteMs
}

// TimeframeMillis parses a timeframe string and returns its duration in
// milliseconds.
func TimeframeMillis(tf string) (int64, error) {
	parsed, err := ParseTimeframe(tf)
	if err != nil {
		return 0, err
	}
	return parsed.Millis(), nil
}

// TimeframeMinutes parses a timeframe string and returns its duration in
// whole minutes.
func TimeframeMinutes(tf string) (int64, error) {
	parsed, err := ParseTimeframe(tf)
	if err != nil {
		return 0, err
	}
	return parsed.Minutes(), nil
}

// SortTimeframesDescending returns the timeframes ordered longest first.
// The sort is stable so equal durations keep their input order. Any invalid
// entry fails the whole call.
func SortTimeframesDescending(tfs []string) ([]string, error) {
	type entry struct {
		tf     string
		millis int64
	}
	entries := make([]entry, 0, len(tfs))
	for _, tf := range tfs {
		ms, err := TimeframeMillis(tf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{tf: tf, millis: ms})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].millis > entries[j].millis })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.tf
	}
	return out, nil
}

// NextHigherTimeframe returns the smallest canonical timeframe strictly
// longer than the given one, e.g. "45m" -> "1h". The second return is false
// at or beyond the top of the ladder.
func NextHigherTimeframe(tf string) (string, bool, error) {
	ms, err := TimeframeMillis(tf)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range timeframeLadder {
		candidateMs, _ := TimeframeMillis(candidate)
		if candidateMs > ms {
			return candidate, true, nil
		}
	}
	return "", false, nil
}
