package cache

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/avramidis/skopos/internal/domain"
)

// Segment holds every cached bar for one (symbol, timeframe) key. Bars are
// keyed by open time so repeated writes of the same bar are idempotent. The
// sorted index is derived lazily and dropped on every mutation.
type Segment struct {
	Symbol    string
	Timeframe string
	Bars      map[int64]domain.Bar
	Start     int64
	End       int64
	Count     int
	CreatedAt int64

	sorted []int64
}

// segmentWire is the canonical storage form: bars as a slice sorted by
// timestamp, so identical segments always encode to identical bytes.
type segmentWire struct {
	Symbol    string       `msgpack:"symbol"`
	Timeframe string       `msgpack:"timeframe"`
	Bars      []domain.Bar `msgpack:"bars"`
	CreatedAt int64        `msgpack:"created_at"`
}

// newSegment builds a segment from already-deduplicated bars.
func newSegment(symbol, timeframe string, bars []domain.Bar, createdAt int64) *Segment {
	s := &Segment{
		Symbol:    symbol,
		Timeframe: timeframe,
		Bars:      make(map[int64]domain.Bar, len(bars)),
		CreatedAt: createdAt,
	}
	for _, b := range bars {
		s.Bars[b.Timestamp] = b
	}
	s.refresh()
	return s
}

// refresh recomputes Start, End and Count and drops the sorted index.
func (s *Segment) refresh() {
	s.sorted = nil
	s.Count = len(s.Bars)
	if s.Count == 0 {
		s.Start, s.End = 0, 0
		return
	}
	first := true
	for ts := range s.Bars {
		if first {
			s.Start, s.End = ts, ts
			first = false
			continue
		}
		if ts < s.Start {
			s.Start = ts
		}
		if ts > s.End {
			s.End = ts
		}
	}
}

// sortedKeys returns the ascending open times, rebuilding the index if a
// mutation invalidated it.
func (s *Segment) sortedKeys() []int64 {
	if s.sorted == nil {
		keys := make([]int64, 0, len(s.Bars))
		for ts := range s.Bars {
			keys = append(keys, ts)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		s.sorted = keys
	}
	return s.sorted
}

// Range returns all bars with from <= timestamp <= to in ascending order.
func (s *Segment) Range(from, to int64) []domain.Bar {
	if s.Count == 0 || to < from {
		return nil
	}
	keys := s.sortedKeys()
	lo := sort.Search(len(keys), func(i int) bool { return keys[i] >= from })
	hi := sort.Search(len(keys), func(i int) bool { return keys[i] > to })
	if lo >= hi {
		return nil
	}
	bars := make([]domain.Bar, 0, hi-lo)
	for _, ts := range keys[lo:hi] {
		bars = append(bars, s.Bars[ts])
	}
	return bars
}

// Merge inserts the given bars, the incoming bar winning on timestamp
// collisions, and reports how many timestamps were new.
func (s *Segment) Merge(bars []domain.Bar) int {
	added := 0
	for _, b := range bars {
		if _, ok := s.Bars[b.Timestamp]; !ok {
			added++
		}
		s.Bars[b.Timestamp] = b
	}
	s.refresh()
	return added
}

// Evict drops the oldest bars until Count <= max and reports how many were
// removed. Start advances to the new oldest bar.
func (s *Segment) Evict(max int) int {
	if max <= 0 || s.Count <= max {
		return 0
	}
	keys := s.sortedKeys()
	drop := s.Count - max
	for _, ts := range keys[:drop] {
		delete(s.Bars, ts)
	}
	s.refresh()
	return drop
}

func encodeSegment(s *Segment) ([]byte, error) {
	wire := segmentWire{
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		Bars:      make([]domain.Bar, 0, len(s.Bars)),
		CreatedAt: s.CreatedAt,
	}
	for _, ts := range s.sortedKeys() {
		wire.Bars = append(wire.Bars, s.Bars[ts])
	}
	data, err := msgpack.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding segment %s:%s: %w", s.Symbol, s.Timeframe, err)
	}
	return data, nil
}

func decodeSegment(data []byte) (*Segment, error) {
	var wire segmentWire
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding segment: %w", err)
	}
	if len(wire.Bars) == 0 {
		return nil, fmt.Errorf("decoding segment: empty bar list")
	}
	return newSegment(wire.Symbol, wire.Timeframe, wire.Bars, wire.CreatedAt), nil
}
