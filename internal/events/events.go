// Package events provides the in-process event bus connecting the market
// data stream, the cache and the analysis engines.
package events

import (
	"time"

	"github.com/avramidis/skopos/internal/domain"
)

// EventType identifies a class of event on the bus
type EventType string

const (
	// BarClosed fires when a streamed candle completes.
	BarClosed EventType = "bar.closed"
	// CacheEvicted fires when a cache segment drops bars to stay within its cap.
	CacheEvicted EventType = "cache.evicted"
	// AnalysisCompleted fires after a regime detection finishes.
	AnalysisCompleted EventType = "analysis.completed"
)

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Event is the envelope placed on the bus
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// BarClosedData contains data for BarClosed events
type BarClosedData struct {
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Bar       domain.Bar `json:"bar"`
}

// EventType returns the event type for BarClosedData
func (d *BarClosedData) EventType() EventType {
	return BarClosed
}

// CacheEvictedData contains data for CacheEvicted events
type CacheEvictedData struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Evicted   int    `json:"evicted"`
}

// EventType returns the event type for CacheEvictedData
func (d *CacheEvictedData) EventType() EventType {
	return CacheEvicted
}

// AnalysisCompletedData contains data for AnalysisCompleted events
type AnalysisCompletedData struct {
	Symbol     string  `json:"symbol"`
	Timeframe  string  `json:"timeframe"`
	Regime     string  `json:"regime"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"duration_ms"`
}

// EventType returns the event type for AnalysisCompletedData
func (d *AnalysisCompletedData) EventType() EventType {
	return AnalysisCompleted
}
