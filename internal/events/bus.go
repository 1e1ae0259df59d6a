package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// subscriberBuffer is how many undelivered events a subscriber may lag
// behind before publishes to it are dropped.
const subscriberBuffer = 64

// Bus is a minimal in-process pub/sub. Publish never blocks: a subscriber
// that falls behind loses events rather than stalling the producer, which is
// the right trade for live market data.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	log         zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers interest in one or more event types and returns the
// delivery channel. The channel stays open for the lifetime of the bus.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// Publish delivers the event to all subscribers of its type without blocking.
func (b *Bus) Publish(data EventData) {
	event := Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	subs := b.subscribers[event.Type]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns how many channels listen for the given type.
func (b *Bus) SubscriberCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[t])
}
