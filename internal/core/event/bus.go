package event

import (
	"fmt"
	"sync"

	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"go.uber.org/zap"
)

// Handler handles a single lifecycle event
type Handler func(data *CallEventData)

// Bus is the minimal coordination bus between the orchestrator and the
// components reacting to call lifecycle changes (room teardown, persistence,
// campaign tallies)
type Bus interface {
	Publish(eventType EventType, data *CallEventData) error
	Subscribe(eventType EventType, handler Handler)
	Close() error
	Stats() BusStats
}

// BusStats contains counters about the bus
type BusStats struct {
	TotalEvents  int64            `json:"total_events"`
	EventsByType map[string]int64 `json:"events_by_type"`
}

type defaultBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	closed      bool

	statsMu sync.Mutex
	stats   BusStats
}

// NewBus creates a new event bus instance
func NewBus() Bus {
	return &defaultBus{
		subscribers: make(map[EventType][]Handler),
		stats:       BusStats{EventsByType: make(map[string]int64)},
	}
}

// Publish delivers the event to all subscribers asynchronously. A panicking
// handler is contained and logged, never propagated to the publisher.
func (b *defaultBus) Publish(eventType EventType, data *CallEventData) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	handlers := make([]Handler, len(b.subscribers[eventType]))
	copy(handlers, b.subscribers[eventType])
	b.mu.RUnlock()

	b.statsMu.Lock()
	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
	b.statsMu.Unlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("Event handler panic", zap.String("type", string(eventType)), zap.Any("panic", r))
				}
			}()
			h(data)
		}(h)
	}
	return nil
}

// Subscribe registers a handler for an event type
func (b *defaultBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Close stops accepting publishes
func (b *defaultBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Stats returns a copy of the bus counters
func (b *defaultBus) Stats() BusStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	out := BusStats{
		TotalEvents:  b.stats.TotalEvents,
		EventsByType: make(map[string]int64, len(b.stats.EventsByType)),
	}
	for k, v := range b.stats.EventsByType {
		out.EventsByType[k] = v
	}
	return out
}
