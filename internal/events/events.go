// Package events carries annotation lifecycle notifications to subscribers.
// An event is published for every store action, including reads.
package events

import (
	"context"
	"sync"
	"time"

	"annotcore/pkg/domain"
)

// Event describes a single annotation action.
type Event struct {
	Action     domain.Action     `json:"action"`
	Annotation domain.Annotation `json:"annotation"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Bus publishes annotation events. Publish must not block on slow consumers
// beyond what the underlying transport requires.
type Bus interface {
	Publish(ctx context.Context, event Event) error
}

// MemoryBus is an in-process bus delivering events synchronously to
// registered handlers. Used for tests and single-process deployments.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe registers a handler invoked for every published event.
func (b *MemoryBus) Subscribe(handler func(Event)) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

// Publish delivers the event to all handlers in subscription order.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]func(Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(event)
	}
	return nil
}

// NopBus discards all events.
type NopBus struct{}

// Publish implements Bus.
func (NopBus) Publish(context.Context, Event) error { return nil }
