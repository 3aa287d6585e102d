package imapidle

import (
	"sync"
)

// Event categories and actions.
const (
	CategoryMessage = "message"
	ActionNew       = "new"
)

// Event is a notification published on an EventBus.
type Event struct {
	Category string
	Action   string
	// For CategoryMessage, a *imap.Message
	Payload interface{}
}

type subscriber struct {
	id       uint64
	category string
	fn       func(Event)
}

// EventBus delivers events to subscribers, in subscription order.
//
// Handlers are called synchronously by Publish. A handler must not block.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for events of the given category. An empty category
// matches all events.
//
// The returned function removes the subscription. It is safe to call more
// than once.
func (b *EventBus) Subscribe(category string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, category: category, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to matching subscribers.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.category == "" || sub.category == ev.Category {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
