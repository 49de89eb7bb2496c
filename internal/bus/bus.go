// Package bus provides the in-process domain event fan-out. The session
// machine and pipeline publish named events (session-status, message-received,
// auto-reply-sent, ...) and any number of subscribers receive them.
// Delivery is at-most-once: no replay buffer, no acknowledgment, and events
// are dropped for subscribers that fall behind.
package bus

import (
	"log/slog"
	"sync"
)

// subscriberBufferSize is the per-subscriber queue depth. Subscribers whose
// queue is full miss events rather than blocking publishers.
const subscriberBufferSize = 64

// Event is one named domain event.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Consumers depend on this instead of the concrete Bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus is the concrete fan-out implementation. Each subscriber gets a
// dedicated buffered queue drained by its own goroutine, so one slow
// handler never delays another.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a handler under id. An existing subscription with the
// same id is replaced.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	sub := &subscriber{
		ch:   make(chan Event, subscriberBufferSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if prev, ok := b.subs[id]; ok {
		close(prev.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()
}

// Unsubscribe removes a subscription. Safe to call for unknown ids.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
}

// Broadcast delivers event to all subscribers without blocking. Events are
// dropped for subscribers whose queue is full.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		default:
			slog.Debug("dropped event for slow subscriber", "event", event.Name)
		}
	}
}

// Close tears down all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
