// Package events fans relay session events out to any number of
// subscribers: the chat bridge, the transcript writer, the console.
package events

import "sync"

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a pub/sub event bus. Emit is called from the connection's read
// path, so subscribers must not block.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber for all events.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every open subscriber, in subscription order.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// Count returns the number of registered subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Cleanup removes closed subscribers.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var active []Subscriber
	for _, s := range b.subscribers {
		if !s.Closed() {
			active = append(active, s)
		}
	}
	b.subscribers = active
}

// Func adapts a plain function into a Subscriber that is never closed.
// Each call returns a distinct subscriber that can be passed to Unsubscribe.
func Func(f func(ev Event)) Subscriber {
	return &funcSubscriber{f: f}
}

type funcSubscriber struct {
	f func(ev Event)
}

func (s *funcSubscriber) Receive(ev Event) { s.f(ev) }
func (s *funcSubscriber) Closed() bool     { return false }
