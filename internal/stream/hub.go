// Package stream publishes simulation output to websocket clients: a
// trade feed fanned out through an in-process hub, plus an HTTP depth
// snapshot. Slow subscribers are dropped-from, never blocked-on, so the
// publishing side stays non-blocking.
package stream

import "sync"

// Subscription is one receiver registered with a Hub.
type Subscription[T any] struct {
	ch chan T
}

// C is the subscription's receive channel. It is closed on Unsubscribe.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Hub fans values out to every live subscription.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// NewHub returns an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new receiver with the given channel buffer.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the receiver and closes its channel.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers value to every subscriber whose buffer has room.
func (h *Hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- value:
		default:
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
