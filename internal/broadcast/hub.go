// Package broadcast fans values out to subscribers over bounded channels that
// drop the oldest queued value instead of blocking the publisher.
package broadcast

import "sync"

// Hub distributes published values to every live subscriber.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*subscriber[T]]struct{})}
}

// Subscribe registers a listener with the given queue depth. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub[T]) Subscribe(buffer int) (<-chan T, func()) {
	return h.subscribe(newSubscriber[T](buffer))
}

// SubscribeWith is like Subscribe but queues initial ahead of any published value.
func (h *Hub[T]) SubscribeWith(buffer int, initial T) (<-chan T, func()) {
	sub := newSubscriber[T](buffer)
	sub.send(initial)
	return h.subscribe(sub)
}

func (h *Hub[T]) subscribe(sub *subscriber[T]) (<-chan T, func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.remove(sub) }
}

// Publish delivers value to every subscriber without blocking.
func (h *Hub[T]) Publish(value T) {
	h.mu.RLock()
	targets := make([]*subscriber[T], 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.send(value)
	}
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Later subscriptions receive a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber[T]]struct{})
	h.closed = true
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

func (h *Hub[T]) remove(sub *subscriber[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func newSubscriber[T any](buffer int) *subscriber[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &subscriber[T]{ch: make(chan T, buffer)}
}

func (s *subscriber[T]) send(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- value:
		return
	default:
		// Drop oldest to make room for the new value.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- value:
		default:
		}
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
