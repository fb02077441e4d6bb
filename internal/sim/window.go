package sim

import "sync"

// Window is a bounded FIFO buffer that keeps the most recent entries in
// chronological order. It is safe for concurrent use.
type Window[T any] struct {
	mu    sync.RWMutex
	buf   []T
	start int
	size  int
}

// NewWindow returns an empty window holding at most capacity entries.
// Capacities below one are raised to one.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest one when the window is full.
// It reports whether an eviction took place.
func (w *Window[T]) Append(item T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(item)
}

func (w *Window[T]) appendLocked(item T) bool {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = item
		w.size++
		return false
	}
	w.buf[w.start] = item
	w.start = (w.start + 1) % len(w.buf)
	return true
}

// AppendSnapshot appends item and copies the resulting entries in one step,
// so the copy always ends with item.
func (w *Window[T]) AppendSnapshot(item T) (evicted bool, entries []T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	evicted = w.appendLocked(item)
	return evicted, w.snapshotLocked()
}

// Snapshot copies the entries oldest first.
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

func (w *Window[T]) snapshotLocked() []T {
	out := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Latest returns the newest entry.
func (w *Window[T]) Latest() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var zero T
	if w.size == 0 {
		return zero, false
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)], true
}

// Len returns the number of stored entries.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Cap returns the maximum number of entries.
func (w *Window[T]) Cap() int {
	return len(w.buf)
}

// Reset drops all entries.
func (w *Window[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.start = 0
	w.size = 0
}
