// Package buffer provides a generic, thread-safe circular buffer used to
// hand decoded payloads from the streaming read loop to the coordinator
// without ever blocking the reader.
package buffer

import (
	"sync"

	"github.com/c360/collarkit/errors"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Statistics tracks buffer activity for observability.
type Statistics struct {
	Writes  uint64
	Reads   uint64
	Dropped uint64
}

// Ring is a fixed-capacity circular buffer. Write never blocks: when the
// buffer is full the overflow policy decides which item is dropped.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	count    int
	policy   OverflowPolicy
	stats    Statistics
	closed   bool
	onDrop   func(T)
	notEmpty chan struct{}
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithOverflowPolicy sets the overflow policy (default DropOldest).
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(r *Ring[T]) {
		r.policy = policy
	}
}

// WithDropCallback registers a callback invoked with each dropped item.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(r *Ring[T]) {
		r.onDrop = fn
	}
}

// NewRing creates a circular buffer with the given capacity.
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Ring", "NewRing", "capacity must be positive")
	}

	r := &Ring[T]{
		items:    make([]T, capacity),
		policy:   DropOldest,
		notEmpty: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Write adds an item. When the buffer is full, DropOldest evicts the
// oldest item and the write succeeds; DropNewest drops the new item.
// The dropped item (either policy) is reported to the drop callback.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrShuttingDown
	}

	var dropped T
	var didDrop bool

	if r.count == len(r.items) {
		r.stats.Dropped++
		if r.policy == DropNewest {
			dropped, didDrop = item, true
			r.mu.Unlock()
			if didDrop && r.onDrop != nil {
				r.onDrop(dropped)
			}
			return nil
		}
		// DropOldest: evict head
		dropped, didDrop = r.items[r.head], true
		r.head = (r.head + 1) % len(r.items)
		r.count--
	}

	tail := (r.head + r.count) % len(r.items)
	r.items[tail] = item
	r.count++
	r.stats.Writes++
	r.mu.Unlock()

	// Wake a waiting reader without blocking the writer.
	select {
	case r.notEmpty <- struct{}{}:
	default:
	}

	if didDrop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return nil
}

// Read retrieves and removes one item. Returns false if the buffer is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}

	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.count--
	r.stats.Reads++
	return item, true
}

// Wait returns a channel that receives a signal when an item may be
// available. Readers combine it with Read in a loop; a signal does not
// guarantee an item is still present.
func (r *Ring[T]) Wait() <-chan struct{} {
	return r.notEmpty
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the maximum number of items the buffer can hold.
func (r *Ring[T]) Capacity() int {
	return len(r.items)
}

// Stats returns a snapshot of buffer statistics.
func (r *Ring[T]) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close marks the buffer closed. Subsequent writes fail; buffered items
// remain readable so consumers can drain during shutdown.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
