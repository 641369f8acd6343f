// Package queue provides the bounded in-memory FIFO used to buffer analytics
// events between the keystroke path and the background flush.
package queue

import "sync"

// DefaultCapacity is the per-category queue bound when none is configured.
const DefaultCapacity = 100

// Queue is a fixed-capacity FIFO. When a push would exceed the capacity the
// oldest item is evicted. All methods are safe for concurrent use and never
// block on anything but the internal mutex.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  uint64
}

// New creates a queue bounded to capacity items. A capacity below 1 falls back
// to DefaultCapacity.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends item, evicting from the front until the queue is back at
// capacity. It reports how many items were evicted.
func (q *Queue[T]) Push(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	return q.trimLocked()
}

// PushFront puts items back at the head of the queue in their original order,
// ahead of anything pushed since they were drained. If the result exceeds the
// capacity the oldest items (the requeued ones first) are evicted.
func (q *Queue[T]) PushFront(items []T) int {
	if len(items) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged
	return q.trimLocked()
}

// Drain atomically empties the queue and returns its contents in FIFO order.
// A concurrent Push lands either in the returned batch or in the next one.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, q.capacity)
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Dropped returns the total number of items evicted by the capacity bound.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) trimLocked() int {
	over := len(q.items) - q.capacity
	if over <= 0 {
		return 0
	}
	// Zero the evicted slots so they can be collected, then shift.
	var zero T
	for i := 0; i < over; i++ {
		q.items[i] = zero
	}
	q.items = append(q.items[:0], q.items[over:]...)
	q.dropped += uint64(over)
	return over
}
