package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// QueueStats reports queue counters.
type QueueStats struct {
	Pushed  uint64
	Dropped uint64
	Len     int
}

// Queue is a bounded FIFO that never blocks producers: when full, Push
// discards the oldest element to make room. It is safe for concurrent use.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	notify   chan struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity elements. A capacity
// below one is treated as one.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends v. It returns the evicted element and true when the queue was
// full. Pushes after Close are discarded and counted as drops.
func (q *Queue[T]) Push(v T) (evicted T, dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		return v, true
	}

	if len(q.items) == q.capacity {
		evicted = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		dropped = true
		q.dropped.Add(1)
	}
	q.items = append(q.items, v)
	q.pushed.Add(1)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted, dropped
}

// TryPop removes and returns the oldest element without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Pop blocks until an element is available, the queue is closed and empty,
// or ctx is done. The boolean is false when nothing was returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			var zero T
			return zero, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Drain removes and returns every queued element, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	q.items = q.items[:0]
	return out
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting elements and wakes a blocked Pop. Elements already
// queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Len:     q.Len(),
	}
}
