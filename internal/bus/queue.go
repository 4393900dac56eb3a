// Package bus provides the bounded hand-off between the ingestion goroutine and slow consumers.
package bus

import (
	"context"
	"sync"

	"skstream/pkg/exception"
)

// Queue is a bounded, non-blocking queue. Publishers never wait; a full queue rejects.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues an item without blocking.
func (q *Queue[T]) TryPublish(item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Close stops the queue from accepting new items. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Run consumes items until the context is done or the queue is closed and empty.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			handler(item)
		}
	}
}

// RunBatch is Run for consumers that prefer batches. After the first item
// arrives it drains whatever else is already queued, up to max, and hands the
// batch over. The slice is reused between calls.
func (q *Queue[T]) RunBatch(ctx context.Context, max int, handler func([]T)) {
	if max <= 0 {
		max = 1
	}
	batch := make([]T, 0, max)
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			batch = append(batch[:0], item)
			batch, ok = q.drain(batch, max)
			handler(batch)
			if !ok {
				return
			}
		}
	}
}

// Drain removes up to max queued items without waiting.
func (q *Queue[T]) Drain(dst []T, max int) []T {
	dst, _ = q.drain(dst, max)
	return dst
}

func (q *Queue[T]) drain(dst []T, max int) ([]T, bool) {
	for len(dst) < max {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return dst, false
			}
			dst = append(dst, item)
		default:
			return dst, true
		}
	}
	return dst, true
}
