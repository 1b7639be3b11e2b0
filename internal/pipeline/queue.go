package pipeline

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO between one producer and one consumer. The
// consumer closes it when it stops reading, after which pushes fail.
type Queue[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Push adds v, blocking while the queue is full. It returns ErrQueueClosed
// once the consumer has closed the queue, or the context error.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- v:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest item, blocking while the queue is empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case v := <-q.items:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryPop removes the oldest item without blocking. It reports false when
// the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Close marks the consumer as gone. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}
