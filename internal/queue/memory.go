package queue

import (
	"context"
	"sync"
)

type MemoryQueue struct {
	ch     chan Task
	done   chan struct{}
	closed sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 128
	}

	return &MemoryQueue{
		ch:   make(chan Task, size),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks; a full buffer is reported as ErrFull.
func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- t:
		return nil
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-q.done:
		return Task{}, ErrClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
