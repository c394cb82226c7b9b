package taskqueue

import (
	"context"
	"time"
)

// InMemoryQueue is a Queue backed by a buffered channel. It is safe for
// concurrent use. Delayed tasks (NotBefore in the future) are held back by
// the dequeuing goroutine.
type InMemoryQueue struct {
	ch chan Task
}

// NewInMemoryQueue creates a queue with the given capacity. For tests and
// small deployments a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{ch: make(chan Task, capacity)}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		if wait := time.Until(t.NotBefore); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				// Put it back so the task is not lost on shutdown. If a
				// producer filled the queue meanwhile the task is dropped;
				// cancellation must never block here.
				select {
				case q.ch <- t:
				default:
				}
				return nil, ctx.Err()
			}
		}
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch)
}
