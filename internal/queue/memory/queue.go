// Package memory backs the queue abstraction with process-local channels,
// covering single node deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/queue"
)

// Queue delivers queue items over a buffered channel. Enqueue and Dequeue
// honor context cancellation. Items buffered before Close stay dequeueable;
// once drained, Dequeue reports queue.ErrClosed.
//
// Callers must not Enqueue after Close.
type Queue struct {
	items chan crawler.QueueItem
	once  sync.Once
}

// NewQueue returns a queue holding at most capacity pending items.
func NewQueue(capacity int) *Queue {
	return &Queue{items: make(chan crawler.QueueItem, capacity)}
}

// Enqueue blocks until the item is buffered or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue: %w", ctx.Err())
	}
}

// Dequeue blocks until an item arrives, the queue drains after Close, or
// ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return crawler.QueueItem{}, queue.ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue: %w", ctx.Err())
	}
}

// Close stops intake. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.items) })
}
