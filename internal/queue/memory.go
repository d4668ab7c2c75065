package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultMemoryCapacity = 10000

// MemoryQueue implements Queue with a buffered channel. When the buffer is
// full the oldest pending item is dropped so that request handlers never
// wait on the persistence worker.
type MemoryQueue struct {
	items  chan any
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue. capacity <= 0 selects the
// default.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{items: make(chan any, capacity)}
}

// Enqueue adds an item without blocking, dropping the oldest pending item
// when the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for {
		select {
		case q.items <- item:
			return nil
		default:
		}

		select {
		case dropped := <-q.items:
			log.Warn().Type("item", dropped).Msg("access log queue full, dropping oldest item")
		default:
		}
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
func (q *MemoryQueue) Dequeue(ctx context.Context) (any, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return nil, ErrQueueClosed
		}
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of pending items.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close shuts the queue down.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.items)
	return nil
}
