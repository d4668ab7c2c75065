// Package queue is the hand-off point between the request-handling
// concurrency domain and the persistence domain. Producers (request
// handlers) enqueue log items without ever blocking; a single consumer
// (the access log worker) drains the queue in enqueue order.
//
// Two backends:
//
//  1. Memory queue (channel-based): no persistence, zero external
//     dependencies, the default for standalone deployments.
//  2. Redis queue (list-based): survives restarts and lets the worker run
//     in a separate process.
package queue

import (
	"context"
)

// Queue carries log items from request handlers to the worker.
type Queue interface {
	// Enqueue adds an item. Implementations must not block the caller
	// waiting for the consumer; the memory backend drops the oldest
	// pending item when full.
	Enqueue(ctx context.Context, item any) error

	// Dequeue blocks until one item is available or ctx is cancelled.
	Dequeue(ctx context.Context) (any, error)

	// Len returns the number of pending items.
	Len(ctx context.Context) (int, error)

	// Close shuts the queue down. Pending items are discarded.
	Close() error
}

// Sentinel tells the worker to stop. Enqueued exactly once during shutdown;
// the worker exits after consuming it.
type Sentinel struct{}
