package queue

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrUnknownItemType is returned by the codec when a serialized item
	// names a type that was never registered.
	ErrUnknownItemType = errors.New("unknown queue item type")
)
