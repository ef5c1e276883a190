package queue

import "errors"

var (
	// ErrNoSuchElement is returned by Remove when the queue is empty.
	ErrNoSuchElement = errors.New("queue: no such element")
	// ErrQueueFull is returned by Offer when a capacity bound is
	// configured and the directory's child count has reached it.
	ErrQueueFull = errors.New("queue: full")
)
