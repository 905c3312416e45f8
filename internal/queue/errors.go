package queue

import "errors"

var (
	// ErrQueueRequired is returned by operations that need an explicit queue name.
	ErrQueueRequired = errors.New("queue name required")
	// ErrUnknownQueue is returned when the named queue is not registered.
	ErrUnknownQueue = errors.New("unknown queue")
)
