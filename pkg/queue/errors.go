package queue

import "errors"

var (
	// ErrQueueFull is returned by Reserve when the in-flight count has
	// reached capacity. The caller must back off or reject the incoming
	// work; admission is never retried internally.
	ErrQueueFull = errors.New("queue is full")
)
