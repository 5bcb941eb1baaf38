package engine

import "errors"

// Submission errors. Dropped tasks see the same values through Task.OnDrop.
var (
	ErrDisabled    = errors.New("engine: disabled")
	ErrStopped     = errors.New("engine: stopped")
	ErrStopping    = errors.New("engine: stopping")
	ErrQueueFull   = errors.New("engine: queue full")
	ErrOverlapSkip = errors.New("engine: previous run still in progress")
	ErrStaleQueue  = errors.New("engine: queued longer than max_queue_delay")
)
