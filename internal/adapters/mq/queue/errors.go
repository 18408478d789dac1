package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFull   = errors.New("commit queue full")
	ErrClosed = errors.New("commit queue closed")
)
