package serial

import "errors"

var (
	// ErrPoolClosed is returned when work is submitted to a closed pool
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrInvalidWorkers is returned for a pool size below one
	ErrInvalidWorkers = errors.New("worker count must be positive")
)
