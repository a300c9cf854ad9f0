package exchange

import "errors"

// Errors
var (
	ErrNoBrokers       = errors.New("at least one broker is required")
	ErrDuplicateBroker = errors.New("duplicate broker")
	ErrEmptyBroker     = errors.New("empty broker name")
	ErrNilPool         = errors.New("worker pool is required")
	ErrNotStarted      = errors.New("exchange not started")
	ErrAlreadyStarted  = errors.New("exchange already started")
	ErrExchangeDone    = errors.New("exchange is done")
	ErrUnknownBroker   = errors.New("unknown broker")
	ErrResultNotReady  = errors.New("result not ready")
)
