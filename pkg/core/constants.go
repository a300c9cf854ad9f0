package core

import "errors"

// Errors
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidSide      = errors.New("invalid side")
	ErrInvalidID        = errors.New("invalid message id")
	ErrMissingBroker    = errors.New("missing broker")
	ErrMissingProduct   = errors.New("missing product")
	ErrMissingClient    = errors.New("missing client")
	ErrUnknownEventType = errors.New("unknown event type")
)
