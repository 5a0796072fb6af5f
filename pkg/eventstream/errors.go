package eventstream

import "errors"

var (
	// ErrNilEvent indicates a nil event payload was provided.
	ErrNilEvent = errors.New("nil entity change event")

	// ErrInvalidEvent indicates an event is missing a required field.
	ErrInvalidEvent = errors.New("invalid entity change event")
)
