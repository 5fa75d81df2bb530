package envelope

import "errors"

var (
	// ErrSerialization is returned when a payload cannot be serialized
	// into an envelope. Fatal to the call; never retried.
	ErrSerialization = errors.New("failed to serialize message payload")
)
