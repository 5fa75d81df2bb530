package registry

import "errors"

var (
	// ErrUnknownMessageType is returned when a message type is not
	// registered. Fatal to the call; never retried.
	ErrUnknownMessageType = errors.New("unknown message type")
)
