package transport

import "errors"

var (
	// ErrClosed is returned when operating on a closed transport.
	ErrClosed = errors.New("transport is closed")

	// ErrUnknownEntity is returned when a sender or receiver is
	// requested for a path that has not been provisioned.
	ErrUnknownEntity = errors.New("unknown transport entity")
)
