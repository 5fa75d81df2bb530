package bus

import "errors"

var (
	// ErrTransportNil is returned when constructing a bus without a
	// transport.
	ErrTransportNil = errors.New("transport is nil")

	// ErrRegistryNil is returned when constructing a bus without a
	// handler registry.
	ErrRegistryNil = errors.New("registry is nil")

	// ErrAlreadyStarted is returned when starting a running bus.
	ErrAlreadyStarted = errors.New("bus already started")

	// ErrNotStarted is returned when stopping a bus that is not running.
	ErrNotStarted = errors.New("bus not started")
)
