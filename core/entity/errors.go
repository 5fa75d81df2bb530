package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists classifies a create that lost a benign race:
	// the entity is there, the caller may proceed.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflictPending classifies the transport's "conflicting
	// operation in progress" sub-code: another create is racing and the
	// outcome must be probed.
	ErrConflictPending = errors.New("conflicting entity operation in progress")

	// ErrTimeout is returned when the bulk entity fetch exceeds the
	// default timeout.
	ErrTimeout = errors.New("timed out listing transport entities")
)

// CreationError is returned once creation retries are exhausted or a
// racing create could not be confirmed.
type CreationError struct {
	Path       string
	RetryCount int
	Cause      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create entity %s after %d attempts: %v", e.Path, e.RetryCount, e.Cause)
}

func (e *CreationError) Unwrap() error {
	return e.Cause
}
