package correlation

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

var (
	// ErrTimeout is returned when the deadline passes before a reply
	// arrives.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrCancelled is returned when the awaiter cancels an in-flight
	// request.
	ErrCancelled = errors.New("request cancelled")

	// ErrRequestFailedRemotely marks replies that carried a fault from
	// the remote handler. Use errors.Is against this and errors.As
	// against *RemoteError for the detail.
	ErrRequestFailedRemotely = errors.New("request failed remotely")
)

// RemoteError carries the serialized failure detail from a faulted reply.
type RemoteError struct {
	Detail envelope.FaultDetail
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("request failed remotely: %s", e.Detail.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRequestFailedRemotely
}
