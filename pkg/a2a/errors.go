package a2a

import (
	"errors"
	"fmt"
)

var ErrTaskNotFound = errors.New("task not found")

// TransportError is returned when the server answers the initial request
// with a non-success status. No event has been read at that point.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("a2a: unexpected http status %d", e.StatusCode)
	}
	return fmt.Sprintf("a2a: unexpected http status %d: %s", e.StatusCode, e.Body)
}

// ProtocolError reports a payload that could not be decoded. The turn is
// aborted when one is seen.
type ProtocolError struct {
	Data []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("a2a: malformed event: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ServerError wraps an error the server reported inside a well-formed payload.
type ServerError struct {
	Err *JSONRPCError
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("a2a: server reported error %d: %s", e.Err.Code, e.Err.Message)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
