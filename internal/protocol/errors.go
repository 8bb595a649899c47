package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrServerRejected   = errors.New("protocol: server rejected request")
	ErrInvalidRequest   = errors.New("protocol: invalid request")
	ErrInvalidFrame     = errors.New("protocol: invalid frame")
	ErrUnexpectedFrame  = errors.New("protocol: unexpected frame type")
	ErrMissingHandshake = errors.New("protocol: missing handshake data")
)

// Known server status codes.
const (
	CodeTooBig           = "too_big"
	CodePermissionDenied = "permission_denied"
	CodeUnavailable      = "unavailable"
)

const unknownReason = "Unknown Error"

var serverReasons = map[string]string{
	CodeTooBig:           "The data requested exceeds the maximum size that can be accessed with a single request.",
	CodePermissionDenied: "Client doesn't have permission to access the desired data.",
	CodeUnavailable:      "The service is unavailable",
}

// ServerError is a request rejected by the server with a non-ok status.
type ServerError struct {
	Code    string
	Message string
}

func NewServerError(code, message string) *ServerError {
	return &ServerError{Code: code, Message: message}
}

// Reason is the fixed human readable text for Code.
func (e *ServerError) Reason() string {
	return ReasonFor(e.Code)
}

func (e *ServerError) Error() string {
	if e.Message != "" && e.Message != e.Reason() {
		return fmt.Sprintf("server error %s: %s (%s)", e.Code, e.Reason(), e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Reason())
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServerRejected
}

// ReasonFor looks code up in the closed reason table.
func ReasonFor(code string) string {
	if reason, ok := serverReasons[code]; ok {
		return reason
	}
	return unknownReason
}

// AsServerError unwraps err to a *ServerError.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
