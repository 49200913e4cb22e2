package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC and EIP-1193 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeUserRejected   = 4001
)

// Error is a JSON-RPC error. Two errors match under errors.Is when their
// codes are equal, so callers can test against the package sentinels. An
// error converted from another failure only matches that failure.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Unwrap returns the error this one was converted from, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same code. Converted
// errors defer to their cause.
func (e *Error) Is(target error) bool {
	if e == nil || e.cause != nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t != nil && e.Code == t.Code
}

var (
	// ErrUserRejected is returned when the user denied the request in the remote context.
	ErrUserRejected = &Error{Code: CodeUserRejected, Message: "The request was denied by the user"}
	// ErrInternal is returned for any other failure reported by the remote context.
	ErrInternal = &Error{Code: CodeInternal, Message: "Internal error"}
)

// InvalidRequest builds an invalid-request error carrying the offending input.
func InvalidRequest(message string, data json.RawMessage) *Error {
	return &Error{Code: CodeInvalidRequest, Message: message, Data: data}
}

// MethodNotFound builds a method-not-found error.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", method)}
}

// AsError converts err into an *Error. Anything else becomes an internal
// error that still unwraps to err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInternal, Message: err.Error(), cause: err}
}
