package ipc

import (
	"encoding/json"
	"fmt"
)

// Error codes carried on the wire.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL"
	CodeRPC            = "RPC_ERROR"
	CodeRemoteError    = "REMOTE_ERROR"
	CodeUserClosed     = "USER_CLOSED"
	CodeBlocked        = "BLOCKED"
	CodeBusy           = "BUSY"
	CodeTimeout        = "TIMEOUT"
	CodeStorage        = "STORAGE_ERROR"
	CodeVCS            = "VCS_ERROR"
	CodeUnavailable    = "UNAVAILABLE"
	CodeUnauthorized   = "UNAUTHORIZED"
)

// Request models RPC requests.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	Token  string          `json:"token,omitempty"`
}

// Response models RPC responses. Frames pushed on a stream after the
// initial acknowledgement have Stream set.
type Response struct {
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	TraceID string          `json:"traceId,omitempty"`
	Stream  bool            `json:"stream,omitempty"`
}

// Error follows the API contract for structured failures.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
