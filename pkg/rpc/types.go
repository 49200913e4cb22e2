// Package rpc holds the JSON-RPC 2.0 envelopes exchanged with the remote
// context and the error codes callers branch on.
package rpc

import (
	"encoding/json"
	"sync/atomic"
)

// Version is the protocol tag carried by every request envelope.
const Version = "2.0"

// Request is the envelope dispatched through the method pipeline and
// forwarded to the remote context.
type Request struct {
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
}

// Response is produced by the method pipeline for a single request.
type Response struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Result is the inbound result event emitted by the remote context.
type Result struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IDSource hands out process-unique, monotonically increasing request ids.
// The zero value is ready to use and starts at 1.
type IDSource struct {
	n atomic.Uint64
}

// Next returns a fresh id. Ids are never reused.
func (s *IDSource) Next() uint64 {
	return s.n.Add(1)
}

// DefaultIDs is shared by providers that are not given their own source.
var DefaultIDs = &IDSource{}

// NewRequest builds a request envelope with a fresh id from ids.
func NewRequest(ids *IDSource, method string, params json.RawMessage) *Request {
	return &Request{
		ID:      ids.Next(),
		Method:  method,
		Params:  params,
		JSONRPC: Version,
	}
}
