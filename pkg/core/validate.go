package core

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	// ErrNotObject indicates request arguments that are not a JSON object
	// (null, an array or a scalar).
	ErrNotObject = errors.New("invalid request arguments")
	// ErrMissingMethod indicates arguments without a method name.
	ErrMissingMethod = errors.New("invalid method argument")
)

// ParseArgs validates raw request arguments and decodes them.
func ParseArgs(raw json.RawMessage) (Args, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Args{}, ErrNotObject
	}
	var shape struct {
		Method json.RawMessage `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(trimmed, &shape); err != nil {
		return Args{}, ErrNotObject
	}
	var method string
	if len(shape.Method) == 0 || json.Unmarshal(shape.Method, &method) != nil || method == "" {
		return Args{}, ErrMissingMethod
	}
	return Args{Method: method, Params: normalizeParams(shape.Params)}, nil
}

// ValidateArgs checks typed arguments.
func ValidateArgs(args *Args) error {
	if args == nil {
		return ErrNotObject
	}
	if args.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

func normalizeParams(params json.RawMessage) json.RawMessage {
	if len(params) == 0 || bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		return nil
	}
	return params
}
