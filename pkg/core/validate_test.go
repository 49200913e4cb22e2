package core

import (
	"encoding/json"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		method  string
		params  string
	}{
		{name: "null", raw: `null`, wantErr: ErrNotObject},
		{name: "array", raw: `[{"method":"eth_accounts"}]`, wantErr: ErrNotObject},
		{name: "scalar", raw: `"eth_accounts"`, wantErr: ErrNotObject},
		{name: "empty", raw: ``, wantErr: ErrNotObject},
		{name: "missing method", raw: `{}`, wantErr: ErrMissingMethod},
		{name: "null method", raw: `{"method":null}`, wantErr: ErrMissingMethod},
		{name: "numeric method", raw: `{"method":5}`, wantErr: ErrMissingMethod},
		{name: "empty method", raw: `{"method":""}`, wantErr: ErrMissingMethod},
		{name: "no params", raw: ` {"method":"eth_accounts"}`, method: "eth_accounts"},
		{name: "null params", raw: `{"method":"eth_accounts","params":null}`, method: "eth_accounts"},
		{name: "params", raw: `{"method":"personal_sign","params":["0x1","0xabc"]}`, method: "personal_sign", params: `["0x1","0xabc"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseArgs(json.RawMessage(tt.raw))
			if err != tt.wantErr {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}
			if args.Method != tt.method {
				t.Fatalf("expected method %q, got %q", tt.method, args.Method)
			}
			if string(args.Params) != tt.params {
				t.Fatalf("expected params %q, got %q", tt.params, string(args.Params))
			}
		})
	}
}

func TestValidateArgs(t *testing.T) {
	if err := ValidateArgs(nil); err != ErrNotObject {
		t.Fatalf("expected ErrNotObject, got %v", err)
	}
	if err := ValidateArgs(&Args{}); err != ErrMissingMethod {
		t.Fatalf("expected ErrMissingMethod, got %v", err)
	}
	if err := ValidateArgs(&Args{Method: "eth_accounts"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewInteractionIDMonotonic(t *testing.T) {
	prev := NewInteractionID()
	for i := 0; i < 100; i++ {
		next := NewInteractionID()
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}
