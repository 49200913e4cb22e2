package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rexliu/delegate/pkg/rpc"
)

// minParams lists the wallet methods and the minimum number of positional
// params each must carry.
var minParams = map[string]int{
	"eth_accounts":               0,
	"eth_sendTransaction":        1,
	"eth_signTransaction":        1,
	"eth_sign":                   2,
	"personal_sign":              2,
	"eth_signTypedData_v4":       2,
	"eth_getEncryptionPublicKey": 1,
	"eth_decrypt":                1,
}

// txMethods take a transaction object as their first param.
var txMethods = map[string]bool{
	"eth_sendTransaction": true,
	"eth_signTransaction": true,
}

// WalletMethods returns the methods the wallet middleware services.
func WalletMethods() []string {
	out := make([]string, 0, len(minParams))
	for m := range minParams {
		out = append(out, m)
	}
	return out
}

// IsWalletMethod reports whether method is serviced by the remote context.
func IsWalletMethod(method string) bool {
	_, ok := minParams[method]
	return ok
}

// Wallet routes wallet methods to process after checking their params.
// Other methods continue down the chain.
func Wallet(process Handler) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *rpc.Request) (json.RawMessage, error) {
			want, ok := minParams[req.Method]
			if !ok {
				return next(ctx, req)
			}
			if err := checkParams(req, want); err != nil {
				return nil, err
			}
			return process(ctx, req)
		}
	}
}

func checkParams(req *rpc.Request, want int) error {
	if want == 0 {
		return nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: fmt.Sprintf("%s expects an array of params", req.Method)}
	}
	if len(params) < want {
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: fmt.Sprintf("%s expects at least %d params, got %d", req.Method, want, len(params))}
	}
	if txMethods[req.Method] {
		first := bytes.TrimSpace(params[0])
		if len(first) == 0 || first[0] != '{' {
			return &rpc.Error{Code: rpc.CodeInvalidParams, Message: req.Method + " expects a transaction object"}
		}
	}
	return nil
}
