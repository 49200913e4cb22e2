package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rexliu/delegate/pkg/rpc"
)

// maxUpstreamBody caps the size of an upstream response.
const maxUpstreamBody = 8 << 20

// Fetch is the terminal middleware forwarding requests to an upstream
// JSON-RPC endpoint. With no url it answers method-not-found.
func Fetch(client *http.Client, url string) Middleware {
	if client == nil {
		client = http.DefaultClient
	}
	return func(_ Handler) Handler {
		return func(ctx context.Context, req *rpc.Request) (json.RawMessage, error) {
			if url == "" {
				return nil, rpc.MethodNotFound(req.Method)
			}
			body, err := json.Marshal(req)
			if err != nil {
				return nil, err
			}
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Accept", "application/json")

			resp, err := client.Do(httpReq)
			if err != nil {
				return nil, fmt.Errorf("upstream %s: %w", req.Method, err)
			}
			defer resp.Body.Close()
			raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
			if err != nil {
				return nil, fmt.Errorf("read upstream response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, &rpc.Error{Code: rpc.CodeInternal, Message: fmt.Sprintf("upstream returned %s", resp.Status)}
			}
			var out rpc.Response
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, &rpc.Error{Code: rpc.CodeParseError, Message: "invalid upstream response"}
			}
			if out.Error != nil {
				return nil, out.Error
			}
			return out.Result, nil
		}
	}
}
