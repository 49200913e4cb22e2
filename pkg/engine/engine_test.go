package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/delegate/pkg/rpc"
)

func req(id uint64, method, params string) *rpc.Request {
	r := &rpc.Request{ID: id, Method: method, JSONRPC: rpc.Version}
	if params != "" {
		r.Params = json.RawMessage(params)
	}
	return r
}

func echo(_ context.Context, r *rpc.Request) (json.RawMessage, error) {
	return json.Marshal(r.Method)
}

func TestEngineOrderAndFallthrough(t *testing.T) {
	var trace []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, r *rpc.Request) (json.RawMessage, error) {
				trace = append(trace, name)
				return next(ctx, r)
			}
		}
	}
	e := New()
	e.Push(tag("a"))
	e.Push(tag("b"))

	resp := e.Handle(context.Background(), req(3, "net_version", ""))
	require.Equal(t, []string{"a", "b"}, trace)
	require.NotNil(t, resp.Error)
	require.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
	require.Equal(t, uint64(3), resp.ID)
	require.Equal(t, rpc.Version, resp.JSONRPC)
}

func TestEngineWrapsErrors(t *testing.T) {
	e := New()
	e.Push(func(Handler) Handler {
		return func(context.Context, *rpc.Request) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}
	})
	resp := e.Handle(context.Background(), req(1, "x", ""))
	require.Equal(t, rpc.CodeInternal, resp.Error.Code)
	require.Equal(t, "boom", resp.Error.Message)

	resp = e.Handle(context.Background(), req(2, "", ""))
	require.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)
}

func TestWalletRoutesAndChecksParams(t *testing.T) {
	e := New()
	e.Push(Wallet(echo))

	tests := []struct {
		name     string
		method   string
		params   string
		wantCode int
	}{
		{name: "accounts without params", method: "eth_accounts"},
		{name: "personal sign", method: "personal_sign", params: `["0x68656c6c6f","0xabc"]`},
		{name: "personal sign short", method: "personal_sign", params: `["0x68656c6c6f"]`, wantCode: rpc.CodeInvalidParams},
		{name: "send tx", method: "eth_sendTransaction", params: `[{"to":"0x1"}]`},
		{name: "send tx not object", method: "eth_sendTransaction", params: `["0x1"]`, wantCode: rpc.CodeInvalidParams},
		{name: "params not array", method: "eth_sign", params: `{"a":1}`, wantCode: rpc.CodeInvalidParams},
		{name: "not a wallet method", method: "eth_blockNumber", wantCode: rpc.CodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.Handle(context.Background(), req(1, tt.method, tt.params))
			if tt.wantCode != 0 {
				require.NotNil(t, resp.Error)
				require.Equal(t, tt.wantCode, resp.Error.Code)
				return
			}
			require.Nil(t, resp.Error)
			require.JSONEq(t, `"`+tt.method+`"`, string(resp.Result))
		})
	}
}

func TestWalletMethods(t *testing.T) {
	got := WalletMethods()
	sort.Strings(got)
	require.Equal(t, []string{
		"eth_accounts", "eth_decrypt", "eth_getEncryptionPublicKey", "eth_sendTransaction",
		"eth_sign", "eth_signTransaction", "eth_signTypedData_v4", "personal_sign",
	}, got)
	require.True(t, IsWalletMethod("personal_sign"))
	require.False(t, IsWalletMethod("eth_chainId"))
}

func TestFetchForwardsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in rpc.Request
		if err := json.Unmarshal(body, &in); err != nil {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch in.Method {
		case "eth_chainId":
			_ = json.NewEncoder(w).Encode(rpc.Response{ID: in.ID, JSONRPC: rpc.Version, Result: json.RawMessage(`"0x1"`)})
		default:
			_ = json.NewEncoder(w).Encode(rpc.Response{ID: in.ID, JSONRPC: rpc.Version, Error: &rpc.Error{Code: -32000, Message: "nope"}})
		}
	}))
	defer srv.Close()

	e := New()
	e.Push(Wallet(echo))
	e.Push(Fetch(srv.Client(), srv.URL))

	resp := e.Handle(context.Background(), req(1, "eth_chainId", ""))
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"0x1"`, string(resp.Result))

	resp = e.Handle(context.Background(), req(2, "eth_call", `[]`))
	require.Equal(t, -32000, resp.Error.Code)

	resp = e.Handle(context.Background(), req(3, "eth_accounts", ""))
	require.JSONEq(t, `"eth_accounts"`, string(resp.Result))
}

func TestFetchWithoutURL(t *testing.T) {
	e := New()
	e.Push(Fetch(nil, ""))
	resp := e.Handle(context.Background(), req(1, "eth_chainId", ""))
	require.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestHandleBatchKeepsOrder(t *testing.T) {
	e := New()
	e.Push(Wallet(echo))
	reqs := []*rpc.Request{
		req(1, "eth_accounts", ""),
		req(2, "eth_chainId", ""),
		req(3, "personal_sign", `["0x1","0x2"]`),
	}
	out := e.HandleBatch(context.Background(), reqs)
	require.Len(t, out, 3)
	for i, r := range out {
		require.Equal(t, reqs[i].ID, r.ID)
	}
	require.JSONEq(t, `"eth_accounts"`, string(out[0].Result))
	require.Equal(t, rpc.CodeMethodNotFound, out[1].Error.Code)
	require.JSONEq(t, `"personal_sign"`, string(out[2].Result))
}

func TestHandleBatchDispatchesEveryEntryAtOnce(t *testing.T) {
	const n = 24
	var entered sync.WaitGroup
	entered.Add(n)
	all := make(chan struct{})
	go func() {
		entered.Wait()
		close(all)
	}()

	e := New()
	e.Push(func(Handler) Handler {
		return func(ctx context.Context, req *rpc.Request) (json.RawMessage, error) {
			entered.Done()
			select {
			case <-all:
				return json.RawMessage(`"ok"`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	})

	reqs := make([]*rpc.Request, n)
	for i := range reqs {
		reqs[i] = req(uint64(i+1), "eth_accounts", "")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, r := range e.HandleBatch(ctx, reqs) {
		require.Nil(t, r.Error, "entry %d", i)
		require.JSONEq(t, `"ok"`, string(r.Result))
	}
}
