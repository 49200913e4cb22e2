// Package engine is the method-dispatch pipeline requests pass through on
// their way to the remote context or an upstream node.
package engine

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rexliu/delegate/pkg/rpc"
)

// Handler services one request.
type Handler func(ctx context.Context, req *rpc.Request) (json.RawMessage, error)

// Middleware wraps the rest of the chain. It either answers the request or
// calls next.
type Middleware func(next Handler) Handler

// Engine runs requests through its middleware in push order. A request no
// middleware answers gets a method-not-found error.
type Engine struct {
	mu    sync.RWMutex
	chain []Middleware
	head  Handler
}

// New returns an engine with no middleware.
func New() *Engine {
	e := &Engine{}
	e.head = e.build()
	return e
}

// Push appends mw to the end of the chain.
func (e *Engine) Push(mw Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chain = append(e.chain, mw)
	e.head = e.build()
}

func (e *Engine) build() Handler {
	h := notFound
	for i := len(e.chain) - 1; i >= 0; i-- {
		h = e.chain[i](h)
	}
	return h
}

func notFound(_ context.Context, req *rpc.Request) (json.RawMessage, error) {
	return nil, rpc.MethodNotFound(req.Method)
}

// Handle dispatches req and wraps the outcome in a response envelope.
func (e *Engine) Handle(ctx context.Context, req *rpc.Request) *rpc.Response {
	e.mu.RLock()
	h := e.head
	e.mu.RUnlock()

	resp := &rpc.Response{ID: req.ID, JSONRPC: rpc.Version}
	if req.Method == "" {
		resp.Error = rpc.InvalidRequest("invalid method argument", nil)
		return resp
	}
	result, err := h(ctx, req)
	if err != nil {
		resp.Error = rpc.AsError(err)
		return resp
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	resp.Result = result
	return resp
}

// HandleBatch dispatches every request at once and returns the responses
// in input order. Entries are never queued behind one another.
func (e *Engine) HandleBatch(ctx context.Context, reqs []*rpc.Request) []*rpc.Response {
	out := make([]*rpc.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = e.Handle(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
