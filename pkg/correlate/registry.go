// Package correlate pairs outbound requests with the result events the
// remote context emits for them.
//
// A waiter is registered under (method, id) before the request leaves the
// process. The first Deliver for that key fires it and removes the entry;
// later deliveries are dropped. There is no built-in timeout: callers bound
// Wait with their context.
package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rexliu/delegate/pkg/rpc"
)

// ErrDuplicateKey is returned when a waiter is already registered for a key.
var ErrDuplicateKey = errors.New("correlate: waiter already registered")

// Key identifies one outstanding request.
type Key struct {
	Method string
	ID     uint64
}

func (k Key) String() string {
	return fmt.Sprintf("result:%s:%d", k.Method, k.ID)
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Waiter is a one-shot receiver for a single result.
type Waiter struct {
	key Key
	ch  chan outcome
	reg *Registry
}

// Key returns the key the waiter was registered under.
func (w *Waiter) Key() Key { return w.key }

// Wait blocks until the result is delivered or ctx ends. When ctx ends first
// the entry is removed so a late delivery is dropped.
func (w *Waiter) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case out := <-w.ch:
		return out.result, out.err
	case <-ctx.Done():
		w.reg.remove(w.key, w)
		// A delivery may have raced the cancellation.
		select {
		case out := <-w.ch:
			return out.result, out.err
		default:
		}
		return nil, ctx.Err()
	}
}

// Release removes the waiter from the registry without firing it. Use it
// when the request could not be dispatched.
func (w *Waiter) Release() {
	w.reg.remove(w.key, w)
}

// Registry is the pending request table owned by one provider.
type Registry struct {
	mu      sync.Mutex
	pending map[Key]*Waiter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[Key]*Waiter)}
}

// Register stores a waiter for (method, id). It must be called before the
// request is dispatched.
func (r *Registry) Register(method string, id uint64) (*Waiter, error) {
	key := Key{Method: method, ID: id}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	w := &Waiter{key: key, ch: make(chan outcome, 1), reg: r}
	r.pending[key] = w
	return w, nil
}

// Deliver fires the waiter registered for (method, id) with res. It reports
// whether a waiter was found; deliveries for unknown or already settled keys
// are dropped.
func (r *Registry) Deliver(method string, id uint64, res rpc.Result) bool {
	key := Key{Method: method, ID: id}
	r.mu.Lock()
	w, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if res.Error != "" {
		w.ch <- outcome{err: MapError(res.Error)}
	} else {
		w.ch <- outcome{result: res.Result}
	}
	return true
}

// FailAll rejects every outstanding waiter with err and empties the
// registry. It returns the number of waiters failed.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[Key]*Waiter)
	r.mu.Unlock()
	for _, w := range pending {
		w.ch <- outcome{err: err}
	}
	return len(pending)
}

// Len returns the number of outstanding waiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Pending reports whether a waiter is registered for (method, id).
func (r *Registry) Pending(method string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[Key{Method: method, ID: id}]
	return ok
}

func (r *Registry) remove(key Key, w *Waiter) {
	r.mu.Lock()
	if cur, ok := r.pending[key]; ok && cur == w {
		delete(r.pending, key)
	}
	r.mu.Unlock()
}
