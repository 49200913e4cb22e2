// Package provider is the request/response facade callers use to reach the
// remote context. It validates arguments, assigns ids, dispatches through
// the engine and awaits the correlated result.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rexliu/delegate/pkg/core"
	"github.com/rexliu/delegate/pkg/correlate"
	"github.com/rexliu/delegate/pkg/engine"
	"github.com/rexliu/delegate/pkg/popup"
	"github.com/rexliu/delegate/pkg/rpc"
)

// ErrNoConnection is returned when no connection to the remote context is set.
var ErrNoConnection = errors.New("provider: no connection to remote context")

// Connection is the transport to the remote context.
type Connection interface {
	IsLoggedIn(ctx context.Context) (bool, error)
	TriggerLogin(ctx context.Context, loginType string) error
	SendRequest(ctx context.Context, req rpc.Request) error
}

// Journal records requests and interactions as they happen.
type Journal interface {
	RecordRequest(ctx context.Context, rec core.RequestRecord) error
	SettleRequest(ctx context.Context, id uint64, status core.RequestStatus, errMsg string) error
	RecordInteraction(ctx context.Context, rec core.Interaction) error
}

// BatchOutcome is the result of one batch entry. Error still unwraps to
// the failure behind it, so errors.Is tells a user close or an expired
// context apart from an error the remote context reported.
type BatchOutcome struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpc.Error      `json:"error,omitempty"`
}

// Option configures a Provider.
type Option func(*Provider)

// WithIDs sets the id source. Providers share rpc.DefaultIDs otherwise.
func WithIDs(ids *rpc.IDSource) Option {
	return func(p *Provider) {
		if ids != nil {
			p.ids = ids
		}
	}
}

// WithJournal sets the journal requests and interactions are recorded in.
func WithJournal(j Journal) Option {
	return func(p *Provider) { p.journal = j }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithUpstream forwards non-wallet methods to a JSON-RPC node at url.
func WithUpstream(client *http.Client, url string) Option {
	return func(p *Provider) {
		p.httpClient = client
		p.upstreamURL = url
	}
}

// WithPopupOptions applies opts to every popup the provider opens.
func WithPopupOptions(opts ...popup.Option) Option {
	return func(p *Provider) { p.popupOpts = append(p.popupOpts, opts...) }
}

// WithInteractionHook registers fn to run after each interaction settles.
// Hooks run in order on a background goroutine, after Open has returned.
func WithInteractionHook(fn func(core.Interaction)) Option {
	return func(p *Provider) { p.onInteraction = fn }
}

// Provider owns one pending request registry and one popup lifecycle.
type Provider struct {
	conn          Connection
	opener        popup.Opener
	bus           popup.Bus
	ids           *rpc.IDSource
	reg           *correlate.Registry
	engine        *engine.Engine
	journal       Journal
	logger        *zap.SugaredLogger
	httpClient    *http.Client
	upstreamURL   string
	popupOpts     []popup.Option
	onInteraction func(core.Interaction)

	mu      sync.Mutex
	popups  map[string]*popup.Popup
	opening atomic.Bool

	hookMu      sync.Mutex
	hookQueue   []core.Interaction
	hookRunning bool
	hooks       sync.WaitGroup
}

// New builds a provider. conn carries requests to the remote context;
// opener and bus drive popup interactions.
func New(conn Connection, opener popup.Opener, bus popup.Bus, opts ...Option) *Provider {
	p := &Provider{
		conn:   conn,
		opener: opener,
		bus:    bus,
		ids:    rpc.DefaultIDs,
		reg:    correlate.NewRegistry(),
		logger: zap.NewNop().Sugar(),
		popups: make(map[string]*popup.Popup),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.engine = engine.New()
	p.engine.Push(engine.Wallet(p.forward))
	p.engine.Push(engine.Fetch(p.httpClient, p.upstreamURL))
	return p
}

// Registry exposes the pending request registry.
func (p *Provider) Registry() *correlate.Registry { return p.reg }

// Engine exposes the method pipeline so callers can push more middleware.
func (p *Provider) Engine() *engine.Engine { return p.engine }

// Request validates raw caller arguments and invokes the method. raw must
// be a JSON object with a non-empty method.
func (p *Provider) Request(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	args, err := core.ParseArgs(raw)
	if err != nil {
		return nil, invalidArgs(err, raw)
	}
	return p.Invoke(ctx, args.Method, args.Params)
}

// Invoke dispatches method with params and waits for its result. There is
// no built-in timeout.
func (p *Provider) Invoke(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	args := core.Args{Method: method, Params: params}
	if err := core.ValidateArgs(&args); err != nil {
		return nil, invalidArgs(err, nil)
	}
	req := rpc.NewRequest(p.ids, method, params)
	return unwrap(p.engine.Handle(ctx, req))
}

// InvokeBatch dispatches every entry and returns outcomes in input order.
// Invalid entries fail on their own without affecting the rest.
func (p *Provider) InvokeBatch(ctx context.Context, raws []json.RawMessage) []BatchOutcome {
	out := make([]BatchOutcome, len(raws))
	reqs := make([]*rpc.Request, 0, len(raws))
	slots := make([]int, 0, len(raws))
	for i, raw := range raws {
		args, err := core.ParseArgs(raw)
		if err != nil {
			out[i].Error = invalidArgs(err, raw)
			continue
		}
		reqs = append(reqs, rpc.NewRequest(p.ids, args.Method, args.Params))
		slots = append(slots, i)
	}
	for j, resp := range p.engine.HandleBatch(ctx, reqs) {
		res, err := unwrap(resp)
		if err != nil {
			out[slots[j]].Error = rpc.AsError(err)
			continue
		}
		out[slots[j]].Result = res
	}
	return out
}

// OnResponse delivers an inbound result event to its waiter. It reports
// whether a waiter was pending for (method, res.ID).
func (p *Provider) OnResponse(method string, res rpc.Result) bool {
	if res.Method == "" {
		res.Method = method
	}
	ok := p.reg.Deliver(method, res.ID, res)
	if !ok {
		p.logger.Debugw("dropping result with no pending request", "method", method, "id", res.ID)
	}
	return ok
}

// IsConnected reports whether the remote context has a logged-in session.
// Transport errors read as not connected.
func (p *Provider) IsConnected(ctx context.Context) bool {
	if p.conn == nil {
		return false
	}
	ok, err := p.conn.IsLoggedIn(ctx)
	if err != nil {
		p.logger.Warnw("is logged in", "error", err)
		return false
	}
	return ok
}

// TriggerLogin asks the remote context to start a login of loginType.
func (p *Provider) TriggerLogin(ctx context.Context, loginType string) error {
	if p.conn == nil {
		return ErrNoConnection
	}
	return p.conn.TriggerLogin(ctx, loginType)
}

// Open runs one remote-context interaction at url. If the context is
// closed by the user or reports an error, every request still pending is
// failed with that error.
func (p *Provider) Open(ctx context.Context, url string) (popup.Outcome, error) {
	if !p.opening.CompareAndSwap(false, true) {
		return "", popup.ErrBusy
	}

	rec := core.Interaction{ID: core.NewInteractionID(), URL: url}
	if at, err := core.IDTime(rec.ID); err == nil {
		rec.OpenedAt = at.UnixMilli()
	}
	log := p.logger.With("interaction", rec.ID, "url", url)
	log.Infow("opening remote context")

	pp := p.popupFor(url)
	outcome, err := pp.Open(ctx)
	p.dropIfClosed(pp)

	var remoteErr *popup.RemoteError
	if errors.Is(err, popup.ErrUserClosed) || errors.As(err, &remoteErr) {
		if n := p.reg.FailAll(err); n > 0 {
			log.Infow("failed pending requests", "count", n, "error", err)
		}
	}
	rec.ClosedAt = time.Now().UnixMilli()
	rec.Outcome = classify(outcome, err)
	if err != nil {
		rec.Error = err.Error()
		log.Infow("remote context ended", "outcome", rec.Outcome, "error", err)
	} else {
		log.Infow("remote context ended", "outcome", rec.Outcome)
	}
	if p.journal != nil {
		if jerr := p.journal.RecordInteraction(context.WithoutCancel(ctx), rec); jerr != nil {
			log.Warnw("record interaction", "error", jerr)
		}
	}
	p.opening.Store(false)
	p.notify(rec)
	return outcome, err
}

// Flush blocks until every queued interaction hook has run. It must not
// race a concurrent Open.
func (p *Provider) Flush() {
	p.hooks.Wait()
}

func (p *Provider) notify(rec core.Interaction) {
	if p.onInteraction == nil {
		return
	}
	p.hookMu.Lock()
	p.hookQueue = append(p.hookQueue, rec)
	if p.hookRunning {
		p.hookMu.Unlock()
		return
	}
	p.hookRunning = true
	p.hooks.Add(1)
	p.hookMu.Unlock()
	go p.drainHooks()
}

func (p *Provider) drainHooks() {
	defer p.hooks.Done()
	for {
		p.hookMu.Lock()
		if len(p.hookQueue) == 0 {
			p.hookRunning = false
			p.hookMu.Unlock()
			return
		}
		rec := p.hookQueue[0]
		p.hookQueue = p.hookQueue[1:]
		p.hookMu.Unlock()
		p.onInteraction(rec)
	}
}

// Popup returns the handle for url while it still holds a window, or nil.
func (p *Provider) Popup(url string) *popup.Popup {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popups[url]
}

func (p *Provider) popupFor(url string) *popup.Popup {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.popups[url]
	if !ok {
		opts := append([]popup.Option{popup.WithLogger(p.logger)}, p.popupOpts...)
		pp = popup.New(url, p.opener, p.bus, opts...)
		p.popups[url] = pp
	}
	return pp
}

// dropIfClosed forgets pp once its interaction left no window behind.
// Handles that still hold a window stay so the caller can reach it.
func (p *Provider) dropIfClosed(pp *popup.Popup) {
	if pp.Window() != nil {
		return
	}
	p.mu.Lock()
	if p.popups[pp.URL()] == pp {
		delete(p.popups, pp.URL())
	}
	p.mu.Unlock()
}

// forward registers a waiter for req, sends it to the remote context and
// waits for the correlated result.
func (p *Provider) forward(ctx context.Context, req *rpc.Request) (json.RawMessage, error) {
	if p.conn == nil {
		return nil, ErrNoConnection
	}
	w, err := p.reg.Register(req.Method, req.ID)
	if err != nil {
		return nil, err
	}
	p.recordRequest(ctx, req)
	if err := p.conn.SendRequest(ctx, *req); err != nil {
		w.Release()
		p.settleRequest(ctx, req.ID, err)
		return nil, fmt.Errorf("send %s: %w", req.Method, err)
	}
	res, err := w.Wait(ctx)
	p.settleRequest(ctx, req.ID, err)
	return res, err
}

func (p *Provider) recordRequest(ctx context.Context, req *rpc.Request) {
	if p.journal == nil {
		return
	}
	rec := core.RequestRecord{
		ID:        req.ID,
		Method:    req.Method,
		Params:    req.Params,
		Status:    core.RequestPending,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := p.journal.RecordRequest(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warnw("record request", "method", req.Method, "id", req.ID, "error", err)
	}
}

func (p *Provider) settleRequest(ctx context.Context, id uint64, reqErr error) {
	if p.journal == nil {
		return
	}
	status, msg := core.RequestResolved, ""
	if reqErr != nil {
		status, msg = core.RequestRejected, reqErr.Error()
	}
	if err := p.journal.SettleRequest(context.WithoutCancel(ctx), id, status, msg); err != nil {
		p.logger.Warnw("settle request", "id", id, "error", err)
	}
}

func classify(outcome popup.Outcome, err error) core.InteractionOutcome {
	var remoteErr *popup.RemoteError
	switch {
	case err == nil && outcome == popup.OutcomeDone:
		return core.OutcomeDone
	case err == nil:
		return core.OutcomeSuccess
	case errors.Is(err, popup.ErrUserClosed):
		return core.OutcomeUserClosed
	case errors.Is(err, popup.ErrBlocked):
		return core.OutcomeBlocked
	case errors.As(err, &remoteErr):
		return core.OutcomeError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.OutcomeCancelled
	default:
		return core.OutcomeError
	}
}

func invalidArgs(err error, raw json.RawMessage) *rpc.Error {
	msg := "Invalid request arguments"
	if errors.Is(err, core.ErrMissingMethod) {
		msg = "Invalid method argument"
	}
	var data json.RawMessage
	if json.Valid(raw) {
		data = raw
	}
	return rpc.InvalidRequest(msg, data)
}

// unwrap turns an engine response into the caller's result. A result
// object carrying error rejects; one carrying result resolves to the inner
// value.
func unwrap(resp *rpc.Response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	trimmed := bytes.TrimSpace(resp.Result)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return resp.Result, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return resp.Result, nil
	}
	if e, ok := wrapped["error"]; ok && !isEmpty(e) {
		var reason string
		if json.Unmarshal(e, &reason) == nil {
			return nil, correlate.MapError(reason)
		}
		return nil, &rpc.Error{Code: rpc.CodeInternal, Message: rpc.ErrInternal.Message, Data: e}
	}
	if r, ok := wrapped["result"]; ok && !isEmpty(r) {
		return r, nil
	}
	return resp.Result, nil
}

func isEmpty(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null")) || bytes.Equal(s, []byte(`""`)) || bytes.Equal(s, []byte("false"))
}
