package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rexliu/delegate/pkg/appinfo"
	"github.com/rexliu/delegate/pkg/ipc"
	"github.com/rexliu/delegate/pkg/popup"
	"github.com/rexliu/delegate/pkg/provider"
	"github.com/rexliu/delegate/pkg/rpc"
	gitvcs "github.com/rexliu/delegate/pkg/vcs/git"
)

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("ping", pingHandler(d.logger))
	srv.Register("request", d.handleRequest)
	srv.Register("batch", d.handleBatch)
	srv.Register("is_connected", d.handleIsConnected)
	srv.Register("trigger_login", d.handleTriggerLogin)
	srv.Register("open_popup", d.handleOpenPopup)
	srv.Register("journal", d.handleJournal)
	srv.Register("app_info", d.handleAppInfo)
	srv.Register("vcs_push", d.handleVCSPush)
	srv.Register("vcs_pull", d.handleVCSPull)
	srv.Register("vcs_status", d.handleVCSStatus)

	srv.Register("post_message", d.handlePostMessage)
	srv.Register("deliver_result", d.handleDeliverResult)
	srv.Register("session_state", d.handleSessionState)
	srv.Register("window_closed", d.handleWindowClosed)
	srv.RegisterStream("subscribe_remote", d.handleSubscribeRemote)
}

func pingHandler(logger ipc.Logger) ipc.HandlerFunc {
	return func(context.Context, json.RawMessage) (any, *ipc.Error) {
		now := time.Now().UnixMilli()
		if logger != nil {
			logger.Printf("received ping at %d", now)
		}
		return map[string]any{"now": now}, nil
	}
}

// withTimeout bounds ctx when the caller asked for a timeout.
func withTimeout(ctx context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}

func decodeParams(params json.RawMessage, v any) *ipc.Error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return ipc.Errorf(ipc.CodeInvalidRequest, "invalid params", nil)
	}
	return nil
}

func (d *daemon) handleRequest(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Request   json.RawMessage `json:"request"`
		TimeoutMs int             `json:"timeoutMs"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, req.TimeoutMs)
	defer cancel()
	result, err := d.provider.Request(ctx, req.Request)
	if err != nil {
		return nil, toIPCError(err)
	}
	return map[string]any{"result": result}, nil
}

func (d *daemon) handleBatch(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Requests  []json.RawMessage `json:"requests"`
		TimeoutMs int               `json:"timeoutMs"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if len(req.Requests) == 0 {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "requests required", nil)
	}
	ctx, cancel := withTimeout(ctx, req.TimeoutMs)
	defer cancel()
	return map[string]any{"results": batchEntries(d.provider.InvokeBatch(ctx, req.Requests))}, nil
}

// batchEntry is one batch result on the wire. Failures carry the same codes
// a single request would get.
type batchEntry struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ipc.Error      `json:"error,omitempty"`
}

func batchEntries(outcomes []provider.BatchOutcome) []batchEntry {
	out := make([]batchEntry, len(outcomes))
	for i, o := range outcomes {
		if o.Error != nil {
			out[i].Error = toIPCError(o.Error)
			continue
		}
		out[i].Result = o.Result
	}
	return out
}

func (d *daemon) handleIsConnected(ctx context.Context, _ json.RawMessage) (any, *ipc.Error) {
	return map[string]any{"connected": d.provider.IsConnected(ctx)}, nil
}

func (d *daemon) handleTriggerLogin(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		LoginType string `json:"loginType"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.LoginType == "" {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "loginType required", nil)
	}
	if err := d.provider.TriggerLogin(ctx, req.LoginType); err != nil {
		return nil, toIPCError(err)
	}
	return map[string]any{"status": "ok"}, nil
}

func (d *daemon) handleOpenPopup(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		URL       string `json:"url"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		req.URL = d.cfg.Remote.URL
	}
	if req.URL == "" {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "url required (set remote.url in config)", nil)
	}
	ctx, cancel := withTimeout(ctx, req.TimeoutMs)
	defer cancel()
	outcome, err := d.provider.Open(ctx, req.URL)
	if err != nil {
		return nil, toIPCError(err)
	}
	return map[string]any{"outcome": outcome, "url": req.URL}, nil
}

func (d *daemon) handleJournal(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	snap, err := d.store.Snapshot(ctx, d.cfg.ProfileName, req.Limit)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeStorage, err.Error(), nil)
	}
	return snap, nil
}

func (d *daemon) handleAppInfo(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	req := struct {
		AppID      string `json:"appId"`
		Theme      string `json:"theme"`
		GatewayURL string `json:"gatewayURL"`
	}{AppID: d.cfg.App.ID, Theme: d.cfg.App.Theme, GatewayURL: d.cfg.App.GatewayURL}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.AppID == "" || req.GatewayURL == "" {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "appId and gatewayURL required", nil)
	}
	images, err := appinfo.ImageURLs(req.AppID, appinfo.Theme(req.Theme), req.GatewayURL)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
	}
	info, err := appinfo.Fetch(ctx, d.httpClient, req.AppID, req.GatewayURL)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeUnavailable, err.Error(), map[string]any{"images": images})
	}
	return map[string]any{"images": images, "info": info}, nil
}

func (d *daemon) handleVCSPush(ctx context.Context, _ json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return nil, ipc.Errorf(ipc.CodeVCS, "git repo unavailable", nil)
	}
	if err := d.repo.Push(ctx); err != nil {
		return nil, vcsError(err)
	}
	return map[string]any{"status": "ok"}, nil
}

func (d *daemon) handleVCSPull(ctx context.Context, _ json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return nil, ipc.Errorf(ipc.CodeVCS, "git repo unavailable", nil)
	}
	if err := d.repo.Pull(ctx); err != nil {
		return nil, vcsError(err)
	}
	return d.handleVCSStatus(ctx, nil)
}

func (d *daemon) handleVCSStatus(ctx context.Context, _ json.RawMessage) (any, *ipc.Error) {
	if d.repo == nil {
		return map[string]any{"enabled": false}, nil
	}
	sum, err := d.repo.Summary(ctx)
	if err != nil {
		return nil, ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
	}
	return map[string]any{"enabled": true, "summary": sum}, nil
}

func vcsError(err error) *ipc.Error {
	if errors.Is(err, gitvcs.ErrNoRemote) {
		return ipc.Errorf(ipc.CodeVCS, "no remote configured; set vcs.remote.url", nil)
	}
	return ipc.Errorf(ipc.CodeVCS, err.Error(), nil)
}

func (d *daemon) handlePostMessage(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
	if len(params) == 0 || !json.Valid(params) {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "message must be JSON", nil)
	}
	d.bus.Publish(params)
	return map[string]any{"status": "ok"}, nil
}

func (d *daemon) handleDeliverResult(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
	var res rpc.Result
	if err := decodeParams(params, &res); err != nil {
		return nil, err
	}
	if res.Method == "" {
		return nil, ipc.Errorf(ipc.CodeInvalidRequest, "method required", nil)
	}
	return map[string]any{"delivered": d.provider.OnResponse(res.Method, res)}, nil
}

func (d *daemon) handleSessionState(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		LoggedIn bool `json:"loggedIn"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	d.conn.setSession(req.LoggedIn)
	return map[string]any{"status": "ok"}, nil
}

func (d *daemon) handleWindowClosed(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		WindowID string `json:"windowId"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if d.bridge == nil {
		return map[string]any{"known": false}, nil
	}
	return map[string]any{"known": d.bridge.markClosed(req.WindowID)}, nil
}

func (d *daemon) handleSubscribeRemote(ctx context.Context, _ json.RawMessage, send func(any) error) *ipc.Error {
	client := d.hub.register()
	defer d.hub.unregister(client)
	d.logger.Printf("remote bridge attached (%d listening)", d.hub.attached())
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-client.send:
			if err := send(json.RawMessage(payload)); err != nil {
				return nil
			}
		}
	}
}

// toIPCError maps provider failures onto wire codes. Popup outcomes are
// checked first since they also surface wrapped in rpc errors.
func toIPCError(err error) *ipc.Error {
	var remoteErr *popup.RemoteError
	var rpcErr *rpc.Error
	switch {
	case errors.Is(err, popup.ErrUserClosed):
		return ipc.Errorf(ipc.CodeUserClosed, popup.ErrUserClosed.Error(), nil)
	case errors.As(err, &remoteErr):
		return ipc.Errorf(ipc.CodeRemoteError, remoteErr.Reason, nil)
	case errors.Is(err, popup.ErrBlocked):
		return ipc.Errorf(ipc.CodeBlocked, err.Error(), nil)
	case errors.Is(err, popup.ErrBusy):
		return ipc.Errorf(ipc.CodeBusy, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ipc.Errorf(ipc.CodeTimeout, err.Error(), nil)
	case errors.Is(err, provider.ErrNoConnection), errors.Is(err, errNotAttached):
		return ipc.Errorf(ipc.CodeUnavailable, err.Error(), nil)
	case errors.As(err, &rpcErr):
		details := map[string]any{"code": rpcErr.Code}
		if len(rpcErr.Data) > 0 {
			details["data"] = rpcErr.Data
		}
		return ipc.Errorf(ipc.CodeRPC, rpcErr.Message, details)
	default:
		return ipc.Errorf(ipc.CodeInternal, err.Error(), nil)
	}
}
