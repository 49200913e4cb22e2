package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rexliu/delegate/pkg/core"
	"github.com/rexliu/delegate/pkg/popup"
	"github.com/rexliu/delegate/pkg/rpc"
)

// errNotAttached is returned when no bridge is listening for remote events.
var errNotAttached = errors.New("remote context not attached")

// hubConnection reaches the remote context through the bridges subscribed
// to the event hub.
type hubConnection struct {
	hub      *eventHub
	loggedIn atomic.Bool
	reported atomic.Bool
}

func (c *hubConnection) IsLoggedIn(context.Context) (bool, error) {
	if c.hub.attached() == 0 {
		return false, errNotAttached
	}
	if !c.reported.Load() {
		return false, errors.New("remote context has not reported its session")
	}
	return c.loggedIn.Load(), nil
}

func (c *hubConnection) setSession(loggedIn bool) {
	c.loggedIn.Store(loggedIn)
	c.reported.Store(true)
}

func (c *hubConnection) TriggerLogin(_ context.Context, loginType string) error {
	if c.hub.broadcast(remoteEvent{Kind: eventLogin, LoginType: loginType}) == 0 {
		return errNotAttached
	}
	return nil
}

func (c *hubConnection) SendRequest(_ context.Context, req rpc.Request) error {
	if c.hub.broadcast(remoteEvent{Kind: eventRequest, Request: &req}) == 0 {
		return errNotAttached
	}
	return nil
}

// bridgeOpener asks the extension to open windows. The extension reports
// closure with window_closed.
type bridgeOpener struct {
	hub *eventHub

	mu      sync.Mutex
	windows map[string]*bridgeWindow
}

func newBridgeOpener(hub *eventHub) *bridgeOpener {
	return &bridgeOpener{hub: hub, windows: make(map[string]*bridgeWindow)}
}

func (o *bridgeOpener) Open(_ context.Context, url, features string) (popup.Window, error) {
	win := &bridgeWindow{id: core.NewInteractionID(), opener: o}
	o.mu.Lock()
	o.windows[win.id] = win
	o.mu.Unlock()
	if o.hub.broadcast(remoteEvent{Kind: eventOpen, WindowID: win.id, URL: url, Features: features}) == 0 {
		o.forget(win.id)
		return nil, errNotAttached
	}
	return win, nil
}

// markClosed flags the window the extension reported closed. An empty id
// marks every open window.
func (o *bridgeOpener) markClosed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id == "" {
		for wid, win := range o.windows {
			win.closed.Store(true)
			delete(o.windows, wid)
		}
		return true
	}
	win, ok := o.windows[id]
	if ok {
		win.closed.Store(true)
		delete(o.windows, id)
	}
	return ok
}

func (o *bridgeOpener) forget(id string) {
	o.mu.Lock()
	delete(o.windows, id)
	o.mu.Unlock()
}

type bridgeWindow struct {
	id     string
	opener *bridgeOpener
	closed atomic.Bool
}

func (w *bridgeWindow) Closed() bool { return w.closed.Load() }

func (w *bridgeWindow) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.opener.forget(w.id)
	w.opener.hub.broadcast(remoteEvent{Kind: eventClose, WindowID: w.id})
	return nil
}
