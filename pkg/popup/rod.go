package popup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// bindingName is the runtime binding the page posts lifecycle and result
// messages through.
const bindingName = "__delegatePost"

// openerShim routes window.opener.postMessage (and window.parent.postMessage
// in a top-level page) into the binding, so a remote UI written against
// window.open works unchanged inside a CDP-created page.
const openerShim = `(() => {
	const post = (data) => {
		try { window.` + bindingName + `(JSON.stringify(data)); } catch (e) {}
	};
	if (!window.opener) {
		try {
			Object.defineProperty(window, 'opener', { value: { postMessage: post }, configurable: true });
		} catch (e) {}
	}
	if (window.parent === window) {
		try {
			Object.defineProperty(window, 'parent', { value: { postMessage: post }, configurable: true });
		} catch (e) {}
	}
})()`

// RodConfig selects the Chrome instance the opener drives.
type RodConfig struct {
	ControlURL string
	Launch     []string
	Headless   bool
}

// RodOpener opens remote contexts as Chrome pages over the DevTools
// protocol. Messages the page posts are handed to publish.
type RodOpener struct {
	cfg     RodConfig
	publish func(json.RawMessage)
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	ctx     context.Context
	browser *rod.Browser
}

// NewRodOpener returns an opener that publishes page messages with publish.
func NewRodOpener(cfg RodConfig, publish func(json.RawMessage), logger *zap.SugaredLogger) *RodOpener {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RodOpener{cfg: cfg, publish: publish, logger: logger}
}

// Start connects to the configured Chrome or launches one. ctx bounds the
// lifetime of the browser connection and every page event stream.
func (o *RodOpener) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browser != nil {
		if _, err := o.browser.Version(); err == nil {
			return nil
		}
		o.logger.Warn("stale browser connection, reconnecting")
		_ = o.browser.Close()
		o.browser = nil
	}

	controlURL := o.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(o.cfg.Headless)
		if len(o.cfg.Launch) > 0 {
			l = l.Bin(o.cfg.Launch[0])
			for _, raw := range o.cfg.Launch[1:] {
				name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
				if hasVal {
					l = l.Set(flags.Flag(name), val)
				} else {
					l = l.Set(flags.Flag(name))
				}
			}
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	o.ctx = ctx
	o.browser = browser
	return nil
}

// Shutdown closes the browser connection.
func (o *RodOpener) Shutdown() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browser == nil {
		return nil
	}
	err := o.browser.Close()
	o.browser = nil
	return err
}

// Open implements Opener.
func (o *RodOpener) Open(ctx context.Context, url, features string) (Window, error) {
	o.mu.Lock()
	browser, base := o.browser, o.ctx
	o.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	fail := func(err error) (Window, error) {
		_ = page.Close()
		return nil, err
	}

	table := ParseFeatures(features)
	if table["width"] > 0 && table["height"] > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             table["width"],
			Height:            table["height"],
			DeviceScaleFactor: 1.0,
		}).Call(page); err != nil {
			o.logger.Warnw("set popup viewport", "error", err)
		}
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return fail(fmt.Errorf("add binding: %w", err))
	}
	if _, err := page.EvalOnNewDocument(openerShim); err != nil {
		return fail(fmt.Errorf("install opener shim: %w", err))
	}

	streamCtx, cancel := context.WithCancel(base)
	win := &rodWindow{page: page, cancel: cancel}
	wait := page.Context(streamCtx).EachEvent(func(ev *proto.RuntimeBindingCalled) {
		if ev.Name != bindingName {
			return
		}
		if !json.Valid([]byte(ev.Payload)) {
			o.logger.Debugw("dropping non-JSON page message", "url", url)
			return
		}
		o.publish(json.RawMessage(ev.Payload))
	})
	go wait()

	if err := page.Context(ctx).Navigate(url); err != nil {
		cancel()
		return fail(fmt.Errorf("navigate %s: %w", url, err))
	}
	return win, nil
}

type rodWindow struct {
	page   *rod.Page
	cancel context.CancelFunc
	closed atomic.Bool
}

// Closed samples the page target; once it is gone the event stream stops.
func (w *rodWindow) Closed() bool {
	if w.closed.Load() {
		return true
	}
	if _, err := w.page.Info(); err != nil {
		w.closed.Store(true)
		w.cancel()
		return true
	}
	return false
}

func (w *rodWindow) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.cancel()
	return w.page.Close()
}
