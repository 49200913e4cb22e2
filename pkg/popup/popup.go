// Package popup manages the lifecycle of the remote context: a window (or
// frame) that performs privileged work on the user's behalf and reports
// back through the message bus.
//
// Each Open is one interaction. It installs a single message handler (the
// gate) and a single watchdog that samples the window for user closure,
// and tears both down before returning exactly one outcome.
package popup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often the watchdog samples the window.
const DefaultPollInterval = 500 * time.Millisecond

var (
	// ErrUserClosed is returned when the window is closed before the remote
	// context reported a terminal status.
	ErrUserClosed = errors.New("User closed the popup")
	// ErrBlocked is returned when the opener could not create a window.
	ErrBlocked = errors.New("popup: window could not be opened")
	// ErrBusy is returned when Open is called while an interaction is active.
	ErrBusy = errors.New("popup: interaction already in progress")
)

// RemoteError carries the reason reported with status "error".
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return "popup: remote context error: " + e.Reason
}

// Outcome is a successful terminal result of an interaction.
type Outcome string

const (
	// OutcomeSuccess means the work is complete and the window was closed.
	OutcomeSuccess Outcome = "success"
	// OutcomeDone means the interaction is over but the window stays open.
	OutcomeDone Outcome = "done"
)

// Status values of inbound lifecycle messages.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusDone    = "done"
)

// Message is the inbound lifecycle message shape.
type Message struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Window is a live remote context.
type Window interface {
	// Closed reports whether the window has gone away.
	Closed() bool
	Close() error
}

// Opener creates windows.
type Opener interface {
	Open(ctx context.Context, url, features string) (Window, error)
}

// Option configures a Popup.
type Option func(*Popup)

// WithPollInterval overrides the watchdog interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Popup) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithFeatures overrides the window feature table.
func WithFeatures(features []Feature) Option {
	return func(p *Popup) { p.features = features }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Popup) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Popup is the handle for one remote-context target URL.
type Popup struct {
	url      string
	opener   Opener
	bus      Bus
	interval time.Duration
	features []Feature
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	window Window
	active bool
}

// New returns a handle for url. Nothing is opened until Open is called.
func New(url string, opener Opener, bus Bus, opts ...Option) *Popup {
	p := &Popup{
		url:      url,
		opener:   opener,
		bus:      bus,
		interval: DefaultPollInterval,
		features: DefaultFeatures,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// URL returns the target URL.
func (p *Popup) URL() string { return p.url }

// Window returns the live window, or nil when none is open.
func (p *Popup) Window() Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

// Open opens the window and blocks until the interaction reaches a
// terminal outcome. There is no built-in timeout; bound it with ctx. When
// ctx ends the listener and watchdog are removed, ctx.Err() is returned and
// the window is left as it is.
func (p *Popup) Open(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return "", ErrBusy
	}
	p.active = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}()

	win, err := p.opener.Open(ctx, p.url, FeatureString(p.features))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	if win == nil {
		return "", ErrBlocked
	}
	p.setWindow(win)
	return p.await(ctx, win)
}

type settlement struct {
	outcome Outcome
	err     error
}

func (p *Popup) await(ctx context.Context, win Window) (Outcome, error) {
	var (
		once      sync.Once
		settled   atomic.Bool
		cleanExit atomic.Bool
		wg        sync.WaitGroup
	)
	result := make(chan settlement, 1)
	stop := make(chan struct{})
	settle := func(s settlement) {
		once.Do(func() {
			settled.Store(true)
			result <- s
		})
	}

	unsubscribe := p.bus.Subscribe(func(raw json.RawMessage) {
		if settled.Load() {
			return
		}
		msg, ok := parseMessage(raw)
		if !ok {
			return
		}
		switch msg.Status {
		case StatusSuccess:
			cleanExit.Store(true)
			settle(settlement{outcome: OutcomeSuccess})
		case StatusError:
			cleanExit.Store(true)
			settle(settlement{err: &RemoteError{Reason: msg.Error}})
		case StatusDone:
			cleanExit.Store(true)
			settle(settlement{outcome: OutcomeDone})
		default:
			p.logger.Warnw("unexpected popup status", "status", msg.Status, "url", p.url)
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !cleanExit.Load() && win.Closed() {
					settle(settlement{err: ErrUserClosed})
					return
				}
			}
		}
	}()

	var s settlement
	select {
	case s = <-result:
	case <-ctx.Done():
		settle(settlement{err: ctx.Err()})
		s = <-result
	}
	unsubscribe()
	close(stop)
	wg.Wait()

	var remoteErr *RemoteError
	switch {
	case s.err == nil && s.outcome == OutcomeSuccess, errors.As(s.err, &remoteErr):
		if err := win.Close(); err != nil {
			p.logger.Warnw("close popup", "url", p.url, "error", err)
		}
		p.clearWindow(win)
	case errors.Is(s.err, ErrUserClosed):
		p.clearWindow(win)
	}
	return s.outcome, s.err
}

func (p *Popup) setWindow(win Window) {
	p.mu.Lock()
	p.window = win
	p.mu.Unlock()
}

func (p *Popup) clearWindow(win Window) {
	p.mu.Lock()
	if p.window == win {
		p.window = nil
	}
	p.mu.Unlock()
}

// parseMessage accepts JSON objects carrying a non-empty string status.
func parseMessage(raw json.RawMessage) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false
	}
	if msg.Status == "" {
		return Message{}, false
	}
	return msg, true
}
