package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rexliu/delegate/pkg/ipc"
)

// message is the native messaging envelope exchanged with the extension.
type message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Frames written back to the extension.
const (
	typeEvent = "event"
	typeAck   = "ack"
	typeError = "error"
)

// forwarded lists the extension message types relayed to the daemon.
var forwarded = map[string]bool{
	"ping":           true,
	"post_message":   true,
	"deliver_result": true,
	"session_state":  true,
	"window_closed":  true,
}

const callTimeout = 10 * time.Second

var errStdinClosed = errors.New("extension closed stdin")

type bridge struct {
	calls  *ipc.Client
	logger ipc.Logger

	mu  sync.Mutex
	out io.Writer
}

func newBridge(calls *ipc.Client, out io.Writer, logger ipc.Logger) *bridge {
	return &bridge{calls: calls, out: out, logger: logger}
}

// run relays frames from in to the daemon and remote events from the
// daemon to out until in is closed or ctx ends. events is dedicated to the
// remote event stream.
func (b *bridge) run(ctx context.Context, in io.ReadCloser, events *ipc.Client) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := events.Subscribe(gctx, "subscribe_remote", nil, func(raw json.RawMessage) error {
			return b.write(message{Type: typeEvent, Data: raw})
		})
		if gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("remote event stream: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		return in.Close()
	})
	g.Go(func() error {
		for {
			payload, err := ipc.ReadFrame(in)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
					return errStdinClosed
				}
				return fmt.Errorf("read frame: %w", err)
			}
			if err := b.handle(gctx, payload); err != nil {
				return err
			}
		}
	})
	err := g.Wait()
	if errors.Is(err, errStdinClosed) {
		return nil
	}
	return err
}

// handle relays one extension message. Only failures writing to the
// extension are returned; daemon errors are reported back as error frames.
func (b *bridge) handle(ctx context.Context, payload []byte) error {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Printf("invalid message: %v", err)
		return b.writeError("", ipc.CodeInvalidRequest, "invalid message")
	}
	if !forwarded[msg.Type] {
		return b.writeError(msg.ID, ipc.CodeInvalidRequest, "unknown message type "+msg.Type)
	}
	var params any
	if len(msg.Data) > 0 {
		params = msg.Data
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	var result json.RawMessage
	if err := b.calls.Call(callCtx, msg.Type, params, &result); err != nil {
		var ipcErr *ipc.Error
		if errors.As(err, &ipcErr) {
			return b.writeError(msg.ID, ipcErr.Code, ipcErr.Message)
		}
		return fmt.Errorf("call %s: %w", msg.Type, err)
	}
	return b.write(message{Type: typeAck, ID: msg.ID, Data: result})
}

func (b *bridge) writeError(id, code, text string) error {
	data, err := json.Marshal(ipc.Error{Code: code, Message: text})
	if err != nil {
		return err
	}
	return b.write(message{Type: typeError, ID: id, Data: data})
}

func (b *bridge) write(msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return ipc.WriteFrame(b.out, payload)
}
