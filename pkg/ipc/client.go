package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned by Subscribe when the server ends the stream.
var ErrStreamClosed = errors.New("ipc: stream closed")

// Client is a connection to an IPC server. Calls on one client are
// serialized.
type Client struct {
	conn  net.Conn
	mu    sync.Mutex
	seq   atomic.Uint64
	token string
}

// Dial connects to the server listening on endpoint.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", endpoint)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// SetToken attaches token to every request sent afterwards.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends method with params and decodes the result into out (which may
// be nil). A server-side failure is returned as *Error. If ctx ends first
// the connection is closed and can no longer be used.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	id, err := c.send(method, params)
	if err != nil {
		return c.ctxErr(ctx, err)
	}
	resp, err := c.read()
	if err != nil {
		return c.ctxErr(ctx, err)
	}
	if resp.ID != id {
		return fmt.Errorf("ipc: response id %q does not match request %q", resp.ID, id)
	}
	if !resp.OK {
		if resp.Error != nil {
			return resp.Error
		}
		return &Error{Code: CodeInternal, Message: "request failed"}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], resp.Result...)
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// Subscribe starts a stream and calls fn for every event until ctx ends,
// fn returns an error or the server ends the stream. The client is
// dedicated to the stream afterwards.
func (c *Client) Subscribe(ctx context.Context, method string, params any, fn func(json.RawMessage) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	if _, err := c.send(method, params); err != nil {
		return c.ctxErr(ctx, err)
	}
	ack, err := c.read()
	if err != nil {
		return c.ctxErr(ctx, err)
	}
	if !ack.OK {
		if ack.Error != nil {
			return ack.Error
		}
		return ErrStreamClosed
	}
	for {
		resp, err := c.read()
		if errors.Is(err, io.EOF) && ctx.Err() == nil {
			return ErrStreamClosed
		}
		if err != nil {
			return c.ctxErr(ctx, err)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if err := fn(resp.Result); err != nil {
			return err
		}
	}
}

func (c *Client) send(method string, params any) (string, error) {
	id := strconv.FormatUint(c.seq.Add(1), 10)
	req := Request{ID: id, Type: method, Token: c.token}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", err
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return id, writeFrame(c.conn, payload)
}

func (c *Client) read() (Response, error) {
	payload, err := readFrame(c.conn)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
