package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"type":"ping"}`)))
	require.Equal(t, []byte{15, 0, 0, 0}, buf.Bytes()[:4])
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, `{"type":"ping"}`, string(got))

	_, err = ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

type testingLogger struct{ *testing.T }

func (l *testingLogger) Printf(format string, v ...any) { l.Logf(format, v...) }

func TestCallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	socket := startServer(t, ctx, func(srv *Server) {
		srv.Register("echo", func(_ context.Context, params json.RawMessage) (any, *Error) {
			var in map[string]any
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, Errorf(CodeInvalidRequest, "invalid params", nil)
			}
			return in, nil
		})
		srv.Register("fail", func(context.Context, json.RawMessage) (any, *Error) {
			return nil, Errorf(CodeUserClosed, "User closed the popup", map[string]any{"url": "u"})
		})
	})

	client, err := Dial(ctx, socket)
	require.NoError(t, err)
	defer client.Close()

	var out map[string]any
	require.NoError(t, client.Call(ctx, "echo", map[string]any{"a": "b"}, &out))
	require.Equal(t, "b", out["a"])

	var raw json.RawMessage
	require.NoError(t, client.Call(ctx, "echo", map[string]any{"n": 1}, &raw))
	require.JSONEq(t, `{"n":1}`, string(raw))

	err = client.Call(ctx, "fail", nil, nil)
	var ipcErr *Error
	require.True(t, errors.As(err, &ipcErr))
	require.Equal(t, CodeUserClosed, ipcErr.Code)
	require.Equal(t, "u", ipcErr.Details["url"])

	err = client.Call(ctx, "nope", nil, nil)
	require.True(t, errors.As(err, &ipcErr))
	require.Equal(t, CodeInvalidRequest, ipcErr.Code)
}

func TestCallContextCancelClosesConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	release := make(chan struct{})
	socket := startServer(t, ctx, func(srv *Server) {
		srv.Register("slow", func(context.Context, json.RawMessage) (any, *Error) {
			<-release
			return "late", nil
		})
	})
	defer close(release)

	client, err := Dial(ctx, socket)
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer callCancel()
	err = client.Call(callCtx, "slow", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan string, 4)
	socket := startServer(t, ctx, func(srv *Server) {
		srv.RegisterStream("watch", func(ctx context.Context, _ json.RawMessage, send func(any) error) *Error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if err := send(map[string]string{"event": ev}); err != nil {
						return nil
					}
				}
			}
		})
	})

	client, err := Dial(ctx, socket)
	require.NoError(t, err)
	defer client.Close()

	events <- "one"
	events <- "two"
	close(events)

	var got []string
	err = client.Subscribe(ctx, "watch", nil, func(raw json.RawMessage) error {
		var ev map[string]string
		require.NoError(t, json.Unmarshal(raw, &ev))
		got = append(got, ev["event"])
		return nil
	})
	require.ErrorIs(t, err, ErrStreamClosed)
	require.Equal(t, []string{"one", "two"}, got)
}

func TestStreamEndsWhenClientLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ended := make(chan struct{})
	socket := startServer(t, ctx, func(srv *Server) {
		srv.RegisterStream("watch", func(ctx context.Context, _ json.RawMessage, send func(any) error) *Error {
			defer close(ended)
			_ = send("hello")
			<-ctx.Done()
			return nil
		})
	})

	client, err := Dial(ctx, socket)
	require.NoError(t, err)
	defer client.Close()

	subCtx, subCancel := context.WithCancel(ctx)
	err = client.Subscribe(subCtx, "watch", nil, func(json.RawMessage) error {
		subCancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not observe disconnect")
	}
}

func startServer(t *testing.T, ctx context.Context, register func(*Server)) string {
	t.Helper()
	srv := NewServer(&testingLogger{t})
	register(srv)
	socket := filepath.Join(t.TempDir(), "ipc.sock")
	require.NoError(t, srv.Start(ctx, socket))
	t.Cleanup(func() { require.NoError(t, srv.Stop()) })
	return socket
}

func TestRequireToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	socket := startServer(t, ctx, func(srv *Server) {
		srv.RequireToken("s3cret")
		srv.Register("ping", func(context.Context, json.RawMessage) (any, *Error) {
			return "pong", nil
		})
	})

	client, err := Dial(ctx, socket)
	require.NoError(t, err)
	defer client.Close()

	err = client.Call(ctx, "ping", nil, nil)
	var ipcErr *Error
	require.True(t, errors.As(err, &ipcErr))
	require.Equal(t, CodeUnauthorized, ipcErr.Code)

	client.SetToken("s3cret")
	var out string
	require.NoError(t, client.Call(ctx, "ping", nil, &out))
	require.Equal(t, "pong", out)
}
