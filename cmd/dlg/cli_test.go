package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/delegate/pkg/config"
	"github.com/rexliu/delegate/pkg/ipc"
	"github.com/rexliu/delegate/pkg/logging"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func fakeDaemon(t *testing.T, register func(*ipc.Server)) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := ipc.NewServer(logging.Nop())
	register(srv)
	socket := filepath.Join(t.TempDir(), "ipc.sock")
	require.NoError(t, srv.Start(ctx, socket))
	t.Cleanup(func() {
		cancel()
		require.NoError(t, srv.Stop())
	})
	return socket
}

func TestInitDiagAndRemote(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "work")

	out, err := runCLI(t, "init", "--profile", profile, "--url", "https://wallet.example/popup")
	require.NoError(t, err)
	require.Contains(t, out, "profile work initialized")

	_, err = runCLI(t, "init", "--profile", profile)
	require.Error(t, err)

	out, err = runCLI(t, "diag", "--profile", profile)
	require.NoError(t, err)
	require.Contains(t, out, "Remote Context: https://wallet.example/popup")
	require.Contains(t, out, "Opener: extension bridge")
	require.Contains(t, out, "Watchdog: 500ms")

	out, err = runCLI(t, "remote", "show", "--profile", profile)
	require.NoError(t, err)
	require.Contains(t, out, "remote not configured")

	_, err = runCLI(t, "remote", "set", "https://git.example/journal.git", "--profile", profile)
	require.NoError(t, err)
	cfg, err := config.LoadProfile(profile)
	require.NoError(t, err)
	require.True(t, cfg.VCS.Enabled)
	require.Equal(t, "https://git.example/journal.git", cfg.VCS.Remote.URL)
}

func TestRequestForwardsMethodAndParams(t *testing.T) {
	type forwarded struct {
		Request struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		} `json:"request"`
		TimeoutMs int `json:"timeoutMs"`
	}
	seen := make(chan forwarded, 1)
	socket := fakeDaemon(t, func(srv *ipc.Server) {
		srv.Register("request", func(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
			var req forwarded
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
			}
			seen <- req
			return map[string]any{"result": "0xsig"}, nil
		})
	})

	out, err := runCLI(t, "request", "personal_sign", `["0x68656c6c6f","0xabc"]`, "--socket", socket, "--timeout", "1500ms")
	require.NoError(t, err)
	require.Equal(t, "\"0xsig\"\n", out)
	got := <-seen
	require.Equal(t, "personal_sign", got.Request.Method)
	require.JSONEq(t, `["0x68656c6c6f","0xabc"]`, string(got.Request.Params))
	require.Equal(t, 1500, got.TimeoutMs)

	_, err = runCLI(t, "request", "personal_sign", `not json`, "--socket", socket)
	require.Error(t, err)
}

func TestOpenReportsDaemonError(t *testing.T) {
	socket := fakeDaemon(t, func(srv *ipc.Server) {
		srv.Register("open_popup", func(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
			var req struct {
				URL string `json:"url"`
			}
			_ = json.Unmarshal(params, &req)
			if req.URL == "" {
				return map[string]any{"outcome": "done", "url": "https://default.example"}, nil
			}
			return nil, ipc.Errorf(ipc.CodeUserClosed, "User closed the popup", nil)
		})
	})

	out, err := runCLI(t, "open", "--socket", socket)
	require.NoError(t, err)
	require.Equal(t, "https://default.example: done\n", out)

	_, err = runCLI(t, "open", "https://wallet.example", "--socket", socket)
	var ipcErr *ipc.Error
	require.True(t, errors.As(err, &ipcErr))
	require.Equal(t, ipc.CodeUserClosed, ipcErr.Code)
}

func TestBatchReadsFile(t *testing.T) {
	socket := fakeDaemon(t, func(srv *ipc.Server) {
		srv.Register("batch", func(_ context.Context, params json.RawMessage) (any, *ipc.Error) {
			var req struct {
				Requests []json.RawMessage `json:"requests"`
			}
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, ipc.Errorf(ipc.CodeInvalidRequest, err.Error(), nil)
			}
			return map[string]any{"count": len(req.Requests)}, nil
		})
	})
	file := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"method":"eth_accounts"},{"method":"eth_chainId"}]`), 0o600))

	out, err := runCLI(t, "batch", "--file", file, "--socket", socket)
	require.NoError(t, err)
	require.JSONEq(t, `{"count":2}`, out)

	require.NoError(t, os.WriteFile(file, []byte(`{"method":"eth_accounts"}`), 0o600))
	_, err = runCLI(t, "batch", "--file", file, "--socket", socket)
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	require.Equal(t, "dlg "+version+"\n", out)
}

func TestPingSendsProfileToken(t *testing.T) {
	profile := t.TempDir()
	cfg := config.DefaultProfile("secure")
	cfg.IPC.RequireToken = true
	token, err := config.EnsureToken(profile, cfg.IPC)
	require.NoError(t, err)

	socket := fakeDaemon(t, func(srv *ipc.Server) {
		srv.RequireToken(token)
		srv.Register("ping", func(context.Context, json.RawMessage) (any, *ipc.Error) {
			return map[string]any{"now": int64(0)}, nil
		})
	})
	cfg.IPC.SocketPath = socket
	require.NoError(t, config.Save(filepath.Join(profile, config.FileName), cfg))

	out, err := runCLI(t, "ping", "--profile", profile)
	require.NoError(t, err)
	require.Contains(t, out, "pong")

	// Without the profile the token is unknown.
	_, err = runCLI(t, "ping", "--profile", filepath.Join(profile, "missing"), "--socket", socket)
	var ipcErr *ipc.Error
	require.True(t, errors.As(err, &ipcErr))
	require.Equal(t, ipc.CodeUnauthorized, ipcErr.Code)
}
