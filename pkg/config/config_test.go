package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadProfile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultProfile("dev")
	cfg.Remote.URL = "https://wallet.example/login"
	cfg.Remote.Launch = []string{"/usr/bin/chromium", "--no-first-run"}
	cfg.Upstream.RPCURL = "https://rpc.example"
	require.NoError(t, Save(filepath.Join(dir, FileName), cfg))

	loaded, err := LoadProfile(dir)
	require.NoError(t, err)
	require.Equal(t, "dev", loaded.ProfileName)
	require.Equal(t, "https://wallet.example/login", loaded.Remote.URL)
	require.Equal(t, cfg.Remote.Launch, loaded.Remote.Launch)
	require.True(t, loaded.Remote.UseBrowser())
	require.Equal(t, 500*time.Millisecond, loaded.Remote.PollInterval())
	require.Equal(t, "main", loaded.VCS.Branch)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing profile", body: "[storage]\ndbPath = \"j.db\"\n", wantErr: "profileName"},
		{name: "missing db", body: "profileName = \"x\"\n[ipc]\nsocketPath = \"s\"\n", wantErr: "storage.dbPath"},
		{name: "missing socket", body: "profileName = \"x\"\n[storage]\ndbPath = \"j.db\"\n", wantErr: "ipc.socketPath"},
		{name: "negative poll", body: "profileName = \"x\"\n[storage]\ndbPath = \"j.db\"\n[ipc]\nsocketPath = \"s\"\n[remote]\npollIntervalMs = -1\n", wantErr: "pollIntervalMs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := Load(path)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := "profileName = \"x\"\n[storage]\ndbPath = \"j.db\"\n[ipc]\nsocketPath = \"s\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "main", cfg.VCS.Branch)
	require.Equal(t, DefaultPollInterval, cfg.Remote.PollInterval())
	require.False(t, cfg.Remote.UseBrowser())
}

func TestResolvePath(t *testing.T) {
	require.Equal(t, filepath.Join("/p", "ipc.sock"), ResolvePath("/p", "ipc.sock"))
	require.Equal(t, "/abs/ipc.sock", ResolvePath("/p", "/abs/ipc.sock"))
	require.Equal(t, "", ResolvePath("/p", ""))
}

func TestEnsureToken(t *testing.T) {
	dir := t.TempDir()
	token, err := EnsureToken(dir, IPCConfig{})
	require.NoError(t, err)
	require.Empty(t, token)

	cfg := IPCConfig{RequireToken: true}
	_, err = ReadToken(dir, cfg)
	require.Error(t, err)

	token, err = EnsureToken(dir, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	again, err := ReadToken(dir, cfg)
	require.NoError(t, err)
	require.Equal(t, token, again)
	require.Equal(t, filepath.Join(dir, DefaultTokenFile), cfg.TokenPath(dir))
}
