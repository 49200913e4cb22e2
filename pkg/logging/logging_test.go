package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/delegate/pkg/config"
)

func TestConfigureWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dlgd.log")
	logger := New("test")
	require.NoError(t, logger.Configure(config.LoggingConfig{Level: "debug", FilePath: path}))

	logger.Printf("popup opened %s", "https://wallet.example")
	logger.Debugw("request registered", "method", "eth_accounts", "id", 1)
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "popup opened https://wallet.example")
	require.Contains(t, string(data), "request registered")
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	require.Error(t, New("test").Configure(config.LoggingConfig{Level: "loud"}))
}

func TestRollingFileRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roll.log")
	rf, err := newRollingFile(path, 1, 2)
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		_, err := rf.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, rf.Sync())

	_, err = os.Stat(path + ".1")
	require.NoError(t, err)
	_, err = os.Stat(path + ".2")
	require.NoError(t, err)
}
