package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultTokenFile holds the IPC token when ipc.tokenRef is empty.
const DefaultTokenFile = "ipc.token"

// TokenPath returns the token file for a profile.
func (c IPCConfig) TokenPath(profileDir string) string {
	ref := c.TokenRef
	if ref == "" {
		ref = DefaultTokenFile
	}
	return ResolvePath(profileDir, ref)
}

// ReadToken returns the IPC token clients must send, or "" when the
// profile does not require one.
func ReadToken(profileDir string, cfg IPCConfig) (string, error) {
	if !cfg.RequireToken {
		return "", nil
	}
	data, err := os.ReadFile(cfg.TokenPath(profileDir))
	if err != nil {
		return "", fmt.Errorf("read ipc token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("ipc token file %s is empty", cfg.TokenPath(profileDir))
	}
	return token, nil
}

// EnsureToken reads the IPC token, generating the token file on first use.
func EnsureToken(profileDir string, cfg IPCConfig) (string, error) {
	token, err := ReadToken(profileDir, cfg)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return token, err
	}
	path := cfg.TokenPath(profileDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	token = uuid.NewString()
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return token, nil
}
