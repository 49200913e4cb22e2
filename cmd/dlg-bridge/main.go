package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rexliu/delegate/pkg/config"
	"github.com/rexliu/delegate/pkg/ipc"
	"github.com/rexliu/delegate/pkg/logging"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	// stdout carries native messaging frames.
	logger := logging.NewTo("dlg-bridge", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Printf("bridge exiting: %v", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	socketPath, token, err := resolveEndpoint(profileDir, socketOverride)
	if err != nil {
		return err
	}
	calls, err := ipc.Dial(ctx, socketPath)
	if err != nil {
		return fmt.Errorf("dial daemon at %s: %w", socketPath, err)
	}
	defer calls.Close()
	events, err := ipc.Dial(ctx, socketPath)
	if err != nil {
		return fmt.Errorf("dial daemon at %s: %w", socketPath, err)
	}
	defer events.Close()
	calls.SetToken(token)
	events.SetToken(token)

	logger.Printf("bridge attached to %s", socketPath)
	return newBridge(calls, os.Stdout, logger).run(ctx, os.Stdin, events)
}

func resolveEndpoint(profileDir, override string) (socket, token string, err error) {
	cfg, err := config.LoadProfile(profileDir)
	if err != nil {
		if override != "" {
			return override, "", nil
		}
		return filepath.Join(profileDir, "ipc.sock"), "", nil
	}
	socket = override
	if socket == "" {
		socket = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}
	token, err = config.ReadToken(profileDir, cfg.IPC)
	return socket, token, err
}
