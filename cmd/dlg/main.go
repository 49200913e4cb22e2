package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/delegate/pkg/config"
	"github.com/rexliu/delegate/pkg/ipc"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	profile string
	socket  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "dlg",
		Short:         "Talk to the dlgd request delegation daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.profile, "profile", "./_dev_profile", "Profile directory")
	root.PersistentFlags().StringVar(&c.socket, "socket", "", "Override IPC socket path")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 0, "Give up after this long (0 waits for the remote context)")

	root.AddCommand(
		c.initCmd(),
		c.versionCmd(),
		c.pingCmd(),
		c.requestCmd(),
		c.batchCmd(),
		c.connectedCmd(),
		c.loginCmd(),
		c.openCmd(),
		c.journalCmd(),
		c.appInfoCmd(),
		c.diagCmd(),
		c.remoteCmd(),
		c.vcsCmd(),
	)
	return root
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dlg %s\n", version)
		},
	}
}

// endpoint resolves the daemon socket and the token it expects. An explicit
// --socket skips the profile unless the profile exists.
func (c *cli) endpoint() (socket, token string, err error) {
	cfg, err := config.LoadProfile(c.profile)
	if err != nil {
		if c.socket != "" {
			return c.socket, "", nil
		}
		return "", "", fmt.Errorf("load profile (run dlg init?): %w", err)
	}
	socket = c.socket
	if socket == "" {
		socket = config.ResolvePath(c.profile, cfg.IPC.SocketPath)
	}
	token, err = config.ReadToken(c.profile, cfg.IPC)
	return socket, token, err
}

func (c *cli) configPath() string {
	return filepath.Join(c.profile, config.FileName)
}

// timeoutMs is forwarded so the daemon bounds the wait itself.
func (c *cli) timeoutMs() int {
	return int(c.timeout / time.Millisecond)
}

// call dials the daemon, runs method and decodes the result into out.
func (c *cli) call(ctx context.Context, method string, params, out any) error {
	socketPath, token, err := c.endpoint()
	if err != nil {
		return err
	}
	client, err := ipc.Dial(ctx, socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer client.Close()
	client.SetToken(token)
	return client.Call(ctx, method, params, out)
}

// callPrint runs method and prints the indented result.
func (c *cli) callPrint(cmd *cobra.Command, method string, params any) error {
	var raw json.RawMessage
	if err := c.call(cmd.Context(), method, params, &raw); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
