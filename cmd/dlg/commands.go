package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Now int64 `json:"now"`
			}
			if err := c.call(cmd.Context(), "ping", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong %s\n", time.UnixMilli(out.Now).Format(time.RFC3339))
			return nil
		},
	}
}

func (c *cli) requestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <method> [params-json]",
		Short: "Send one request to the remote context and wait for its result",
		Example: `  dlg request eth_accounts
  dlg request personal_sign '["0x68656c6c6f","0xabc"]'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"method": args[0]}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params must be JSON: %s", args[1])
				}
				req["params"] = json.RawMessage(args[1])
			}
			var out struct {
				Result json.RawMessage `json:"result"`
			}
			params := map[string]any{"request": req, "timeoutMs": c.timeoutMs()}
			if err := c.call(cmd.Context(), "request", params, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out.Result)
		},
	}
}

func (c *cli) batchCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "batch --file requests.json",
		Short: "Send a JSON array of requests; results keep their order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var requests []json.RawMessage
			if err := json.Unmarshal(data, &requests); err != nil {
				return fmt.Errorf("batch file must hold a JSON array: %w", err)
			}
			return c.callPrint(cmd, "batch", map[string]any{"requests": requests, "timeoutMs": c.timeoutMs()})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to a JSON array of {method, params} objects (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func (c *cli) connectedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connected",
		Short: "Report whether the remote context has a logged-in session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Connected bool `json:"connected"`
			}
			if err := c.call(cmd.Context(), "is_connected", nil, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Connected)
			return nil
		},
	}
}

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <type>",
		Short: "Ask the remote context to start a login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.call(cmd.Context(), "trigger_login", map[string]any{"loginType": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "login %s requested\n", args[0])
			return nil
		},
	}
}

func (c *cli) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open [url]",
		Short: "Open the remote context and wait for it to finish",
		Long:  "Open the remote context at url (remote.url from the profile when omitted) and block until it reports success, done, an error, or is closed by the user.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{"timeoutMs": c.timeoutMs()}
			if len(args) == 1 {
				params["url"] = args[0]
			}
			var out struct {
				Outcome string `json:"outcome"`
				URL     string `json:"url"`
			}
			if err := c.call(cmd.Context(), "open_popup", params, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", out.URL, out.Outcome)
			return nil
		},
	}
}

func (c *cli) journalCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent interactions and requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.callPrint(cmd, "journal", map[string]any{"limit": limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries per table")
	return cmd
}

func (c *cli) appInfoCmd() *cobra.Command {
	var appID, theme, gateway string
	cmd := &cobra.Command{
		Use:   "app-info",
		Short: "Fetch app branding from the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := map[string]any{}
			if appID != "" {
				params["appId"] = appID
			}
			if theme != "" {
				params["theme"] = theme
			}
			if gateway != "" {
				params["gatewayURL"] = gateway
			}
			return c.callPrint(cmd, "app_info", params)
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "App id (defaults to app.id)")
	cmd.Flags().StringVar(&theme, "theme", "", "dark or light (defaults to app.theme)")
	cmd.Flags().StringVar(&gateway, "gateway", "", "Gateway URL (defaults to app.gatewayURL)")
	return cmd
}

func (c *cli) vcsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vcs",
		Short: "Sync the journal history repository",
	}
	for _, sub := range []struct{ name, method, short string }{
		{"push", "vcs_push", "Push journal history to the remote"},
		{"pull", "vcs_pull", "Pull journal history from the remote"},
		{"status", "vcs_status", "Show the journal history repository"},
	} {
		method := sub.method
		cmd.AddCommand(&cobra.Command{
			Use:   sub.name,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.callPrint(cmd, method, nil)
			},
		})
	}
	return cmd
}
