package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rexliu/delegate/pkg/config"
)

func (c *cli) initCmd() *cobra.Command {
	var name, url string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a profile directory with a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if name == "" {
				abs, err := filepath.Abs(c.profile)
				if err != nil {
					return err
				}
				name = filepath.Base(abs)
			}
			cfg := config.DefaultProfile(name)
			cfg.Remote.URL = url
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile %s initialized at %s\n", name, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Profile name (defaults to the directory name)")
	cmd.Flags().StringVar(&url, "url", "", "Remote context URL opened by dlg open")
	return cmd
}

func (c *cli) diagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print resolved profile settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadProfile(c.profile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Profile: %s\n", cfg.ProfileName)
			fmt.Fprintf(w, "Config: %s\n", c.configPath())
			fmt.Fprintf(w, "DB Path: %s\n", config.ResolvePath(c.profile, cfg.Storage.DBPath))
			fmt.Fprintf(w, "Socket: %s\n", config.ResolvePath(c.profile, cfg.IPC.SocketPath))
			if cfg.Logging.FilePath != "" {
				fmt.Fprintf(w, "Log File: %s\n", config.ResolvePath(c.profile, cfg.Logging.FilePath))
			}
			if cfg.Remote.URL != "" {
				fmt.Fprintf(w, "Remote Context: %s\n", cfg.Remote.URL)
			}
			switch {
			case cfg.Remote.ControlURL != "":
				fmt.Fprintf(w, "Opener: chrome at %s\n", cfg.Remote.ControlURL)
			case len(cfg.Remote.Launch) > 0:
				fmt.Fprintf(w, "Opener: launch %s\n", cfg.Remote.Launch[0])
			default:
				fmt.Fprintln(w, "Opener: extension bridge")
			}
			fmt.Fprintf(w, "Watchdog: %s\n", cfg.Remote.PollInterval())
			if cfg.Upstream.RPCURL != "" {
				fmt.Fprintf(w, "Upstream RPC: %s\n", cfg.Upstream.RPCURL)
			}
			fmt.Fprintf(w, "VCS Branch: %s (enabled=%t)\n", cfg.VCS.Branch, cfg.VCS.Enabled)
			if cfg.VCS.Remote.URL != "" {
				fmt.Fprintf(w, "Remote URL: %s\n", cfg.VCS.Remote.URL)
			}
			return nil
		},
	}
}

func (c *cli) remoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Configure the journal history remote",
	}

	var cred string
	set := &cobra.Command{
		Use:   "set <git-url>",
		Short: "Set the history remote and enable versioning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProfile(c.profile)
			if err != nil {
				return err
			}
			cfg.VCS.Remote.URL = args[0]
			cfg.VCS.Remote.CredentialRef = cred
			cfg.VCS.Enabled = true
			if err := config.Save(c.configPath(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "remote set to %s (restart dlgd to apply)\n", args[0])
			return nil
		},
	}
	set.Flags().StringVar(&cred, "credential", "", "Credential reference (optional)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the history remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadProfile(c.profile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if cfg.VCS.Remote.URL == "" {
				fmt.Fprintln(w, "remote not configured")
				return nil
			}
			fmt.Fprintf(w, "remote URL: %s\n", cfg.VCS.Remote.URL)
			if cfg.VCS.Remote.CredentialRef != "" {
				fmt.Fprintf(w, "credential ref: %s\n", cfg.VCS.Remote.CredentialRef)
			}
			return nil
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}
