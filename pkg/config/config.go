package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file name inside a profile directory.
const FileName = "config.toml"

// DefaultPollInterval is how often the watchdog samples the remote context.
const DefaultPollInterval = 500 * time.Millisecond

// IPCConfig defines socket / named pipe settings.
type IPCConfig struct {
	SocketPath   string `toml:"socketPath"`
	RequireToken bool   `toml:"requireToken"`
	TokenRef     string `toml:"tokenRef"`
}

// StorageConfig defines SQLite tuning options.
type StorageConfig struct {
	DBPath      string `toml:"dbPath"`
	JournalMode string `toml:"journalMode"`
	Synchronous string `toml:"synchronous"`
}

// VCSRemote config.
type VCSRemote struct {
	URL           string `toml:"url"`
	CredentialRef string `toml:"credentialRef"`
}

// VCSConfig defines Git options for journal snapshots.
type VCSConfig struct {
	Enabled  bool      `toml:"enabled"`
	Branch   string    `toml:"branch"`
	AutoPush bool      `toml:"autoPush"`
	Remote   VCSRemote `toml:"remote"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
}

// RemoteConfig describes how the remote context is reached.
// When ControlURL and Launch are both empty the daemon asks the extension,
// through the bridge, to open windows.
type RemoteConfig struct {
	URL            string   `toml:"url"`
	PollIntervalMs int      `toml:"pollIntervalMs"`
	ControlURL     string   `toml:"controlURL"`
	Launch         []string `toml:"launch"`
	Headless       bool     `toml:"headless"`
}

// PollInterval returns the watchdog interval.
func (c RemoteConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// UseBrowser reports whether the daemon drives Chrome directly.
func (c RemoteConfig) UseBrowser() bool {
	return c.ControlURL != "" || len(c.Launch) > 0
}

// UpstreamConfig points non-wallet methods at a JSON-RPC node.
type UpstreamConfig struct {
	RPCURL string `toml:"rpcURL"`
}

// AppConfig identifies the app for branding lookups.
type AppConfig struct {
	ID         string `toml:"id"`
	GatewayURL string `toml:"gatewayURL"`
	Theme      string `toml:"theme"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string         `toml:"profileName"`
	Storage     StorageConfig  `toml:"storage"`
	VCS         VCSConfig      `toml:"vcs"`
	IPC         IPCConfig      `toml:"ipc"`
	Logging     LoggingConfig  `toml:"logging"`
	Remote      RemoteConfig   `toml:"remote"`
	Upstream    UpstreamConfig `toml:"upstream"`
	App         AppConfig      `toml:"app"`
}

// DefaultProfile returns a config with relative paths inside the profile.
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		Storage: StorageConfig{
			DBPath:      "journal.db",
			JournalMode: "DELETE",
			Synchronous: "FULL",
		},
		VCS: VCSConfig{Branch: "main"},
		IPC: IPCConfig{SocketPath: "ipc.sock"},
		Logging: LoggingConfig{
			Level:       "info",
			FileMaxSize: 10,
			FileBackups: 3,
		},
		Remote: RemoteConfig{PollIntervalMs: int(DefaultPollInterval / time.Millisecond)},
		App:    AppConfig{Theme: "dark"},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads config.toml from a profile directory.
func LoadProfile(dir string) (*ProfileConfig, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// ResolvePath joins relative config paths onto the profile directory.
func ResolvePath(profileDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(profileDir, p)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socketPath required")
	}
	if cfg.VCS.Branch == "" {
		cfg.VCS.Branch = "main"
	}
	if cfg.Remote.PollIntervalMs < 0 {
		return fmt.Errorf("remote.pollIntervalMs must not be negative")
	}
	return nil
}
