package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rexliu/delegate/pkg/config"
	"github.com/rexliu/delegate/pkg/ipc"
	"github.com/rexliu/delegate/pkg/logging"
	"github.com/rexliu/delegate/pkg/popup"
	"github.com/rexliu/delegate/pkg/provider"
	"github.com/rexliu/delegate/pkg/storage/sqlite"
	gitvcs "github.com/rexliu/delegate/pkg/vcs/git"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	logger := logging.New("dlgd")
	logger.Printf("starting daemon with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

type daemon struct {
	profileDir string
	cfg        *config.ProfileConfig
	store      *sqlite.Store
	repo       *gitvcs.FilesystemRepo
	hub        *eventHub
	bus        *popup.MessageBus
	conn       *hubConnection
	bridge     *bridgeOpener
	rod        *popup.RodOpener
	provider   *provider.Provider
	httpClient *http.Client
	logger     *logging.Logger
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	cfg, err := loadProfile(profileDir)
	if err != nil {
		return err
	}
	cfg.Logging.FilePath = config.ResolvePath(profileDir, cfg.Logging.FilePath)
	if err := logger.Configure(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	d, err := newDaemon(ctx, profileDir, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}

	token, err := config.EnsureToken(profileDir, cfg.IPC)
	if err != nil {
		return fmt.Errorf("ipc token: %w", err)
	}
	srv := ipc.NewServer(logger)
	srv.RequireToken(token)
	d.registerHandlers(srv)

	g, gctx := errgroup.WithContext(ctx)
	if err := srv.Start(gctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		err := srv.Stop()
		if cerr := cleanupSocket(socketPath); err == nil {
			err = cerr
		}
		return err
	})
	if d.rod != nil {
		g.Go(func() error {
			<-gctx.Done()
			return d.rod.Shutdown()
		})
	}

	logger.Printf("daemon ready; socket at %s", socketPath)
	err = g.Wait()
	logger.Println("shutting down")
	return err
}

// loadProfile reads the profile config, writing the defaults on first run.
func loadProfile(profileDir string) (*config.ProfileConfig, error) {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, err
	}
	cfg, err := config.LoadProfile(profileDir)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultProfile(filepath.Base(profileDir))
		if err := config.Save(filepath.Join(profileDir, config.FileName), cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newDaemon(ctx context.Context, profileDir string, cfg *config.ProfileConfig, logger *logging.Logger) (*daemon, error) {
	d := &daemon{
		profileDir: profileDir,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}

	store, err := sqlite.Open(config.ResolvePath(profileDir, cfg.Storage.DBPath), sqlite.Options{
		JournalMode: cfg.Storage.JournalMode,
		Synchronous: cfg.Storage.Synchronous,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	d.store = store

	if cfg.VCS.Enabled {
		repo := &gitvcs.FilesystemRepo{
			Path:      filepath.Join(profileDir, "history"),
			Branch:    cfg.VCS.Branch,
			RemoteURL: cfg.VCS.Remote.URL,
		}
		if err := repo.Init(ctx); err != nil {
			logger.Printf("warning: git repo unavailable: %v", err)
		} else {
			d.repo = repo
		}
	}

	d.hub = newEventHub(logger)
	d.bus = popup.NewMessageBus()
	d.conn = &hubConnection{hub: d.hub}

	var opener popup.Opener
	if cfg.Remote.UseBrowser() {
		d.rod = popup.NewRodOpener(popup.RodConfig{
			ControlURL: cfg.Remote.ControlURL,
			Launch:     cfg.Remote.Launch,
			Headless:   cfg.Remote.Headless,
		}, d.bus.Publish, logger.SugaredLogger)
		if err := d.rod.Start(ctx); err != nil {
			store.Close()
			return nil, err
		}
		opener = d.rod
	} else {
		d.bridge = newBridgeOpener(d.hub)
		opener = d.bridge
	}

	d.provider = provider.New(d.conn, opener, d.bus,
		provider.WithLogger(logger.SugaredLogger),
		provider.WithJournal(store),
		provider.WithUpstream(d.httpClient, cfg.Upstream.RPCURL),
		provider.WithPopupOptions(popup.WithPollInterval(cfg.Remote.PollInterval())),
		provider.WithInteractionHook(d.snapshotJournal),
	)
	return d, nil
}

func (d *daemon) close() {
	d.provider.Flush()
	if err := d.store.Close(); err != nil {
		d.logger.Printf("close sqlite: %v", err)
	}
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
