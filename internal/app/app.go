package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"dsync-go/internal/cloud"
	"dsync-go/internal/config"
	"dsync-go/internal/dsync"
	"dsync-go/internal/encryption"
	"dsync-go/internal/model"
	"dsync-go/internal/store"
	"dsync-go/internal/watch"
)

// App is the application layer between the CLI and the SyncEngine.
// It constructs all dependencies from config, seeds persisted settings on
// first run, and manages resource lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     dsync.LocalStore
	cloud     dsync.CloudStore
	engine    *dsync.SyncEngine
	ingestor  *dsync.Ingestor
	runner    *watch.Runner
	logger    *slog.Logger
	logCloser io.Closer
}

// New creates a fully wired App from the given config.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device_id is not set; run 'dsync config init' first")
	}

	logger, logCloser, err := newLogger(cfg.LogDir, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	dlog := &slogAdapter{l: logger}

	cipher, err := encryption.NewCipherFromConfig(cfg.Encryption)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating payload cipher: %w", err)
	}

	st, err := store.NewStoreFromConfig(cfg.Store, cfg.DeviceID)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if err := seedSettings(st, cfg.Sync); err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("seeding settings: %w", err)
	}

	cl, err := cloud.NewCloudFromConfig(ctx, cfg.Cloud, cfg.DeviceID, cipher, dlog)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating cloud store: %w", err)
	}

	engine := dsync.NewSyncEngine(st, cl, dlog, dsync.RealClock{}, dsync.UUIDGenerator{}, cfg.DeviceID)

	ingestor, err := dsync.NewIngestor(engine, st, dsync.RealClock{}, dsync.UUIDGenerator{}, dlog)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating ingestor: %w", err)
	}

	return &App{
		cfg:       cfg,
		store:     st,
		cloud:     cl,
		engine:    engine,
		ingestor:  ingestor,
		logger:    logger,
		logCloser: logCloser,
	}, nil
}

// Engine returns the sync engine.
func (a *App) Engine() *dsync.SyncEngine { return a.engine }

// Ingestor returns the document ingestor.
func (a *App) Ingestor() *dsync.Ingestor { return a.ingestor }

// Store returns the local store.
func (a *App) Store() dsync.LocalStore { return a.store }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Start authenticates against the cloud and starts the sync engine.
func (a *App) Start(ctx context.Context) error {
	return a.engine.Start(ctx)
}

// StartWatch begins watching the configured document directory, creating it
// if needed. The engine should already be started so changes sync promptly.
func (a *App) StartWatch() error {
	if a.cfg.Watch.Dir == "" {
		return fmt.Errorf("watch.dir is not configured")
	}
	if err := os.MkdirAll(a.cfg.Watch.Dir, 0755); err != nil {
		return fmt.Errorf("creating watch directory: %w", err)
	}

	watcher, err := watch.NewWatcher(a.cfg.Watch.Ignore)
	if err != nil {
		return err
	}
	runner := watch.NewRunner(watcher, a.ingestor, a.engine, &slogAdapter{l: a.logger})
	if err := runner.Start(a.cfg.Watch.Dir); err != nil {
		return err
	}

	a.runner = runner
	a.logger.Info("watching document directory", "dir", a.cfg.Watch.Dir)
	return nil
}

// Close stops the watcher and engine and releases all resources.
func (a *App) Close() error {
	var firstErr error

	if a.runner != nil {
		if err := a.runner.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping watcher: %w", err)
		}
		a.runner = nil
	}

	a.engine.Stop()

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}

// seedSettings writes the config file's sync section into the settings table
// on first run only; afterwards the persisted settings are authoritative so
// runtime updates survive restarts.
func seedSettings(st dsync.LocalStore, sc config.SyncConfig) error {
	existing, err := st.GetSetting("conflict_resolution", "")
	if err != nil {
		return err
	}
	if existing != "" {
		return nil // already seeded
	}

	settings := model.DefaultSyncSettings()
	settings.AutoSync = sc.AutoSync
	if sc.SyncIntervalMS > 0 {
		settings.SyncInterval = time.Duration(sc.SyncIntervalMS) * time.Millisecond
	}
	if sc.ConflictResolution != "" {
		settings.ConflictResolution = model.ResolutionStrategy(sc.ConflictResolution)
	}
	if sc.MaxRetries > 0 {
		settings.MaxRetries = sc.MaxRetries
	}
	if sc.RetryDelayMS > 0 {
		settings.RetryDelay = time.Duration(sc.RetryDelayMS) * time.Millisecond
	}
	return dsync.SaveSettings(st, settings)
}
