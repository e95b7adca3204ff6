package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"foureyes/internal/config"
	"foureyes/internal/githubdata"
	"foureyes/internal/reconcile"
	"foureyes/internal/snapshot"
	"foureyes/internal/store"
)

// app bundles the wired-up service for CLI commands
type app struct {
	Config *config.Config
	Store  *store.Store
	Cache  snapshot.Store
	Runner *reconcile.Runner
	Hooks  *reconcile.StoreHooks
	Logger *slog.Logger

	logFile *os.File
}

// Close releases the databases and the log file
func (a *app) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// setupApp loads configuration and wires the store, snapshot cache, GitHub
// client and runner together
func setupApp(configFile, logPath string) (*app, error) {
	logger, logFileHandle, err := setupLogging(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	cfg, apps, err := config.LoadConfig(configFile)
	if err != nil {
		logFileHandle.Close()
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info("Configuration validated successfully", "applications", len(apps))

	if len(apps) == 0 {
		logger.Warn("No applications configured", "config", configFile)
	}

	st, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		logFileHandle.Close()
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	cache, err := snapshot.NewSQLiteStore(cfg.SnapshotPath)
	if err != nil {
		st.Close()
		logFileHandle.Close()
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	token := cfg.Token()
	if token == "" {
		logger.Warn("No GitHub token configured; API limits will be very low")
	}
	client := githubdata.NewAPIClient(token, cfg.GitHub.RequestsPerSecond)

	hooks := reconcile.NewStoreHooks(st, logger)
	runner := &reconcile.Runner{
		Store:       st,
		Apps:        apps,
		Live:        githubdata.NewBuilder(client, cache, cfg.GitHub.RebaseLookback, logger),
		Cached:      githubdata.NewCacheOnlyBuilder(cache, cfg.GitHub.RebaseLookback, logger),
		BotAccounts: cfg.BotAccounts,
		Hooks:       hooks,
		Logger:      logger,
	}

	return &app{
		Config:  cfg,
		Store:   st,
		Cache:   cache,
		Runner:  runner,
		Hooks:   hooks,
		Logger:  logger,
		logFile: logFileHandle,
	}, nil
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file with secure permissions
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	logger := slog.New(handler)

	return logger, file, nil
}
