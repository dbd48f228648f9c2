// Package internal provides the App struct that wires all components of
// klock together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/happytimeshere/kirby/internal/cli"
	"github.com/happytimeshere/kirby/internal/core"
	"github.com/happytimeshere/kirby/internal/observability"
	"github.com/happytimeshere/kirby/internal/storage"
	"github.com/happytimeshere/kirby/pkg/models"
	"go.uber.org/zap"
)

// App holds all service dependencies for klock.
type App struct {
	BasePath string
	Config   *models.Config

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Diagnostics
	Logger *zap.Logger

	// Storage layer
	Users storage.UserRegistry

	// Core services
	Workspace core.Workspace

	// Observability
	EventLog    observability.EventLog
	MetricsCalc observability.MetricsCalculator
}

// NewApp creates and wires all components of klock. basePath is the
// directory holding .klockrc; relative paths in the configuration are
// resolved against it.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Logging ---
	app.Logger, err = observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(app.resolve(cfg.EventsFile))
	if err != nil {
		// Non-fatal: locks work without the event log.
		app.Logger.Warn("event log disabled", zap.Error(err))
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}

	// --- Storage layer ---
	app.Users = storage.NewUserRegistry(app.resolve(cfg.UsersFile))
	if err := app.Users.Load(); err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}

	// --- Core services ---
	opts := []core.Option{
		core.WithDuration(time.Duration(cfg.Locks.Duration) * time.Second),
		core.WithPolicy(core.BreakPolicy{
			AllowSelfBreak: cfg.Locks.AllowSelfBreak,
			RequireStale:   cfg.Locks.RequireStale,
		}),
		core.WithLogger(app.Logger),
	}
	if app.EventLog != nil {
		opts = append(opts, core.WithEventLogger(&eventLogAdapter{log: app.EventLog}))
	}

	fileName := cfg.Locks.FileName
	open := func(dir string) core.LockStore {
		return storage.NewLockFileStore(dir, fileName)
	}
	app.Workspace, err = core.NewWorkspace(app.resolve(cfg.Content.Root), open, app.Users, cfg.Locks.WriteRetries, opts...)
	if err != nil {
		return nil, err
	}

	// --- Wire CLI package-level variables ---
	cli.Workspace = app.Workspace
	cli.Users = app.Users
	cli.EventLog = app.EventLog
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

func (a *App) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.BasePath, path)
}

// ResolveBasePath determines the klock base directory. It checks the
// KLOCK_HOME env var, then walks up from the current directory looking for
// .klockrc, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("KLOCK_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		for _, name := range []string{core.ConfigFileName, core.ConfigFileName + ".yaml", core.ConfigFileName + ".yml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// Fall back to cwd.
	cwd, _ := os.Getwd()
	return cwd
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	level := "INFO"
	if eventType == "lock.denied" || eventType == "lock.conflict" {
		level = "WARN"
	}
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   level,
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}
