package main

import (
	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/clock"
	"github.com/kimhsiao/tasksync/internal/config"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/services"
	"github.com/kimhsiao/tasksync/internal/sync/conflict"
	"github.com/kimhsiao/tasksync/internal/sync/outbox"
	"github.com/kimhsiao/tasksync/internal/sync/reconcile"
)

// app holds the wired engine shared by every command.
type app struct {
	cfg    *config.Config
	db     *db.DB
	store  *db.Store
	outbox *outbox.Service
	tasks  *services.TaskService

	restoreLogger func()
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DB.DataDir = opts.DataDir
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the configured logger, writing to the command's
// stderr so stdout stays machine-readable.
func setupLogging(cmd *cobra.Command, cfg *config.Config) (restore func(), err error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid log.level", err)
	}
	return logging.SetGlobal(logging.New(logging.Options{
		Level:      level,
		Out:        cmd.ErrOrStderr(),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})), nil
}

// openApp loads configuration, opens and migrates the store and wires the
// engine.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	restore, err := setupLogging(cmd, cfg)
	if err != nil {
		return nil, err
	}

	database, err := db.OpenAndMigrate(cfg.DB.DataDir)
	if err != nil {
		restore()
		return nil, err
	}

	clk := clock.System{}
	store := db.NewStore(database.DB)
	proc := reconcile.New(store, conflict.NewResolver(clk), clk)

	return &app{
		cfg:   cfg,
		db:    database,
		store: store,
		outbox: outbox.NewService(store, proc, clk, outbox.Config{
			Workers:    cfg.Sync.Workers,
			MaxRetries: cfg.Sync.MaxRetries,
			StaleAfter: cfg.Sync.StaleAfter,
		}),
		tasks:         services.NewTaskService(store, clk),
		restoreLogger: restore,
	}, nil
}

// Close releases the database and flushes logs.
func (a *app) Close() error {
	err := a.db.Close()
	logging.Sync()
	a.restoreLogger()
	return err
}
