// Package app wires configuration, logging, the shared-log client, the
// backend bootstrap supervisor, and the execution coordinator into one
// runnable application.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/runbook/internal/config"
	"github.com/vk/runbook/internal/coordinator"
	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/eventlog"
	"github.com/vk/runbook/internal/memlog"
	"github.com/vk/runbook/internal/notebook"
	"github.com/vk/runbook/internal/redislog"
	"github.com/vk/runbook/internal/socketlog"
	"github.com/vk/runbook/internal/supervisor"
)

// connectTimeout bounds the initial connection to a remote log store.
const connectTimeout = 15 * time.Second

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *config.Config
	store  eventlog.Store
}

// NewApp constructs the application: an isolated logger and a connected
// shared-log client selected by the configured store kind.
func NewApp(ctx context.Context, outW io.Writer, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Shared log client ready.", "store", cfg.Store, "location", store.Location())

	return &App{outW: outW, logger: logger, config: cfg, store: store}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (eventlog.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memlog.New(cfg.Namespace), nil
	case config.StoreRedis:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return redislog.New(ctx, cfg.URL, cfg.Credential, cfg.Namespace)
	case config.StoreSocket:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return socketlog.Connect(ctx, cfg.URL, cfg.Credential, cfg.Namespace)
	default:
		return nil, fmt.Errorf("%w: unknown log store %q", config.ErrConfiguration, cfg.Store)
	}
}

// Run loads the notebook, bootstraps the backend if one is configured, and
// drives the coordinator over every cell. Per-cell failures surface through
// the returned error after the summary is printed; fatal errors abort before
// any summary.
func (a *App) Run(ctx context.Context, callParams map[string]cty.Value) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
	}

	doc, err := notebook.Load(a.config.NotebookPath)
	if err != nil {
		return err
	}
	a.logger.Info("📖 Notebook loaded.", "title", doc.Title, "cells", len(doc.Cells))

	mode := supervisor.ModeExecute
	switch {
	case len(a.config.BackendCommand) > 0:
		sup := supervisor.New(
			supervisor.CommandLauncher(a.config.BackendCommand),
			a.config.BackendRetries,
			supervisor.LinearBackoff(time.Second),
			a.config.Environment,
		)
		mode, err = sup.Start(ctx)
		if err != nil {
			return err
		}
	case a.config.Store == config.StoreMemory:
		// Nothing consumes requests from a private in-memory log, so a run
		// against it can only validate structure publication.
		a.logger.Warn("Memory log store without a backend command: publishing structure only.")
		mode = supervisor.ModeSkipExecution
	}

	coord := coordinator.New(coordinator.Options{
		Store:            a.store,
		Namespace:        a.config.Namespace,
		StopOnError:      a.config.StopOnError,
		ExecutionTimeout: a.config.ExecutionTimeout,
		ReadyPoll:        a.config.ReadyPoll,
		ReadyWait:        a.config.ReadyWait,
		SettleDelay:      a.config.SettleDelay,
		ConfiguredParams: a.config.Parameters,
		SkipExecution:    mode == supervisor.ModeSkipExecution,
	})
	defer coord.Cleanup(ctx)

	agg, err := coord.Run(ctx, doc, callParams)
	if err != nil {
		return err
	}

	a.printSummary(coord.Summary(), agg)

	if !agg.Success {
		return fmt.Errorf("%d of %d cells failed", len(agg.FailedCellIDs), len(agg.Results))
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}
