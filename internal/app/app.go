// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app wires every batch execution core component into one
// process, the way cmd/conductor's main.go wired the daemon/CLI
// dependency graph in the teacher repo. batchctl's subcommands operate
// entirely through the App returned by NewApp.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/conductorbatch/core/internal/config"
	"github.com/conductorbatch/core/internal/coordinator"
	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/eventbus"
	"github.com/conductorbatch/core/internal/jq"
	"github.com/conductorbatch/core/internal/log"
	"github.com/conductorbatch/core/internal/registry"
	"github.com/conductorbatch/core/internal/rendering"
	"github.com/conductorbatch/core/internal/sheetstore"
	"github.com/conductorbatch/core/internal/store"
	"github.com/conductorbatch/core/internal/store/memory"
	"github.com/conductorbatch/core/internal/store/sqlite"
	"github.com/conductorbatch/core/internal/tracing"
)

// App bundles every long-lived dependency batchctl's subcommands need.
// It owns the process's Store, Coordinator, and tracing provider, and is
// responsible for releasing them via Close.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       store.Store
	Credentials *credential.Registry
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator
	EventBus    *eventbus.Bus
	Renderer    *rendering.Renderer
	Sheets      *sheetstore.Store
	JQExecutor  *jq.Executor
	Tracing     *tracing.Provider
}

// NewApp loads configPath (or the built-in defaults if empty), constructs
// every collaborator it names, and recovers any batch a prior process
// left running. The returned App is ready for binding/batch subcommands
// to call into immediately.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
	})

	credentials := credential.NewRegistry()
	credentials.Register(credential.NewEnvBackend())
	if cfg.DataDir != "" {
		fileBackend, err := credential.NewFileBackend("", cfg.DataDir, "")
		if err != nil {
			return nil, fmt.Errorf("initializing file credential backend: %w", err)
		}
		credentials.Register(fileBackend)
	}

	taskStore, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	sheetsDir := cfg.DataDir
	if sheetsDir == "" {
		sheetsDir = "."
	}
	sheets, err := sheetstore.New(filepath.Join(sheetsDir, "sheets"))
	if err != nil {
		return nil, fmt.Errorf("initializing sheet store: %w", err)
	}

	renderer := rendering.New()
	bus := eventbus.New()
	jqExec := jq.NewExecutor(cfg.Dispatcher.DefaultPerCallTimeout, 1<<20)

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceVersion = cfg.Tracing.ServiceVersion
	tracingCfg.Exporter = tracing.ExporterType(cfg.Tracing.Exporter)
	tracingCfg.Endpoint = cfg.Tracing.Endpoint
	tracingCfg.Insecure = cfg.Tracing.Insecure
	tracingCfg.Headers = cfg.Tracing.Headers
	tracingProvider, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	limiter := coordinator.NewGlobalLimiter(cfg.Dispatcher.MaxConcurrentTasks, float64(cfg.Dispatcher.MaxConcurrentTasks))

	coord := coordinator.New(coordinator.Config{
		Store:         taskStore,
		Credentials:   credentials,
		Subscriber:    bus,
		Renderer:      renderer,
		Sheets:        sheets,
		JQExecutor:    jqExec,
		Tracer:        tracingProvider.Tracer(),
		GlobalLimiter: limiter,
		Logger:        logger,
		Defaults: coordinator.Defaults{
			ConcurrencyLimit: cfg.Dispatcher.MaxConcurrentTasks,
			MaxAttempts:      cfg.Dispatcher.DefaultMaxAttempts,
			RequestTimeout:   cfg.Dispatcher.DefaultPerCallTimeout,
			BaseDelay:        cfg.Dispatcher.BaseBackoff,
			Multiplier:       2,
			MaxDelay:         cfg.Dispatcher.MaxBackoff,
			ProgressTick:     coordinator.DefaultDefaults().ProgressTick,
		},
	})

	bindingRegistry := registry.New(taskStore, credentials, coord)

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Store:       taskStore,
		Credentials: credentials,
		Registry:    bindingRegistry,
		Coordinator: coord,
		EventBus:    bus,
		Renderer:    renderer,
		Sheets:      sheets,
		JQExecutor:  jqExec,
		Tracing:     tracingProvider,
	}

	if err := coord.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recovering in-flight batches: %w", err)
	}

	return a, nil
}

// Close releases the store and flushes any buffered trace spans.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing app: %v", errs)
	}
	return nil
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "batchcore.db")
		}
		return sqlite.New(sqlite.Config{Path: path, WAL: true})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
