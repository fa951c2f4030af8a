// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package main is the Frontline server.
//
// The server starts components in this order:
//
//  1. Configuration: defaults, optional YAML file, environment (koanf)
//  2. Database: DuckDB store for raw events, world updates and settings
//  3. Report cache: memory, DuckDB or Badger entry store
//  4. Ingest queue: buffers live feed messages and flushes them in batches
//  5. Event bus: in-process channel, or NATS when EVENTS_NATS_URL is set
//  6. Supervisor tree: feed client, cache invalidator, pipeline scheduler,
//     websocket notifications, cache janitor and the HTTP API
//
// SIGINT and SIGTERM cancel the tree. The ingest queue drains its buffers
// before the database closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/frontline/internal/api"
	"github.com/tomtom215/frontline/internal/app"
	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/events"
	"github.com/tomtom215/frontline/internal/feed"
	"github.com/tomtom215/frontline/internal/ingest"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/supervisor"
	"github.com/tomtom215/frontline/internal/supervisor/services"
	"github.com/tomtom215/frontline/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("cache_backend", cfg.Cache.Backend).
		Bool("pipeline", cfg.Pipeline.Enabled).
		Bool("feed", cfg.Feed.Enabled).
		Msg("Starting Frontline")

	a, err := app.New(cfg, app.Options{Bus: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing resources")
		}
	}()

	queue, err := ingest.NewQueue(a.DB, ingest.Config{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		FlushTimeout:  cfg.Ingest.FlushTimeout,
	})
	if err != nil {
		return fmt.Errorf("create ingest queue: %w", err)
	}

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// data layer
	tree.AddDataService(services.NewCloserService("ingest-queue", queue))
	tree.AddDataService(a.Cache)

	// messaging layer
	tree.AddMessagingService(events.NewCacheInvalidator(a.Bus, a.Cache))
	hub := websocket.NewHub(cfg.Security.CORSOrigins)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(websocket.NewBridge(a.Bus, hub))
	if cfg.Feed.Enabled {
		tree.AddMessagingService(feed.NewClient(cfg.Feed, queue))
	}
	var runner api.PipelineRunner
	if cfg.Pipeline.Enabled {
		tree.AddMessagingService(a.Runner)
		runner = a.Runner
	}

	// api layer
	handler := api.NewHandler(api.Deps{
		DB:        a.DB,
		Reports:   a.Reports,
		Runner:    runner,
		Cache:     a.Cache,
		WatchList: a.DB,
		Live:      hub,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, api.NewMiddleware(api.MiddlewareConfigFrom(cfg.Security))),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// the queue service may not have run if the tree failed early
	if err := queue.Close(); err != nil {
		logging.Error().Err(err).Msg("INGEST: final drain failed")
	}
	logging.Info().Msg("Frontline stopped")
	return nil
}
