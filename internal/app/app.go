// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package app wires the storage, cache, pipeline and report components
// shared by the server and the admin CLI.
package app

import (
	"errors"
	"fmt"

	"github.com/tomtom215/frontline/internal/cache"
	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/database"
	"github.com/tomtom215/frontline/internal/dedup"
	"github.com/tomtom215/frontline/internal/events"
	"github.com/tomtom215/frontline/internal/gameapi"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/pipeline"
	"github.com/tomtom215/frontline/internal/reports"
	"github.com/tomtom215/frontline/internal/scraper"
	"github.com/tomtom215/frontline/internal/tilestate"
)

// Options selects the optional parts of an App.
type Options struct {
	// Bus opens the event bus and makes the runner publish completions.
	Bus bool
}

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	DB      *database.DB
	Cache   *cache.ReportCache
	GameAPI *gameapi.Client
	Scraper *scraper.Scraper
	Reports *reports.Service
	Runner  *pipeline.Runner
	Bus     *events.Bus // nil unless Options.Bus
}

// New opens the database and builds every component from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, DB: db}

	store, err := cache.NewStore(cfg.Cache, db)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	a.Cache = cache.New(store, db, cache.Config{TTL: cfg.Cache.TTL, CleanupInterval: cfg.Cache.CleanupInterval})

	a.GameAPI = gameapi.NewClient(cfg.GameAPI)
	a.Scraper = scraper.New(a.GameAPI, db, cfg.Scraper)

	// a nil *gameapi.Client must not reach the interface
	var leaderboard reports.LeaderboardSource
	if cfg.GameAPI.BaseURL != "" {
		leaderboard = a.GameAPI
	} else {
		logging.Info().Msg("GAMEAPI: base url not configured, MVP reports disabled")
	}
	a.Reports = reports.NewService(db, leaderboard, a.Cache)

	var pub pipeline.Publisher
	if opts.Bus {
		if a.Bus, err = events.NewBus(cfg.Events); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open event bus: %w", err)
		}
		pub = a.Bus
	}
	a.Runner = pipeline.NewRunner(dedup.New(db), tilestate.New(db, cfg.Pipeline.Workers), pub, db, cfg.Pipeline.Interval)

	return a, nil
}

// HasGameAPI reports whether a game API base url is configured.
func (a *App) HasGameAPI() bool {
	return a.Config.GameAPI.BaseURL != ""
}

// Close releases the bus, the cache store and the database.
func (a *App) Close() error {
	var errs []error
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
