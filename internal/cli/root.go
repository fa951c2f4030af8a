// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package cli implements the frontctl admin commands. Every command opens
// the same database and cache the server uses, does its work and closes
// them again.
package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tomtom215/frontline/internal/app"
	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/logging"
)

// Opener builds the application for one command.
type Opener func() (*app.App, error)

// DefaultOpener loads configuration the way the server does.
func DefaultOpener() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    "console",
		Timestamp: true,
	})
	return app.New(cfg, app.Options{})
}

// RootCmd returns frontctl with every subcommand attached.
func RootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "frontctl",
		Short: "Frontline admin CLI",
		Long: `frontctl reprocesses games, scrapes case data, manages the watch list
and the report cache, and prints reports, against the database configured
for the server (CONFIG_PATH and environment variables apply).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(ReprocessCmd(open))
	root.AddCommand(ScrapeCmd(open))
	root.AddCommand(WatchCmd(open))
	root.AddCommand(CacheCmd(open))
	root.AddCommand(ReportCmd(open))
	return root
}

// withApp opens the application, runs fn and closes it.
func withApp(open Opener, fn func(a *app.App) error) error {
	a, err := open()
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(); err != nil && runErr == nil {
		return fmt.Errorf("close: %w", err)
	}
	return runErr
}

func parseGameID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid game id %q: must be a positive integer", s)
	}
	return id, nil
}
