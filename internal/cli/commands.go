// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tomtom215/frontline/internal/app"
	"github.com/tomtom215/frontline/internal/models"
	"github.com/tomtom215/frontline/internal/reports"
	"github.com/tomtom215/frontline/internal/validation"
)

// ReprocessCmd runs dedup and tile state reconstruction for one game.
func ReprocessCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <game>",
		Short: "Deduplicate and reconstruct a game",
		Long: `Run the pipeline for one game and invalidate its cached reports.

  frontctl reprocess 42                 # only unresolved raw events
  frontctl reprocess 42 --from-scratch  # reset and rebuild every record`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			fromScratch, _ := cmd.Flags().GetBool("from-scratch")

			return withApp(open, func(a *app.App) error {
				res, err := a.Runner.RunOnce(cmd.Context(), gameID, fromScratch)
				if err != nil {
					return err
				}
				n, err := a.Cache.Invalidate(cmd.Context(), strconv.FormatInt(gameID, 10), "", nil)
				if err != nil {
					return fmt.Errorf("invalidate cache: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "game %d reprocessed in %s\n", gameID, res.Duration)
				fmt.Fprintf(out, "  raw events: %d (skipped %d)\n", res.Dedup.RawEvents, res.Dedup.Skipped)
				fmt.Fprintf(out, "  records:    %d inserted, %d updated, %d merged, %d failed\n",
					res.Dedup.Inserted, res.Dedup.Updated, res.Dedup.Merged, res.Dedup.Failed)
				fmt.Fprintf(out, "  tiles:      %d resolved, %d unresolved\n", res.Tiles.Resolved, res.Tiles.Unresolved)
				fmt.Fprintf(out, "  cache:      %d entries invalidated\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Bool("from-scratch", false, "Reset every raw event and rebuild all records")
	return cmd
}

// ScrapeCmd walks the case data grid of one game.
func ScrapeCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <game>",
		Short: "Scrape case data for every grid cell of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			return withApp(open, func(a *app.App) error {
				if !a.HasGameAPI() {
					return errors.New("game API base url is not configured (GAME_API_BASE_URL)")
				}
				res, err := a.Scraper.Scrape(cmd.Context(), gameID)
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "game %d: %d cells, %d stored, %d duplicates, %d requests, %d failed in %s\n",
						gameID, res.Cells, res.Stored, res.Duplicates, res.Requests, len(res.Failed), res.Duration)
					for _, f := range res.Failed {
						fmt.Fprintf(cmd.OutOrStdout(), "  failed (%d,%d) after %d attempts: %v\n", f.X, f.Y, f.Attempts, f.Err)
					}
				}
				if err != nil {
					return err
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d cells failed", len(res.Failed))
				}
				return nil
			})
		},
	}
}

// WatchCmd manages the scopes the scheduler and the cache TTL policy treat
// as live.
func WatchCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the watch list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the watch list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				scopes, err := a.DB.GetWatchList(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range scopes {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <game>",
		Short: "Add a game to the watch list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseGameID(args[0]); err != nil {
				return err
			}
			return withApp(open, func(a *app.App) error {
				if err := a.DB.AddToWatchList(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <game>",
		Short: "Remove a game from the watch list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				if err := a.DB.RemoveFromWatchList(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "no longer watching %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

// CacheCmd manages cached reports.
func CacheCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the report cache",
	}

	invalidate := &cobra.Command{
		Use:   "invalidate <game>",
		Short: "Expire cached reports of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			reportType, _ := cmd.Flags().GetString("type")
			if reportType != "" && !slices.Contains(models.ReportTypes, reportType) {
				return fmt.Errorf("unknown report type %q", reportType)
			}
			return withApp(open, func(a *app.App) error {
				n, err := a.Cache.Invalidate(cmd.Context(), strconv.FormatInt(gameID, 10), reportType, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d entries invalidated\n", n)
				return nil
			})
		},
	}
	invalidate.Flags().String("type", "", "Only expire this report type")
	cmd.AddCommand(invalidate)

	return cmd
}

type reportFlags struct {
	Player  string `validate:"max=128"`
	Faction string `validate:"faction"`
	From    int64  `validate:"gte=0"`
	To      int64  `validate:"omitempty,gtefield=From"`
	Window  int64  `validate:"omitempty,min=1000,max=86400000"`
	Unique  bool
}

// ReportCmd prints one report as JSON.
func ReportCmd(open Opener) *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:       "report <game> <type>",
		Short:     "Print a report as JSON",
		Long:      "Report types: faction-transfers, heatmap, mvp, apm, tile-control.",
		Args:      cobra.ExactArgs(2),
		ValidArgs: models.ReportTypes,
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			reportType := args[1]
			if !slices.Contains(models.ReportTypes, reportType) {
				return fmt.Errorf("unknown report type %q", reportType)
			}
			if verr := validation.ValidateStruct(&f); verr != nil {
				return verr
			}

			params := reports.Params{
				Filter: models.Filter{
					Player:     f.Player,
					Faction:    models.Faction(f.Faction),
					FromMillis: f.From,
					ToMillis:   f.To,
				},
				Window: f.Window,
				Unique: f.Unique,
			}
			return withApp(open, func(a *app.App) error {
				data, err := a.Reports.Generate(cmd.Context(), gameID, reportType, params)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Player, "player", "", "Only records of this player")
	cmd.Flags().StringVar(&f.Faction, "faction", "", "Only records of this faction")
	cmd.Flags().Int64Var(&f.From, "from", 0, "Earliest activity timestamp (ms)")
	cmd.Flags().Int64Var(&f.To, "to", 0, "Latest activity timestamp (ms)")
	cmd.Flags().Int64Var(&f.Window, "window", 0, "APM window in ms (default 60000)")
	cmd.Flags().BoolVar(&f.Unique, "unique", false, "APM counts distinct tiles only")
	return cmd
}
