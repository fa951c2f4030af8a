// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package tilestate back-fills the ownership and garrison of each tile by
// replaying combat records in timestamp order.
//
// Every step re-reads its predecessor from the store, so an interrupted
// pass resumes from persisted state alone. Tiles are independent and run
// in parallel; records of one tile run strictly in order.
package tilestate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/frontline/internal/database"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/models"
)

// Store is the persistence the reconstructor needs.
type Store interface {
	FindRecordsNeedingResolution(ctx context.Context, gameID int64) ([]*models.WorldUpdateRecord, error)
	FindTileRecordsNeedingResolution(ctx context.Context, tile models.TileKey) ([]*models.WorldUpdateRecord, error)
	FindLatestResolvedForTile(ctx context.Context, tile models.TileKey, before int64) ([]*models.WorldUpdateRecord, error)
	ClearTileStateAfter(ctx context.Context, tile models.TileKey, after int64) (int64, error)
	UpdateTileState(ctx context.Context, activityID string, s database.TileResolution) error
	MarkUnresolvable(ctx context.Context, activityID, reason string) error
}

// Status is the per-record outcome of a pass.
type Status string

const (
	StatusResolved  Status = "resolved"
	StatusAmbiguous Status = "ambiguous"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// RecordResult is the outcome for one record.
type RecordResult struct {
	ActivityID string         `json:"activity_id"`
	Tile       models.TileKey `json:"-"`
	Status     Status         `json:"status"`
	Outcome    models.Outcome `json:"outcome,omitempty"`
	Err        error          `json:"-"`
}

// Result summarizes one pass.
type Result struct {
	GameID     int64          `json:"game_id"`
	Tiles      int            `json:"tiles"`
	Resolved   int            `json:"resolved"`
	Unresolved int            `json:"unresolved"`
	Replayed   int64          `json:"replayed"`
	Records    []RecordResult `json:"records,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Reconstructor runs tile-state passes.
type Reconstructor struct {
	store   Store
	workers int
}

// New returns a Reconstructor running at most workers tiles at once.
func New(store Store, workers int) *Reconstructor {
	if workers <= 0 {
		workers = 1
	}
	return &Reconstructor{store: store, workers: workers}
}

// Run resolves every combat record of gameID that lacks a consistent tile
// state. Ambiguity and negative garrisons are reported, never guessed past:
// the offending record is left unresolved and the rest of its tile waits
// for the next pass.
func (r *Reconstructor) Run(ctx context.Context, gameID int64) (*Result, error) {
	start := time.Now()

	pending, err := r.store.FindRecordsNeedingResolution(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load records needing resolution: %w", err)
	}

	// earliest pending timestamp per tile
	earliest := make(map[models.TileKey]int64)
	for _, rec := range pending {
		k := rec.Tile()
		if ts, ok := earliest[k]; !ok || rec.Timestamp < ts {
			earliest[k] = rec.Timestamp
		}
	}
	tiles := make([]models.TileKey, 0, len(earliest))
	for k := range earliest {
		tiles = append(tiles, k)
	}
	slices.SortFunc(tiles, func(a, b models.TileKey) int {
		if a.X != b.X {
			return a.X - b.X
		}
		return a.Y - b.Y
	})

	res := &Result{GameID: gameID, Tiles: len(tiles)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, tile := range tiles {
		after := earliest[tile]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results, replayed := r.resolveTile(ctx, tile, after)

			mu.Lock()
			res.Records = append(res.Records, results...)
			res.Replayed += replayed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("reconstruct game %d: %w", gameID, err)
	}

	for _, rr := range res.Records {
		if rr.Status == StatusResolved {
			res.Resolved++
		} else {
			res.Unresolved++
		}
	}
	res.Duration = time.Since(start)

	logging.Info().
		Int64("game_id", gameID).
		Int("tiles", res.Tiles).
		Int("resolved", res.Resolved).
		Int("unresolved", res.Unresolved).
		Int64("replayed", res.Replayed).
		Dur("duration", res.Duration).
		Msg("TILESTATE: pass complete")
	return res, nil
}

// resolveTile replays the pending records of one tile in timestamp order.
// Resolved records after the earliest pending one are cleared first so a
// late-arriving record is applied in the right place.
func (r *Reconstructor) resolveTile(ctx context.Context, tile models.TileKey, after int64) ([]RecordResult, int64) {
	replayed, err := r.store.ClearTileStateAfter(ctx, tile, after)
	if err != nil {
		logging.Error().Err(err).Str("tile", tile.String()).Msg("TILESTATE: clear failed")
		return nil, 0
	}

	recs, err := r.store.FindTileRecordsNeedingResolution(ctx, tile)
	if err != nil {
		logging.Error().Err(err).Str("tile", tile.String()).Msg("TILESTATE: load tile failed")
		return nil, replayed
	}

	results := make([]RecordResult, 0, len(recs))
	for i, rec := range recs {
		rr := r.resolveRecord(ctx, tile, rec)
		results = append(results, rr)
		metrics.TileResolutions.WithLabelValues(metricLabel(rr)).Inc()

		if rr.Status == StatusResolved {
			continue
		}

		logging.Warn().Err(rr.Err).
			Str("tile", tile.String()).
			Str("activity_id", rec.ActivityID).
			Str("status", string(rr.Status)).
			Int("blocked", len(recs)-i-1).
			Msg("TILESTATE: record left unresolved")

		for _, rest := range recs[i+1:] {
			results = append(results, RecordResult{
				ActivityID: rest.ActivityID,
				Tile:       tile,
				Status:     StatusBlocked,
				Err:        fmt.Errorf("blocked by %s", rec.ActivityID),
			})
		}
		break
	}
	return results, replayed
}

func (r *Reconstructor) resolveRecord(ctx context.Context, tile models.TileKey, rec *models.WorldUpdateRecord) RecordResult {
	rr := RecordResult{ActivityID: rec.ActivityID, Tile: tile}

	candidates, err := r.store.FindLatestResolvedForTile(ctx, tile, rec.Timestamp)
	if err != nil {
		rr.Status, rr.Err = StatusFailed, err
		return rr
	}

	prior, err := predecessorState(rec, candidates)
	if err != nil {
		rr.Status, rr.Err = StatusAmbiguous, err
		r.markUnresolvable(ctx, rec.ActivityID, err)
		return rr
	}

	next, outcome, err := Apply(prior, rec)
	if err != nil {
		rr.Status, rr.Err = StatusInvalid, err
		r.markUnresolvable(ctx, rec.ActivityID, err)
		return rr
	}

	if err := r.store.UpdateTileState(ctx, rec.ActivityID, database.TileResolution{
		Player:       next.OwnerPlayer,
		Faction:      next.OwnerFaction,
		Garrison:     next.Garrison,
		PrevFaction:  prior.OwnerFaction,
		PrevGarrison: prior.Garrison,
		Outcome:      outcome,
		Captured:     outcome == models.OutcomeCapture,
	}); err != nil {
		rr.Status, rr.Err = StatusFailed, err
		return rr
	}

	rr.Status, rr.Outcome = StatusResolved, outcome
	return rr
}

func (r *Reconstructor) markUnresolvable(ctx context.Context, activityID string, cause error) {
	if err := r.store.MarkUnresolvable(ctx, activityID, cause.Error()); err != nil {
		logging.Error().Err(err).Str("activity_id", activityID).Msg("TILESTATE: failed to record resolution error")
	}
}

func metricLabel(rr RecordResult) string {
	switch {
	case rr.Status == StatusResolved:
		return string(rr.Outcome)
	case errors.Is(rr.Err, ErrAmbiguousPredecessor):
		return "ambiguous"
	case errors.Is(rr.Err, ErrNegativeGarrison):
		return "invalid"
	}
	return string(rr.Status)
}
