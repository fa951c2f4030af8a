// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package pipeline runs deduplication followed by tile state reconstruction
// for a game, on demand or on a schedule over the watch list.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tomtom215/frontline/internal/dedup"
	"github.com/tomtom215/frontline/internal/events"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/tilestate"
)

// ErrRunInProgress is returned when a run for the same game is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Deduplicator canonicalizes raw events into world update records.
type Deduplicator interface {
	Reprocess(ctx context.Context, gameID int64, fromScratch bool) (*dedup.Result, error)
}

// Reconstructor resolves tile state for pending records.
type Reconstructor interface {
	Run(ctx context.Context, gameID int64) (*tilestate.Result, error)
}

// Publisher announces completed runs.
type Publisher interface {
	PublishPipelineCompleted(ctx context.Context, ev events.PipelineCompleted) error
}

// WatchList lists the scopes the scheduler visits.
type WatchList interface {
	GetWatchList(ctx context.Context) ([]string, error)
}

// Result combines both stages of one run.
type Result struct {
	GameID   int64             `json:"game_id"`
	Dedup    *dedup.Result     `json:"dedup"`
	Tiles    *tilestate.Result `json:"tiles"`
	Duration time.Duration     `json:"duration"`
}

// Runner executes pipeline runs with at most one active run per game.
type Runner struct {
	dedup    Deduplicator
	recon    Reconstructor
	pub      Publisher
	watch    WatchList
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running map[int64]struct{}
}

// NewRunner returns a Runner. pub may be nil. A zero interval means one
// minute.
func NewRunner(d Deduplicator, r Reconstructor, pub Publisher, watch WatchList, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		dedup:    d,
		recon:    r,
		pub:      pub,
		watch:    watch,
		interval: interval,
		now:      time.Now,
		running:  make(map[int64]struct{}),
	}
}

func (r *Runner) acquire(gameID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[gameID]; busy {
		return false
	}
	r.running[gameID] = struct{}{}
	return true
}

func (r *Runner) release(gameID int64) {
	r.mu.Lock()
	delete(r.running, gameID)
	r.mu.Unlock()
}

// RunOnce deduplicates and reconstructs gameID, then publishes a completion
// event. An overlapping call for the same game returns ErrRunInProgress
// without doing any work.
func (r *Runner) RunOnce(ctx context.Context, gameID int64, fromScratch bool) (*Result, error) {
	if !r.acquire(gameID) {
		metrics.PipelineRunsSkipped.Inc()
		return nil, fmt.Errorf("game %d: %w", gameID, ErrRunInProgress)
	}
	defer r.release(gameID)

	start := r.now()
	res := &Result{GameID: gameID}

	d, err := r.dedup.Reprocess(ctx, gameID, fromScratch)
	if err != nil {
		return nil, fmt.Errorf("dedup game %d: %w", gameID, err)
	}
	res.Dedup = d

	t, err := r.recon.Run(ctx, gameID)
	if err != nil {
		return res, fmt.Errorf("reconstruct game %d: %w", gameID, err)
	}
	res.Tiles = t
	res.Duration = r.now().Sub(start)
	metrics.PipelineRunDuration.Observe(res.Duration.Seconds())

	if r.pub != nil {
		ev := events.PipelineCompleted{
			GameID:      gameID,
			FromScratch: fromScratch,
			Inserted:    d.Inserted,
			Updated:     d.Updated,
			Merged:      d.Merged,
			Resolved:    t.Resolved,
			Unresolved:  t.Unresolved,
			CompletedAt: r.now().UTC(),
		}
		if err := r.pub.PublishPipelineCompleted(ctx, ev); err != nil {
			logging.Warn().Err(err).Int64("game_id", gameID).Msg("PIPELINE: completion event not published")
		}
	}

	logging.Info().
		Int64("game_id", gameID).
		Bool("from_scratch", fromScratch).
		Int("inserted", d.Inserted).
		Int("updated", d.Updated).
		Int("merged", d.Merged).
		Int("resolved", t.Resolved).
		Int("unresolved", t.Unresolved).
		Dur("duration", res.Duration).
		Msg("PIPELINE: run completed")
	return res, nil
}

// RunWatched runs every game on the watch list once. Scopes that are not
// game ids are skipped. Per-game failures are logged and do not stop the
// sweep.
func (r *Runner) RunWatched(ctx context.Context) (int, error) {
	scopes, err := r.watch.GetWatchList(ctx)
	if err != nil {
		return 0, fmt.Errorf("load watch list: %w", err)
	}

	ran := 0
	for _, scope := range scopes {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		gameID, err := strconv.ParseInt(scope, 10, 64)
		if err != nil {
			logging.Warn().Str("scope", scope).Msg("PIPELINE: watch list entry is not a game id")
			continue
		}
		if _, err := r.RunOnce(ctx, gameID, false); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				logging.Debug().Int64("game_id", gameID).Msg("PIPELINE: skipped, run in progress")
				continue
			}
			logging.Error().Err(err).Int64("game_id", gameID).Msg("PIPELINE: scheduled run failed")
			continue
		}
		ran++
	}
	return ran, nil
}

// Serve runs RunWatched every interval until ctx ends.
func (r *Runner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", r.interval).Msg("PIPELINE: scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunWatched(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("PIPELINE: scheduled sweep failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (r *Runner) String() string { return "pipeline-scheduler" }
