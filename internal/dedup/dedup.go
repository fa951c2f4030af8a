// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package dedup folds unresolved raw events into one canonical world
// update record per activity ID.
//
// A pass is idempotent. Running it twice over the same raw events leaves
// the same records and contributions behind.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/frontline/internal/database"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/models"
)

// Store is the persistence the deduplicator needs.
type Store interface {
	FindUnresolvedRawEvents(ctx context.Context, f database.RawEventFilter) ([]models.RawEvent, error)
	MarkRawEventsResolved(ctx context.Context, ids []uuid.UUID) error
	ResetRawEvents(ctx context.Context, gameID int64) (int64, error)
	GetWorldUpdates(ctx context.Context, activityIDs []string) (map[string]*models.WorldUpdateRecord, error)
	UpsertWorldUpdate(ctx context.Context, rec *models.WorldUpdateRecord) (int, error)
	AppendContributions(ctx context.Context, activityID string, contribs []models.Contribution) (int, error)
	DeleteWorldUpdates(ctx context.Context, gameID int64) (int64, error)
}

// Action is what a pass did with one activity.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionMerged   Action = "merged"
	ActionFailed   Action = "failed"
)

// ItemResult is the outcome for one activity.
type ItemResult struct {
	ActivityID    string `json:"activity_id"`
	Action        Action `json:"action"`
	Contributions int    `json:"contributions_added"`
	Err           error  `json:"-"`
}

// Result summarizes one pass.
type Result struct {
	GameID      int64         `json:"game_id"`
	FromScratch bool          `json:"from_scratch"`
	RawEvents   int           `json:"raw_events"`
	Skipped     int           `json:"skipped"`
	Resolved    int           `json:"resolved"`
	Inserted    int           `json:"inserted"`
	Updated     int           `json:"updated"`
	Merged      int           `json:"merged"`
	Failed      int           `json:"failed"`
	Items       []ItemResult  `json:"-"`
	RawFailures []RawFailure  `json:"-"`
	Duration    time.Duration `json:"duration"`
}

// Deduplicator runs dedup passes against a Store.
type Deduplicator struct {
	store Store
}

// New returns a Deduplicator backed by store.
func New(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Reprocess folds the unresolved raw events of gameID into world update
// records. With fromScratch the game's records are discarded and every raw
// event is replayed.
//
// A failing activity never aborts the pass; it shows up in Result.Items and
// keeps the raw events that carried it unresolved. The returned error is
// reserved for failures that prevent the pass from running at all.
func (d *Deduplicator) Reprocess(ctx context.Context, gameID int64, fromScratch bool) (*Result, error) {
	start := time.Now()
	res := &Result{GameID: gameID, FromScratch: fromScratch}

	if fromScratch {
		deleted, err := d.store.DeleteWorldUpdates(ctx, gameID)
		if err != nil {
			return nil, fmt.Errorf("discard world updates of game %d: %w", gameID, err)
		}
		reset, err := d.store.ResetRawEvents(ctx, gameID)
		if err != nil {
			return nil, fmt.Errorf("reset raw events of game %d: %w", gameID, err)
		}
		logging.Info().Int64("game_id", gameID).Int64("deleted", deleted).Int64("reset", reset).Msg("DEDUP: reprocessing from scratch")
	}

	raws, err := d.store.FindUnresolvedRawEvents(ctx, database.RawEventFilter{GameID: gameID})
	if err != nil {
		return nil, fmt.Errorf("load unresolved raw events: %w", err)
	}
	res.RawEvents = len(raws)

	var (
		replay   []models.RawEvent
		resolved []uuid.UUID
	)
	for _, raw := range raws {
		if raw.SourceType == models.SourceInitialActivities {
			res.Skipped++
			resolved = append(resolved, raw.ID)
			continue
		}
		replay = append(replay, raw)
	}

	groups, rawFailures := Canonicalize(replay)
	res.RawFailures = rawFailures

	failedRaw := make(map[uuid.UUID]bool, len(rawFailures))
	for _, f := range rawFailures {
		failedRaw[f.RawID] = true
		logging.Warn().Err(f.Err).Str("raw_id", f.RawID.String()).Msg("DEDUP: raw event rejected")
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.Activity.ActivityID
	}
	existing, err := d.store.GetWorldUpdates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load existing world updates: %w", err)
	}

	res.Items = make([]ItemResult, 0, len(groups))
	for _, g := range groups {
		item := d.apply(ctx, g, existing[g.Activity.ActivityID])
		res.Items = append(res.Items, item)
		metrics.DedupActivities.WithLabelValues(string(item.Action)).Inc()

		switch item.Action {
		case ActionInserted:
			res.Inserted++
		case ActionUpdated:
			res.Updated++
		case ActionMerged:
			res.Merged++
		case ActionFailed:
			res.Failed++
			for _, src := range g.Sources {
				failedRaw[src] = true
			}
			logging.Warn().Err(item.Err).Str("activity_id", item.ActivityID).Msg("DEDUP: activity failed")
		}
	}

	for _, raw := range replay {
		if !failedRaw[raw.ID] {
			resolved = append(resolved, raw.ID)
		}
	}
	if err := d.store.MarkRawEventsResolved(ctx, resolved); err != nil {
		return res, fmt.Errorf("mark raw events resolved: %w", err)
	}
	res.Resolved = len(resolved)
	res.Duration = time.Since(start)

	logging.Info().
		Int64("game_id", gameID).
		Int("raw_events", res.RawEvents).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("merged", res.Merged).
		Int("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("DEDUP: pass complete")
	return res, nil
}

// apply persists one canonical activity. A stored record keeps its
// canonical fields unless this pass saw an earlier source for it.
func (d *Deduplicator) apply(ctx context.Context, g Canonical, prev *models.WorldUpdateRecord) ItemResult {
	rec := models.RecordFromActivity(g.Activity)
	item := ItemResult{ActivityID: rec.ActivityID}

	if prev == nil || rec.EarlierSource(prev) || (rec.SourceRawID == prev.SourceRawID && !rec.SameCanonical(prev)) {
		added, err := d.store.UpsertWorldUpdate(ctx, &rec)
		if err != nil {
			item.Action, item.Err = ActionFailed, err
			return item
		}
		item.Contributions = added
		item.Action = ActionInserted
		if prev != nil {
			item.Action = ActionUpdated
		}
		return item
	}

	added, err := d.store.AppendContributions(ctx, rec.ActivityID, rec.Contributions)
	if err != nil {
		item.Action, item.Err = ActionFailed, err
		return item
	}
	item.Action = ActionMerged
	item.Contributions = added
	return item
}
