// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/models"
)

// testDBSemaphore serializes DuckDB test databases to keep CGO memory in check.
var testDBSemaphore = make(chan struct{}, 2)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 1})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRecord(id string, typ models.ActivityType, x, y int, amount, ts int64) *models.WorldUpdateRecord {
	return &models.WorldUpdateRecord{
		ActivityID:  id,
		GameID:      5,
		Type:        typ,
		PlayerID:    "p-" + id,
		PlayerName:  "player-" + id,
		Faction:     models.FactionRed,
		X:           x,
		Y:           y,
		Amount:      amount,
		Timestamp:   ts,
		SourceRawID: uuid.New(),
		SourceAt:    time.Unix(ts/1000, 0).UTC(),
	}
}

func TestBulkInsertRawEventsIgnoresDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	a := models.NewRawEvent("ATTACK", []byte(`{"gameId":5,"activities":[]}`), now)
	b := models.NewRawEvent("DEFEND", []byte(`{"gameId":5,"activities":[]}`), now.Add(time.Second))

	inserted, dups, err := db.BulkInsertRawEvents(ctx, []models.RawEvent{a, b})
	if err != nil {
		t.Fatalf("BulkInsertRawEvents: %v", err)
	}
	if inserted != 2 || dups != 0 {
		t.Errorf("first insert = (%d, %d), want (2, 0)", inserted, dups)
	}

	inserted, dups, err = db.BulkInsertRawEvents(ctx, []models.RawEvent{a})
	if err != nil {
		t.Fatalf("BulkInsertRawEvents: %v", err)
	}
	if inserted != 0 || dups != 1 {
		t.Errorf("second insert = (%d, %d), want (0, 1)", inserted, dups)
	}

	events, err := db.FindUnresolvedRawEvents(ctx, RawEventFilter{GameID: 5})
	if err != nil {
		t.Fatalf("FindUnresolvedRawEvents: %v", err)
	}
	if len(events) != 2 || events[0].ID != a.ID {
		t.Fatalf("unexpected unresolved events %+v", events)
	}

	if err := db.MarkRawEventsResolved(ctx, []uuid.UUID{a.ID}); err != nil {
		t.Fatalf("MarkRawEventsResolved: %v", err)
	}
	events, _ = db.FindUnresolvedRawEvents(ctx, RawEventFilter{GameID: 5, SourceType: "DEFEND"})
	if len(events) != 1 || events[0].ID != b.ID {
		t.Errorf("expected only DEFEND event unresolved, got %+v", events)
	}

	n, err := db.ResetRawEvents(ctx, 5)
	if err != nil || n != 1 {
		t.Errorf("ResetRawEvents = (%d, %v), want (1, nil)", n, err)
	}
}

func TestUpsertWorldUpdateAndContributions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("a-1", models.ActivityAttack, 1, 1, 12, 1000)
	rawA, rawB := uuid.New(), uuid.New()
	rec.Contributions = []models.Contribution{{SourceRawID: rawA, Amount: 5, Timestamp: 1000}}

	added, err := db.UpsertWorldUpdate(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertWorldUpdate: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}

	added, err = db.AppendContributions(ctx, "a-1", []models.Contribution{
		{SourceRawID: rawA, Amount: 5, Timestamp: 1000},
		{SourceRawID: rawB, Amount: 7, Timestamp: 1001},
	})
	if err != nil {
		t.Fatalf("AppendContributions: %v", err)
	}
	if added != 1 {
		t.Errorf("append added = %d, want 1 (duplicate skipped)", added)
	}

	contribs, err := db.GetContributions(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetContributions: %v", err)
	}
	if len(contribs) != 2 {
		t.Errorf("expected 2 contributions, got %d", len(contribs))
	}

	if err := db.UpdateTileState(ctx, "a-1", TileResolution{
		Player: "player-a-1", Faction: models.FactionRed, Garrison: 12,
		PrevFaction: models.FactionRed, Outcome: models.OutcomeCapture, Captured: true,
	}); err != nil {
		t.Fatalf("UpdateTileState: %v", err)
	}

	// A canonical rewrite clears the reconstructed state.
	rec.Amount = 20
	if _, err := db.UpsertWorldUpdate(ctx, rec); err != nil {
		t.Fatalf("second UpsertWorldUpdate: %v", err)
	}
	got, err := db.GetWorldUpdates(ctx, []string{"a-1"})
	if err != nil {
		t.Fatalf("GetWorldUpdates: %v", err)
	}
	r := got["a-1"]
	if r == nil || r.Amount != 20 {
		t.Fatalf("expected overwritten record, got %+v", r)
	}
	if r.TileGarrison != nil || r.Captured {
		t.Errorf("expected tile state cleared, got garrison=%v captured=%v", r.TileGarrison, r.Captured)
	}

	all, err := db.FindWorldUpdates(ctx, models.Filter{GameID: 5})
	if err != nil {
		t.Fatalf("FindWorldUpdates: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly one row per activity id, got %d", len(all))
	}
}

func TestFindLatestResolvedForTile(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tile := models.TileKey{GameID: 5, X: 2, Y: 3}

	for _, rec := range []*models.WorldUpdateRecord{
		testRecord("r-1", models.ActivityDefend, 2, 3, 10, 100),
		testRecord("r-2", models.ActivityAttack, 2, 3, 4, 200),
		testRecord("r-3", models.ActivityAttack, 2, 3, 4, 200),
		testRecord("other", models.ActivityAttack, 9, 9, 4, 150),
	} {
		if _, err := db.UpsertWorldUpdate(ctx, rec); err != nil {
			t.Fatalf("UpsertWorldUpdate: %v", err)
		}
	}

	cands, err := db.FindLatestResolvedForTile(ctx, tile, 300)
	if err != nil {
		t.Fatalf("FindLatestResolvedForTile: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no resolved predecessor, got %d", len(cands))
	}

	res := TileResolution{Player: "p", Faction: models.FactionRed, Garrison: 10, Outcome: models.OutcomeReinforce}
	for _, id := range []string{"r-1", "r-2", "r-3", "other"} {
		if err := db.UpdateTileState(ctx, id, res); err != nil {
			t.Fatalf("UpdateTileState(%s): %v", id, err)
		}
	}

	cands, _ = db.FindLatestResolvedForTile(ctx, tile, 200)
	if len(cands) != 1 || cands[0].ActivityID != "r-1" {
		t.Errorf("expected r-1 as strict predecessor of 200, got %+v", cands)
	}

	cands, _ = db.FindLatestResolvedForTile(ctx, tile, 300)
	if len(cands) != 2 {
		t.Errorf("expected two equally recent candidates, got %d", len(cands))
	}

	cleared, err := db.ClearTileStateAfter(ctx, tile, 100)
	if err != nil {
		t.Fatalf("ClearTileStateAfter: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}
	pending, _ := db.FindTileRecordsNeedingResolution(ctx, tile)
	if len(pending) != 2 || pending[0].ActivityID != "r-2" {
		t.Errorf("unexpected pending records %+v", pending)
	}
}

func TestNeutralReinforcedRecordCountsAsResolved(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tile := models.TileKey{GameID: 5, X: 2, Y: 3}

	if _, err := db.UpsertWorldUpdate(ctx, testRecord("d-1", models.ActivityDefend, 2, 3, 5, 100)); err != nil {
		t.Fatal(err)
	}
	// a reinforced neutral tile: garrison without a faction
	if err := db.UpdateTileState(ctx, "d-1", TileResolution{Player: "p", Garrison: 5, Outcome: models.OutcomeReinforce}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.FindTileRecordsNeedingResolution(ctx, tile)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("reconstructed neutral record still pending: %+v", pending)
	}
	cands, err := db.FindLatestResolvedForTile(ctx, tile, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].ActivityID != "d-1" {
		t.Errorf("candidates = %+v", cands)
	}
}

func TestUpsertMovedRecordClearsOldSuccessors(t *testing.T) {
	tests := []struct {
		name        string
		x, y        int
		ts          int64
		wantCleared bool
	}{
		{"moved to another tile", 7, 7, 200, true},
		{"moved later on the same tile", 2, 3, 350, true},
		{"unchanged position", 2, 3, 200, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			ctx := context.Background()

			for _, rec := range []*models.WorldUpdateRecord{
				testRecord("r-1", models.ActivityAttack, 2, 3, 4, 200),
				testRecord("r-2", models.ActivityAttack, 2, 3, 4, 300),
				testRecord("r-3", models.ActivityAttack, 2, 3, 4, 400),
			} {
				if _, err := db.UpsertWorldUpdate(ctx, rec); err != nil {
					t.Fatal(err)
				}
			}
			res := TileResolution{Player: "p", Faction: models.FactionRed, Garrison: 4, Outcome: models.OutcomeCapture}
			for _, id := range []string{"r-1", "r-2", "r-3"} {
				if err := db.UpdateTileState(ctx, id, res); err != nil {
					t.Fatal(err)
				}
			}

			if _, err := db.UpsertWorldUpdate(ctx, testRecord("r-1", models.ActivityAttack, tt.x, tt.y, 4, tt.ts)); err != nil {
				t.Fatal(err)
			}

			recs, err := db.GetWorldUpdates(ctx, []string{"r-2", "r-3"})
			if err != nil {
				t.Fatal(err)
			}
			for id, rec := range recs {
				if cleared := rec.TileGarrison == nil; cleared != tt.wantCleared {
					t.Errorf("%s cleared = %v, want %v", id, cleared, tt.wantCleared)
				}
			}
		})
	}
}

func TestUpdateTileStateMissing(t *testing.T) {
	db := setupTestDB(t)
	err := db.UpdateTileState(context.Background(), "nope", TileResolution{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteWorldUpdates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("d-1", models.ActivityDefend, 0, 0, 3, 10)
	rec.Contributions = []models.Contribution{{SourceRawID: uuid.New(), Amount: 3, Timestamp: 10}}
	if _, err := db.UpsertWorldUpdate(ctx, rec); err != nil {
		t.Fatalf("UpsertWorldUpdate: %v", err)
	}

	n, err := db.DeleteWorldUpdates(ctx, 5)
	if err != nil || n != 1 {
		t.Fatalf("DeleteWorldUpdates = (%d, %v), want (1, nil)", n, err)
	}
	contribs, _ := db.GetContributions(ctx, "d-1")
	if len(contribs) != 0 {
		t.Errorf("expected contributions removed, got %d", len(contribs))
	}
}

func TestWatchList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	list, err := db.GetWatchList(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("empty watch list = (%v, %v)", list, err)
	}

	if err := db.AddToWatchList(ctx, "9"); err != nil {
		t.Fatalf("AddToWatchList: %v", err)
	}
	if err := db.AddToWatchList(ctx, "3"); err != nil {
		t.Fatalf("AddToWatchList: %v", err)
	}
	if err := db.AddToWatchList(ctx, "9"); err != nil {
		t.Fatalf("AddToWatchList: %v", err)
	}

	list, _ = db.GetWatchList(ctx)
	if len(list) != 2 || list[0] != "3" || list[1] != "9" {
		t.Errorf("watch list = %v, want [3 9]", list)
	}

	if err := db.RemoveFromWatchList(ctx, "3"); err != nil {
		t.Fatalf("RemoveFromWatchList: %v", err)
	}
	list, _ = db.GetWatchList(ctx)
	if len(list) != 1 || list[0] != "9" {
		t.Errorf("watch list = %v, want [9]", list)
	}
}

func TestReportCacheEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	later := now.Add(time.Hour)

	if _, err := db.GetCacheEntry(ctx, "5", "apm", "{}"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := db.PutCacheEntry(ctx, &models.CacheEntry{Scope: "5", ReportType: "apm", ParamsKey: "{}", Data: []byte(`[]`), CreatedAt: now}); err != nil {
		t.Fatalf("PutCacheEntry: %v", err)
	}
	if err := db.PutCacheEntry(ctx, &models.CacheEntry{Scope: "5", ReportType: "mvp", ParamsKey: "{}", Data: []byte(`[1]`), CreatedAt: now, RevalidateAt: &later}); err != nil {
		t.Fatalf("PutCacheEntry: %v", err)
	}

	e, err := db.GetCacheEntry(ctx, "5", "apm", "{}")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if e.RevalidateAt != nil || string(e.Data) != "[]" {
		t.Errorf("unexpected entry %+v", e)
	}

	n, err := db.ExpireCacheEntries(ctx, "5", "", "", now)
	if err != nil || n != 2 {
		t.Fatalf("ExpireCacheEntries = (%d, %v), want (2, nil)", n, err)
	}
	e, _ = db.GetCacheEntry(ctx, "5", "mvp", "{}")
	if e.RevalidateAt == nil || !e.RevalidateAt.Equal(now) {
		t.Errorf("expected revalidate_at = now, got %v", e.RevalidateAt)
	}

	purged, err := db.PurgeStaleCacheEntries(ctx, now.Add(time.Second))
	if err != nil || purged != 2 {
		t.Errorf("PurgeStaleCacheEntries = (%d, %v), want (2, nil)", purged, err)
	}
}
