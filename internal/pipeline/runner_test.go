// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/database"
	"github.com/tomtom215/frontline/internal/dedup"
	"github.com/tomtom215/frontline/internal/events"
	"github.com/tomtom215/frontline/internal/models"
	"github.com/tomtom215/frontline/internal/tilestate"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 1})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PipelineCompleted
	err    error
}

func (p *recordingPublisher) PublishPipelineCompleted(_ context.Context, ev events.PipelineCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type staticWatch []string

func (w staticWatch) GetWatchList(context.Context) ([]string, error) { return w, nil }

func TestRunOnce_EndToEnd(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	raws := []models.RawEvent{
		models.NewRawEvent("WORLD_UPDATE", []byte(`{"gameId":5,"activities":[{"id":"d1","type":"DEFEND","player":{"id":"p2","name":"bob"},"faction":"BLUE","x":3,"y":4,"amount":10,"timestamp":100}]}`), t0),
		models.NewRawEvent("WORLD_UPDATE", []byte(`{"gameId":5,"activities":[{"id":"a1","type":"ATTACK","player":{"id":"p1","name":"alice"},"faction":"RED","x":3,"y":4,"amount":12,"timestamp":200}]}`), t0.Add(time.Second)),
	}
	if _, _, err := db.BulkInsertRawEvents(ctx, raws); err != nil {
		t.Fatal(err)
	}

	pub := &recordingPublisher{}
	r := NewRunner(dedup.New(db), tilestate.New(db, 2), pub, db, time.Minute)

	res, err := r.RunOnce(ctx, 5, false)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Dedup.Inserted != 2 || res.Tiles.Resolved != 2 {
		t.Errorf("result dedup=%+v tiles=%+v", res.Dedup, res.Tiles)
	}

	recs, err := db.GetWorldUpdates(ctx, []string{"a1"})
	if err != nil {
		t.Fatal(err)
	}
	a1 := recs["a1"]
	if a1 == nil || a1.Outcome != models.OutcomeCapture || *a1.TileGarrison != 2 || *a1.TileFaction != models.FactionRed {
		t.Errorf("a1 = %+v", a1)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events", len(pub.events))
	}
	if ev := pub.events[0]; ev.GameID != 5 || ev.Inserted != 2 || ev.Resolved != 2 || ev.Scope() != "5" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRunOnce_PublishFailureDoesNotFailRun(t *testing.T) {
	db := setupTestDB(t)
	pub := &recordingPublisher{err: errors.New("bus down")}
	r := NewRunner(dedup.New(db), tilestate.New(db, 1), pub, db, 0)

	if _, err := r.RunOnce(context.Background(), 1, false); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
}

// blockingDedup holds Reprocess until release is closed.
type blockingDedup struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingDedup) Reprocess(_ context.Context, gameID int64, fromScratch bool) (*dedup.Result, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return &dedup.Result{GameID: gameID, FromScratch: fromScratch}, nil
}

type noopRecon struct{}

func (noopRecon) Run(_ context.Context, gameID int64) (*tilestate.Result, error) {
	return &tilestate.Result{GameID: gameID}, nil
}

func TestRunOnce_SkipsOverlappingRun(t *testing.T) {
	d := &blockingDedup{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRunner(d, noopRecon{}, nil, staticWatch{}, time.Minute)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(ctx, 7, false)
		done <- err
	}()
	<-d.entered

	if _, err := r.RunOnce(ctx, 7, true); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("overlapping run err = %v, want ErrRunInProgress", err)
	}

	other := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(ctx, 8, false)
		other <- err
	}()

	close(d.release)
	if err := <-done; err != nil {
		t.Errorf("first run: %v", err)
	}
	if err := <-other; err != nil {
		t.Errorf("other game run: %v", err)
	}

	if _, err := r.RunOnce(ctx, 7, false); err != nil {
		t.Errorf("run after release: %v", err)
	}
}

type countingDedup struct {
	mu    sync.Mutex
	games []int64
	fail  map[int64]bool
}

func (c *countingDedup) Reprocess(_ context.Context, gameID int64, _ bool) (*dedup.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games = append(c.games, gameID)
	if c.fail[gameID] {
		return nil, errors.New("broken")
	}
	return &dedup.Result{GameID: gameID}, nil
}

func TestRunWatched(t *testing.T) {
	d := &countingDedup{fail: map[int64]bool{6: true}}
	r := NewRunner(d, noopRecon{}, nil, staticWatch{"5", "not-a-game", "6", "9"}, time.Minute)

	ran, err := r.RunWatched(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ran != 2 {
		t.Errorf("ran = %d, want 2", ran)
	}
	if len(d.games) != 3 || d.games[0] != 5 || d.games[1] != 6 || d.games[2] != 9 {
		t.Errorf("visited = %v", d.games)
	}
}

func TestServe_TicksUntilCancelled(t *testing.T) {
	d := &countingDedup{}
	r := NewRunner(d, noopRecon{}, nil, staticWatch{"1"}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := r.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve err = %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.games) < 2 {
		t.Errorf("scheduler ran %d times", len(d.games))
	}
}
