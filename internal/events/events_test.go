// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/frontline/internal/config"
)

type invalidation struct {
	scope      string
	reportType string
	params     any
}

type fakeCache struct {
	mu    sync.Mutex
	calls []invalidation
	err   error
}

func (c *fakeCache) Invalidate(_ context.Context, scope, reportType string, params any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, invalidation{scope, reportType, params})
	return 3, c.err
}

func (c *fakeCache) snapshot() []invalidation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]invalidation(nil), c.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := NewBus(config.EventsConfig{})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBus_RoundTrip(t *testing.T) {
	bus := newTestBus(t)
	if bus.Topic() != DefaultTopic {
		t.Errorf("topic = %s", bus.Topic())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	sent := PipelineCompleted{GameID: 22, Inserted: 4, Resolved: 3, CompletedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	if err := bus.PublishPipelineCompleted(ctx, sent); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-messages:
		got, err := DecodePipelineCompleted(msg)
		if err != nil {
			t.Fatal(err)
		}
		msg.Ack()
		if got.GameID != 22 || got.Inserted != 4 || got.Resolved != 3 || !got.CompletedAt.Equal(sent.CompletedAt) {
			t.Errorf("got %+v, want %+v", got, sent)
		}
		if msg.Metadata.Get("game_id") != "22" {
			t.Errorf("metadata = %v", msg.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestBus_Closed(t *testing.T) {
	bus := newTestBus(t)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := bus.PublishPipelineCompleted(context.Background(), PipelineCompleted{}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("err = %v", err)
	}
}

func TestCacheInvalidator(t *testing.T) {
	bus := newTestBus(t)
	cache := &fakeCache{err: nil}
	svc := NewCacheInvalidator(bus, cache)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not ready")
	}

	if err := bus.PublishPipelineCompleted(ctx, PipelineCompleted{GameID: 9}); err != nil {
		t.Fatal(err)
	}
	if err := bus.pub.Publish(bus.Topic(), message.NewMessage("bad", []byte("not json"))); err != nil {
		t.Fatal(err)
	}
	if err := bus.PublishPipelineCompleted(ctx, PipelineCompleted{GameID: 10}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return svc.Handled() == 2 })
	calls := cache.snapshot()
	scopes := map[string]bool{}
	for _, c := range calls {
		scopes[c.scope] = true
		if c.reportType != "" || c.params != nil {
			t.Errorf("invalidation not scope-wide: %+v", c)
		}
	}
	if len(calls) != 2 || !scopes["9"] || !scopes["10"] {
		t.Fatalf("calls = %+v", calls)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestCacheInvalidator_ErrorStillAcks(t *testing.T) {
	bus := newTestBus(t)
	cache := &fakeCache{err: errors.New("db locked")}
	svc := NewCacheInvalidator(bus, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()
	<-svc.Ready()

	for i := int64(1); i <= 3; i++ {
		if err := bus.PublishPipelineCompleted(ctx, PipelineCompleted{GameID: i}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return svc.Handled() == 3 })
}
