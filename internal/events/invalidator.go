// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package events

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tomtom215/frontline/internal/logging"
)

// Invalidator forces cached reports stale.
type Invalidator interface {
	Invalidate(ctx context.Context, scope, reportType string, params any) (int64, error)
}

// CacheInvalidator is a suture service that invalidates every cached report
// of a game when its pipeline run completes.
type CacheInvalidator struct {
	bus   *Bus
	cache Invalidator

	ready   chan struct{}
	started atomic.Bool
	handled atomic.Int64
}

// NewCacheInvalidator returns the subscriber service.
func NewCacheInvalidator(bus *Bus, cache Invalidator) *CacheInvalidator {
	return &CacheInvalidator{bus: bus, cache: cache, ready: make(chan struct{})}
}

// Ready is closed once the first subscription is live.
func (s *CacheInvalidator) Ready() <-chan struct{} { return s.ready }

// Handled returns the number of events processed.
func (s *CacheInvalidator) Handled() int64 { return s.handled.Load() }

// Serve consumes pipeline events until ctx ends.
func (s *CacheInvalidator) Serve(ctx context.Context) error {
	messages, err := s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.bus.Topic(), err)
	}
	if s.started.CompareAndSwap(false, true) {
		close(s.ready)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", s.bus.Topic())
			}

			ev, err := DecodePipelineCompleted(msg)
			if err != nil {
				logging.Warn().Err(err).Msg("EVENTS: dropping undecodable message")
				msg.Ack()
				continue
			}

			n, err := s.cache.Invalidate(msg.Context(), ev.Scope(), "", nil)
			if err != nil {
				logging.Warn().Err(err).Int64("game_id", ev.GameID).Msg("EVENTS: cache invalidation failed")
			} else {
				logging.Debug().Int64("game_id", ev.GameID).Int64("entries", n).Msg("EVENTS: cache invalidated")
			}
			s.handled.Add(1)
			msg.Ack()
		}
	}
}

// String identifies the service in supervisor logs.
func (s *CacheInvalidator) String() string { return "cache-invalidator" }
