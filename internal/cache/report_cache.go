// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/models"
)

// DefaultTTL is the revalidation delay for watched scopes.
const DefaultTTL = time.Hour

// WatchList reports the scopes that are still live.
type WatchList interface {
	GetWatchList(ctx context.Context) ([]string, error)
}

// Config controls expiry.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// ReportCache applies the watch-list expiry policy on top of an EntryStore.
type ReportCache struct {
	store EntryStore
	watch WatchList
	cfg   Config
	now   func() time.Time
}

// New returns a ReportCache. A zero TTL means DefaultTTL.
func New(store EntryStore, watch WatchList, cfg Config) *ReportCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return &ReportCache{store: store, watch: watch, cfg: cfg, now: time.Now}
}

// Get returns the cached data for the key if it is still fresh.
func (c *ReportCache) Get(ctx context.Context, scope, reportType string, params any) ([]byte, bool, error) {
	key, err := CanonicalKey(params)
	if err != nil {
		return nil, false, err
	}

	e, err := c.store.Get(ctx, scope, reportType, key)
	if errors.Is(err, ErrMiss) {
		metrics.RecordCacheLookup(reportType, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache %s/%s: %w", scope, reportType, err)
	}
	if !e.FreshAt(c.now()) {
		metrics.RecordCacheLookup(reportType, false)
		return nil, false, nil
	}
	metrics.RecordCacheLookup(reportType, true)
	return e.Data, true, nil
}

// Put stores data. Scopes off the watch list are cached without expiry;
// watched scopes revalidate after ttl, or the configured TTL when ttl is
// zero.
func (c *ReportCache) Put(ctx context.Context, scope, reportType string, data []byte, params any, ttl time.Duration) error {
	key, err := CanonicalKey(params)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	now := c.now().UTC()
	e := &models.CacheEntry{
		Scope:      scope,
		ReportType: reportType,
		ParamsKey:  key,
		Data:       data,
		CreatedAt:  now,
	}
	if c.watched(ctx, scope) {
		at := now.Add(ttl)
		e.RevalidateAt = &at
	}

	if err := c.store.Put(ctx, e); err != nil {
		return fmt.Errorf("write cache %s/%s: %w", scope, reportType, err)
	}
	return nil
}

// watched reports whether scope is on the watch list. A lookup failure
// counts as watched so the entry still expires.
func (c *ReportCache) watched(ctx context.Context, scope string) bool {
	if c.watch == nil {
		return true
	}
	list, err := c.watch.GetWatchList(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("scope", scope).Msg("CACHE: watch list unavailable, applying ttl")
		return true
	}
	return slices.Contains(list, scope)
}

// Invalidate forces matching entries stale. An empty reportType matches
// every report of the scope and nil params match every parameter set.
func (c *ReportCache) Invalidate(ctx context.Context, scope, reportType string, params any) (int64, error) {
	var key string
	if params != nil {
		k, err := CanonicalKey(params)
		if err != nil {
			return 0, err
		}
		key = k
	}

	n, err := c.store.Expire(ctx, scope, reportType, key, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("invalidate cache %s/%s: %w", scope, reportType, err)
	}
	logging.Debug().Str("scope", scope).Str("report_type", reportType).Int64("entries", n).Msg("CACHE: invalidated")
	return n, nil
}

// ComputeFunc produces a report value that Fetch encodes as JSON.
type ComputeFunc func(ctx context.Context) (any, error)

// Fetch returns the cached report or computes, stores and returns it.
// A failed cache write is logged and the computed data still returned.
func (c *ReportCache) Fetch(ctx context.Context, scope, reportType string, params any, compute ComputeFunc) ([]byte, error) {
	data, ok, err := c.Get(ctx, scope, reportType, params)
	if err != nil {
		logging.Warn().Err(err).Str("scope", scope).Str("report_type", reportType).Msg("CACHE: read failed, recomputing")
	}
	if ok {
		return data, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	data, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s report: %w", reportType, err)
	}

	if err := c.Put(ctx, scope, reportType, data, params, 0); err != nil {
		logging.Warn().Err(err).Str("scope", scope).Str("report_type", reportType).Msg("CACHE: write failed")
	}
	return data, nil
}

// Serve purges stale entries every CleanupInterval until ctx is done.
func (c *ReportCache) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := c.store.Purge(ctx, c.now().UTC())
			if err != nil {
				logging.Warn().Err(err).Msg("CACHE: purge failed")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("entries", n).Msg("CACHE: purged stale entries")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (c *ReportCache) String() string { return "report-cache-janitor" }

// Close closes the entry store.
func (c *ReportCache) Close() error {
	return c.store.Close()
}
