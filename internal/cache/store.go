// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/database"
	"github.com/tomtom215/frontline/internal/models"
)

// ErrMiss is returned by EntryStore.Get when no entry exists.
var ErrMiss = errors.New("cache miss")

// EntryStore persists cache entries. Implementations ignore freshness;
// ReportCache decides what may be served.
type EntryStore interface {
	// Get returns the entry or ErrMiss.
	Get(ctx context.Context, scope, reportType, paramsKey string) (*models.CacheEntry, error)

	// Put inserts or replaces an entry.
	Put(ctx context.Context, e *models.CacheEntry) error

	// Expire sets the revalidate time of matching entries to at. Empty
	// reportType or paramsKey match any value.
	Expire(ctx context.Context, scope, reportType, paramsKey string, at time.Time) (int64, error)

	// Purge deletes entries that went stale before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Backend names accepted by NewStore.
const (
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
	BackendBadger = "badger"
)

// NewStore builds the entry store named by cfg.Backend.
func NewStore(cfg config.CacheConfig, db *database.DB) (EntryStore, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendDuckDB:
		if db == nil {
			return nil, fmt.Errorf("duckdb cache backend requires a database")
		}
		return NewDuckDBStore(db), nil
	case BackendBadger:
		return OpenBadgerStore(cfg.BadgerPath)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// DuckDBStore keeps entries in the report_cache table.
type DuckDBStore struct {
	db *database.DB
}

// NewDuckDBStore wraps db. Closing the store leaves db open.
func NewDuckDBStore(db *database.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

func (s *DuckDBStore) Get(ctx context.Context, scope, reportType, paramsKey string) (*models.CacheEntry, error) {
	e, err := s.db.GetCacheEntry(ctx, scope, reportType, paramsKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMiss
	}
	return e, err
}

func (s *DuckDBStore) Put(ctx context.Context, e *models.CacheEntry) error {
	return s.db.PutCacheEntry(ctx, e)
}

func (s *DuckDBStore) Expire(ctx context.Context, scope, reportType, paramsKey string, at time.Time) (int64, error) {
	return s.db.ExpireCacheEntries(ctx, scope, reportType, paramsKey, at)
}

func (s *DuckDBStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.db.PurgeStaleCacheEntries(ctx, cutoff)
}

func (s *DuckDBStore) Close() error { return nil }
