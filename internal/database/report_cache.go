// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/frontline/internal/models"
)

// GetCacheEntry returns the cached report or ErrNotFound.
func (db *DB) GetCacheEntry(ctx context.Context, scope, reportType, paramsKey string) (*models.CacheEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	e := models.CacheEntry{Scope: scope, ReportType: reportType, ParamsKey: paramsKey}
	var revalidate sql.NullTime
	err := db.conn.QueryRowContext(ctx, `SELECT data, created_at, revalidate_at FROM report_cache
		WHERE scope = ? AND report_type = ? AND params_key = ?`, scope, reportType, paramsKey).
		Scan(&e.Data, &e.CreatedAt, &revalidate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	if revalidate.Valid {
		t := revalidate.Time
		e.RevalidateAt = &t
	}
	return &e, nil
}

// PutCacheEntry inserts or replaces a cached report.
func (db *DB) PutCacheEntry(ctx context.Context, e *models.CacheEntry) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var revalidate any
	if e.RevalidateAt != nil {
		revalidate = e.RevalidateAt.UTC()
	}
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO report_cache
		(scope, report_type, params_key, data, created_at, revalidate_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, report_type, params_key) DO UPDATE SET
			data = EXCLUDED.data,
			created_at = EXCLUDED.created_at,
			revalidate_at = EXCLUDED.revalidate_at`,
		e.Scope, e.ReportType, e.ParamsKey, e.Data, e.CreatedAt.UTC(), revalidate); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// ExpireCacheEntries sets revalidate_at to at for matching entries. Empty
// reportType or paramsKey match any value.
func (db *DB) ExpireCacheEntries(ctx context.Context, scope, reportType, paramsKey string, at time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `UPDATE report_cache SET revalidate_at = ? WHERE scope = ?`
	args := []any{at.UTC(), scope}
	if reportType != "" {
		query += ` AND report_type = ?`
		args = append(args, reportType)
	}
	if paramsKey != "" {
		query += ` AND params_key = ?`
		args = append(args, paramsKey)
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("expire cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeStaleCacheEntries deletes entries whose revalidate_at is before cutoff.
func (db *DB) PurgeStaleCacheEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM report_cache
		WHERE revalidate_at IS NOT NULL AND revalidate_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
