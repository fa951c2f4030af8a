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
	"slices"

	"github.com/goccy/go-json"
)

const watchListKey = "watch_list"

// watchListSetting is the stored shape of the watch list.
type watchListSetting struct {
	WatchList []string `json:"watchList"`
}

// GetWatchList returns the scopes currently considered live.
func (db *DB) GetWatchList(ctx context.Context) ([]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var raw string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, watchListKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watch list: %w", err)
	}

	var s watchListSetting
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode watch list: %w", err)
	}
	if s.WatchList == nil {
		s.WatchList = []string{}
	}
	return s.WatchList, nil
}

// SetWatchList replaces the watch list. Duplicates are dropped and the
// result is sorted.
func (db *DB) SetWatchList(ctx context.Context, scopes []string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	list := slices.Clone(scopes)
	slices.Sort(list)
	list = slices.Compact(list)
	if list == nil {
		list = []string{}
	}

	b, err := json.Marshal(watchListSetting{WatchList: list})
	if err != nil {
		return fmt.Errorf("encode watch list: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, watchListKey, string(b)); err != nil {
		return fmt.Errorf("write watch list: %w", err)
	}
	return nil
}

// AddToWatchList adds scope to the watch list.
func (db *DB) AddToWatchList(ctx context.Context, scope string) error {
	list, err := db.GetWatchList(ctx)
	if err != nil {
		return err
	}
	return db.SetWatchList(ctx, append(list, scope))
}

// RemoveFromWatchList removes scope from the watch list.
func (db *DB) RemoveFromWatchList(ctx context.Context, scope string) error {
	list, err := db.GetWatchList(ctx)
	if err != nil {
		return err
	}
	return db.SetWatchList(ctx, slices.DeleteFunc(list, func(s string) bool { return s == scope }))
}
