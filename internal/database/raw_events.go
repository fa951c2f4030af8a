// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/models"
)

// RawEventFilter narrows FindUnresolvedRawEvents. Zero fields match all.
type RawEventFilter struct {
	GameID     int64
	SourceType string
}

// BulkInsertRawEvents inserts events in one transaction, silently skipping
// IDs that already exist. It returns how many rows were inserted and how
// many were duplicates.
func (db *DB) BulkInsertRawEvents(ctx context.Context, events []models.RawEvent) (inserted, duplicates int, err error) {
	if len(events) == 0 {
		return 0, 0, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin raw event insert: %w", err)
	}
	defer rollbackUnlessCommitted(tx, &err)

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO raw_events
		(id, source_type, game_id, payload, received_at, resolved)
		VALUES (?, ?, ?, ?, ?, false)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, 0, fmt.Errorf("prepare raw event insert: %w", err)
	}
	defer closeWithLog(stmt, "raw event statement")

	for i := range events {
		ev := &events[i]
		res, execErr := stmt.ExecContext(ctx, ev.ID.String(), ev.SourceType, ev.GameID, string(ev.Payload), ev.ReceivedAt.UTC())
		if execErr != nil {
			err = fmt.Errorf("insert raw event %s: %w", ev.ID, execErr)
			return 0, 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		} else {
			duplicates++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit raw event insert: %w", err)
	}

	logging.Trace().Int("inserted", inserted).Int("duplicates", duplicates).Msg("DATABASE: raw events inserted")
	return inserted, duplicates, nil
}

// FindUnresolvedRawEvents returns raw events not yet folded into world
// update records, oldest first.
func (db *DB) FindUnresolvedRawEvents(ctx context.Context, f RawEventFilter) ([]models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, source_type, game_id, payload, received_at, resolved
		FROM raw_events WHERE resolved = false`
	var args []any
	if f.GameID != 0 {
		query += ` AND game_id = ?`
		args = append(args, f.GameID)
	}
	if f.SourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, f.SourceType)
	}
	query += ` ORDER BY received_at, id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unresolved raw events: %w", err)
	}
	defer closeWithLog(rows, "raw event rows")

	var events []models.RawEvent
	for rows.Next() {
		var (
			ev      models.RawEvent
			id      string
			payload string
		)
		if err := rows.Scan(&id, &ev.SourceType, &ev.GameID, &payload, &ev.ReceivedAt, &ev.Resolved); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse raw event id %q: %w", id, err)
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw events: %w", err)
	}
	return events, nil
}

// MarkRawEventsResolved flags the given raw events as processed.
func (db *DB) MarkRawEventsResolved(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	query := `UPDATE raw_events SET resolved = true WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark raw events resolved: %w", err)
	}
	return nil
}

// ResetRawEvents marks every raw event of the game unresolved again.
func (db *DB) ResetRawEvents(ctx context.Context, gameID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `UPDATE raw_events SET resolved = false WHERE game_id = ? AND resolved = true`, gameID)
	if err != nil {
		return 0, fmt.Errorf("reset raw events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountRawEvents returns the number of stored raw events for the game.
func (db *DB) CountRawEvents(ctx context.Context, gameID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events WHERE game_id = ?`, gameID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw events: %w", err)
	}
	return n, nil
}
