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
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/frontline/internal/models"
)

const worldUpdateColumns = `activity_id, game_id, type, player_id, player_name, faction, x, y, amount, ts,
	source_raw_id, source_received_at, updated_at,
	tile_player, tile_faction, tile_garrison, prev_faction, prev_garrison, outcome, captured, resolution_error`

// resolvedPredicate matches rows whose tile state is present and consistent.
// Rows written by the reconstructor carry an outcome and are consistent by
// construction: a reinforced neutral tile has a garrison and no faction. The
// faction check only applies to tile state that arrived without an outcome.
const resolvedPredicate = `tile_garrison IS NOT NULL
	AND ((outcome IS NOT NULL AND outcome <> '')
		OR NOT (tile_garrison <> 0 AND (tile_faction IS NULL OR tile_faction = '')))`

const clearTileStateSet = `tile_player = NULL, tile_faction = NULL, tile_garrison = NULL,
	prev_faction = NULL, prev_garrison = NULL, outcome = NULL, captured = false`

// TileResolution is the reconstructed state written back onto a record.
type TileResolution struct {
	Player       string
	Faction      models.Faction
	Garrison     int64
	PrevFaction  models.Faction
	PrevGarrison int64
	Outcome      models.Outcome
	Captured     bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorldUpdate(s rowScanner) (*models.WorldUpdateRecord, error) {
	var (
		r            models.WorldUpdateRecord
		typ, faction string
		sourceRawID  string
		tilePlayer   sql.NullString
		tileFaction  sql.NullString
		tileGarrison sql.NullInt64
		prevFaction  sql.NullString
		prevGarrison sql.NullInt64
		outcome      sql.NullString
		resErr       sql.NullString
	)
	if err := s.Scan(&r.ActivityID, &r.GameID, &typ, &r.PlayerID, &r.PlayerName, &faction,
		&r.X, &r.Y, &r.Amount, &r.Timestamp,
		&sourceRawID, &r.SourceAt, &r.UpdatedAt,
		&tilePlayer, &tileFaction, &tileGarrison, &prevFaction, &prevGarrison, &outcome, &r.Captured, &resErr); err != nil {
		return nil, err
	}

	r.Type = models.ActivityType(typ)
	r.Faction = models.Faction(faction)
	id, err := uuid.Parse(sourceRawID)
	if err != nil {
		return nil, fmt.Errorf("parse source raw id %q: %w", sourceRawID, err)
	}
	r.SourceRawID = id

	if tilePlayer.Valid {
		r.TilePlayer = &tilePlayer.String
	}
	if tileFaction.Valid {
		f := models.Faction(tileFaction.String)
		r.TileFaction = &f
	}
	if tileGarrison.Valid {
		r.TileGarrison = &tileGarrison.Int64
	}
	if prevFaction.Valid {
		f := models.Faction(prevFaction.String)
		r.PrevFaction = &f
	}
	if prevGarrison.Valid {
		r.PrevGarrison = &prevGarrison.Int64
	}
	r.Outcome = models.Outcome(outcome.String)
	r.ResolutionError = resErr.String
	return &r, nil
}

func (db *DB) queryWorldUpdates(ctx context.Context, query string, args ...any) ([]*models.WorldUpdateRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query world updates: %w", err)
	}
	defer closeWithLog(rows, "world update rows")

	var out []*models.WorldUpdateRecord
	for rows.Next() {
		r, err := scanWorldUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan world update: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate world updates: %w", err)
	}
	return out, nil
}

// GetWorldUpdates loads the records with the given activity IDs, keyed by ID.
func (db *DB) GetWorldUpdates(ctx context.Context, activityIDs []string) (map[string]*models.WorldUpdateRecord, error) {
	out := make(map[string]*models.WorldUpdateRecord, len(activityIDs))
	if len(activityIDs) == 0 {
		return out, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := make([]string, len(activityIDs))
	args := make([]any, len(activityIDs))
	for i, id := range activityIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	recs, err := db.queryWorldUpdates(ctx,
		`SELECT `+worldUpdateColumns+` FROM world_updates WHERE activity_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out[r.ActivityID] = r
	}
	return out, nil
}

// UpsertWorldUpdate writes the canonical fields of rec keyed by activity ID
// and clears any reconstructed tile state, then attaches contributions that
// are not yet stored. It returns the number of contributions added.
//
// When the update moves an existing record to another tile or timestamp,
// the records that followed it at its old position are cleared as well,
// since their state was derived from the old version.
func (db *DB) UpsertWorldUpdate(ctx context.Context, rec *models.WorldUpdateRecord) (added int, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert %s: %w", rec.ActivityID, err)
	}
	defer rollbackUnlessCommitted(tx, &err)

	var (
		oldX, oldY int
		oldTS      int64
		existed    = true
	)
	err = tx.QueryRowContext(ctx, `SELECT x, y, ts FROM world_updates WHERE activity_id = ?`, rec.ActivityID).
		Scan(&oldX, &oldY, &oldTS)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existed, err = false, nil
	case err != nil:
		return 0, fmt.Errorf("load world update %s: %w", rec.ActivityID, err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO world_updates
		(activity_id, game_id, type, player_id, player_name, faction, x, y, amount, ts,
		 source_raw_id, source_received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (activity_id) DO UPDATE SET
			game_id = EXCLUDED.game_id,
			type = EXCLUDED.type,
			player_id = EXCLUDED.player_id,
			player_name = EXCLUDED.player_name,
			faction = EXCLUDED.faction,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			amount = EXCLUDED.amount,
			ts = EXCLUDED.ts,
			source_raw_id = EXCLUDED.source_raw_id,
			source_received_at = EXCLUDED.source_received_at,
			updated_at = EXCLUDED.updated_at,
			tile_player = NULL,
			tile_faction = NULL,
			tile_garrison = NULL,
			prev_faction = NULL,
			prev_garrison = NULL,
			outcome = NULL,
			captured = false,
			resolution_error = NULL`,
		rec.ActivityID, rec.GameID, string(rec.Type), rec.PlayerID, rec.PlayerName, string(rec.Faction),
		rec.X, rec.Y, rec.Amount, rec.Timestamp,
		rec.SourceRawID.String(), rec.SourceAt.UTC(), db.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("upsert world update %s: %w", rec.ActivityID, err)
	}

	if existed && (oldX != rec.X || oldY != rec.Y || oldTS != rec.Timestamp) {
		_, err = tx.ExecContext(ctx, `UPDATE world_updates SET `+clearTileStateSet+`
			WHERE game_id = ? AND x = ? AND y = ? AND ts > ? AND tile_garrison IS NOT NULL`,
			rec.GameID, oldX, oldY, oldTS)
		if err != nil {
			return 0, fmt.Errorf("clear successors of moved %s: %w", rec.ActivityID, err)
		}
	}

	added, err = insertContributions(ctx, tx, rec.ActivityID, rec.Contributions)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert %s: %w", rec.ActivityID, err)
	}
	return added, nil
}

// AppendContributions attaches contributions to an existing record,
// skipping any already stored for the same source raw event.
func (db *DB) AppendContributions(ctx context.Context, activityID string, contribs []models.Contribution) (added int, err error) {
	if len(contribs) == 0 {
		return 0, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin contributions %s: %w", activityID, err)
	}
	defer rollbackUnlessCommitted(tx, &err)

	added, err = insertContributions(ctx, tx, activityID, contribs)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit contributions %s: %w", activityID, err)
	}
	return added, nil
}

func insertContributions(ctx context.Context, tx *sql.Tx, activityID string, contribs []models.Contribution) (int, error) {
	added := 0
	for _, c := range contribs {
		var extra any
		if len(c.Extra) > 0 {
			extra = string(c.Extra)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO contributions (activity_id, source_raw_id, amount, ts, extra)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			activityID, c.SourceRawID.String(), c.Amount, c.Timestamp, extra)
		if err != nil {
			return 0, fmt.Errorf("insert contribution %s/%s: %w", activityID, c.SourceRawID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// GetContributions returns the contributions of a record ordered by time.
func (db *DB) GetContributions(ctx context.Context, activityID string) ([]models.Contribution, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT source_raw_id, amount, ts, extra FROM contributions
		WHERE activity_id = ? ORDER BY ts, source_raw_id`, activityID)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer closeWithLog(rows, "contribution rows")

	var out []models.Contribution
	for rows.Next() {
		var (
			c     models.Contribution
			rawID string
			extra sql.NullString
		)
		if err := rows.Scan(&rawID, &c.Amount, &c.Timestamp, &extra); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		if c.SourceRawID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse contribution raw id %q: %w", rawID, err)
		}
		if extra.Valid {
			c.Extra = []byte(extra.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindLatestResolvedForTile returns every resolved combat record on the
// tile sharing the greatest timestamp strictly below before. More than one
// result means the predecessor is ambiguous.
func (db *DB) FindLatestResolvedForTile(ctx context.Context, tile models.TileKey, before int64) ([]*models.WorldUpdateRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.queryWorldUpdates(ctx, `SELECT `+worldUpdateColumns+` FROM world_updates
		WHERE game_id = ? AND x = ? AND y = ? AND type IN ('ATTACK', 'DEFEND') AND `+resolvedPredicate+`
		AND ts = (
			SELECT MAX(ts) FROM world_updates
			WHERE game_id = ? AND x = ? AND y = ? AND type IN ('ATTACK', 'DEFEND') AND ts < ? AND `+resolvedPredicate+`
		)
		ORDER BY activity_id`,
		tile.GameID, tile.X, tile.Y, tile.GameID, tile.X, tile.Y, before)
}

// FindRecordsNeedingResolution returns combat records of the game whose
// tile state is missing or inconsistent, in ascending updated_at order.
func (db *DB) FindRecordsNeedingResolution(ctx context.Context, gameID int64) ([]*models.WorldUpdateRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.queryWorldUpdates(ctx, `SELECT `+worldUpdateColumns+` FROM world_updates
		WHERE game_id = ? AND type IN ('ATTACK', 'DEFEND') AND NOT (`+resolvedPredicate+`)
		ORDER BY updated_at, ts, activity_id`, gameID)
}

// FindTileRecordsNeedingResolution is FindRecordsNeedingResolution limited
// to one tile and ordered by timestamp.
func (db *DB) FindTileRecordsNeedingResolution(ctx context.Context, tile models.TileKey) ([]*models.WorldUpdateRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.queryWorldUpdates(ctx, `SELECT `+worldUpdateColumns+` FROM world_updates
		WHERE game_id = ? AND x = ? AND y = ? AND type IN ('ATTACK', 'DEFEND') AND NOT (`+resolvedPredicate+`)
		ORDER BY ts, activity_id`, tile.GameID, tile.X, tile.Y)
}

// ClearTileStateAfter drops the reconstructed state of resolved records on
// the tile with a timestamp above after, so a late-arriving earlier record
// is replayed in order. It returns the number of records cleared.
func (db *DB) ClearTileStateAfter(ctx context.Context, tile models.TileKey, after int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `UPDATE world_updates SET `+clearTileStateSet+`
		WHERE game_id = ? AND x = ? AND y = ? AND ts > ? AND tile_garrison IS NOT NULL`,
		tile.GameID, tile.X, tile.Y, after)
	if err != nil {
		return 0, fmt.Errorf("clear tile state %s: %w", tile, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateTileState back-fills the reconstructed tile state of one record.
func (db *DB) UpdateTileState(ctx context.Context, activityID string, s TileResolution) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var faction any
	if s.Faction != models.FactionNone {
		faction = string(s.Faction)
	}
	var prevFaction any
	if s.PrevFaction != models.FactionNone {
		prevFaction = string(s.PrevFaction)
	}

	res, err := db.conn.ExecContext(ctx, `UPDATE world_updates SET
			tile_player = ?, tile_faction = ?, tile_garrison = ?,
			prev_faction = ?, prev_garrison = ?, outcome = ?, captured = ?, resolution_error = NULL
		WHERE activity_id = ?`,
		s.Player, faction, s.Garrison, prevFaction, s.PrevGarrison, string(s.Outcome), s.Captured, activityID)
	if err != nil {
		return fmt.Errorf("update tile state %s: %w", activityID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update tile state %s: %w", activityID, ErrNotFound)
	}
	return nil
}

// MarkUnresolvable records why a record could not be resolved. The tile
// state stays empty so a later pass retries it.
func (db *DB) MarkUnresolvable(ctx context.Context, activityID, reason string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, `UPDATE world_updates SET resolution_error = ? WHERE activity_id = ?`, reason, activityID); err != nil {
		return fmt.Errorf("mark unresolvable %s: %w", activityID, err)
	}
	return nil
}

// FindWorldUpdates returns the records matching f ordered by timestamp.
func (db *DB) FindWorldUpdates(ctx context.Context, f models.Filter) ([]*models.WorldUpdateRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if f.GameID != 0 {
		where = append(where, "game_id = ?")
		args = append(args, f.GameID)
	}
	if f.Player != "" {
		where = append(where, "(player_name = ? OR player_id = ?)")
		args = append(args, f.Player, f.Player)
	}
	if f.Faction != models.FactionNone {
		where = append(where, "faction = ?")
		args = append(args, string(f.Faction))
	}
	if f.FromMillis != 0 {
		where = append(where, "ts >= ?")
		args = append(args, f.FromMillis)
	}
	if f.ToMillis != 0 {
		where = append(where, "ts <= ?")
		args = append(args, f.ToMillis)
	}

	query := `SELECT ` + worldUpdateColumns + ` FROM world_updates`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts, activity_id`

	return db.queryWorldUpdates(ctx, query, args...)
}

// FindUnresolvable returns records of the game the reconstructor refused
// to resolve, for manual inspection.
func (db *DB) FindUnresolvable(ctx context.Context, gameID int64) ([]*models.WorldUpdateRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.queryWorldUpdates(ctx, `SELECT `+worldUpdateColumns+` FROM world_updates
		WHERE game_id = ? AND resolution_error IS NOT NULL ORDER BY ts, activity_id`, gameID)
}

// DeleteWorldUpdates removes every record and contribution of the game.
func (db *DB) DeleteWorldUpdates(ctx context.Context, gameID int64) (deleted int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete world updates: %w", err)
	}
	defer rollbackUnlessCommitted(tx, &err)

	if _, err = tx.ExecContext(ctx, `DELETE FROM contributions WHERE activity_id IN
		(SELECT activity_id FROM world_updates WHERE game_id = ?)`, gameID); err != nil {
		return 0, fmt.Errorf("delete contributions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM world_updates WHERE game_id = ?`, gameID)
	if err != nil {
		return 0, fmt.Errorf("delete world updates: %w", err)
	}
	deleted, _ = res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete world updates: %w", err)
	}
	return deleted, nil
}
