// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package database

// schemaQueries returns the idempotent DDL run on every open.
//
// No secondary ART indexes: rows are updated in place and DuckDB zonemaps
// cover the (game_id, x, y, ts) scans.
func schemaQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS raw_events (
			id VARCHAR PRIMARY KEY,
			source_type VARCHAR NOT NULL,
			game_id BIGINT NOT NULL,
			payload VARCHAR NOT NULL,
			received_at TIMESTAMP NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS world_updates (
			activity_id VARCHAR PRIMARY KEY,
			game_id BIGINT NOT NULL,
			type VARCHAR NOT NULL,
			player_id VARCHAR NOT NULL,
			player_name VARCHAR NOT NULL,
			faction VARCHAR NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			amount BIGINT NOT NULL,
			ts BIGINT NOT NULL,
			source_raw_id VARCHAR NOT NULL,
			source_received_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			tile_player VARCHAR,
			tile_faction VARCHAR,
			tile_garrison BIGINT,
			prev_faction VARCHAR,
			prev_garrison BIGINT,
			outcome VARCHAR,
			captured BOOLEAN NOT NULL DEFAULT false,
			resolution_error VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			activity_id VARCHAR NOT NULL,
			source_raw_id VARCHAR NOT NULL,
			amount BIGINT NOT NULL,
			ts BIGINT NOT NULL,
			extra VARCHAR,
			PRIMARY KEY (activity_id, source_raw_id)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR PRIMARY KEY,
			value VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS report_cache (
			scope VARCHAR NOT NULL,
			report_type VARCHAR NOT NULL,
			params_key VARCHAR NOT NULL,
			data BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			revalidate_at TIMESTAMP,
			PRIMARY KEY (scope, report_type, params_key)
		)`,
	}
}
