// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Report type names. They double as cache report types and API path segments.
const (
	ReportFactionTransfers = "faction-transfers"
	ReportHeatmap          = "heatmap"
	ReportMVP              = "mvp"
	ReportAPM              = "apm"
	ReportTileControl      = "tile-control"
)

// ReportTypes lists every report type.
var ReportTypes = []string{
	ReportFactionTransfers,
	ReportHeatmap,
	ReportMVP,
	ReportAPM,
	ReportTileControl,
}

// Filter narrows the records a report is computed over. Zero fields match
// everything.
type Filter struct {
	GameID     int64   `json:"game_id,omitempty"`
	Player     string  `json:"player,omitempty"`
	Faction    Faction `json:"faction,omitempty"`
	FromMillis int64   `json:"from,omitempty"`
	ToMillis   int64   `json:"to,omitempty"`
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r *WorldUpdateRecord) bool {
	if f.GameID != 0 && r.GameID != f.GameID {
		return false
	}
	if f.Player != "" && r.PlayerName != f.Player && r.PlayerID != f.Player {
		return false
	}
	if f.Faction != FactionNone && r.Faction != f.Faction {
		return false
	}
	if f.FromMillis != 0 && r.Timestamp < f.FromMillis {
		return false
	}
	if f.ToMillis != 0 && r.Timestamp > f.ToMillis {
		return false
	}
	return true
}

// FactionMatrix maps attacker faction to defender faction to soldiers sent.
type FactionMatrix map[Faction]map[Faction]int64

// Add accumulates amount into matrix[from][to].
func (m FactionMatrix) Add(from, to Faction, amount int64) {
	row, ok := m[from]
	if !ok {
		row = make(map[Faction]int64)
		m[from] = row
	}
	row[to] += amount
}

// Heatmap maps x to y to accumulated combat amount.
type Heatmap map[int]map[int]int64

// Add accumulates amount into heat[x][y].
func (h Heatmap) Add(x, y int, amount int64) {
	col, ok := h[x]
	if !ok {
		col = make(map[int]int64)
		h[x] = col
	}
	col[y] += amount
}

// LeaderboardEntry is the per-player stats row returned by the game API.
type LeaderboardEntry struct {
	Name         string  `json:"name"`
	Faction      Faction `json:"faction"`
	SentSoldiers int64   `json:"sentSoldiers"`
	SentWorkers  int64   `json:"sentWorkers"`
}

// MvpEntry is one row of the MVP leaderboard.
type MvpEntry struct {
	Name    string  `json:"name"`
	Faction Faction `json:"faction"`
	Score   float64 `json:"score"`
}

// ApmEntry is one row of the APM leaderboard, encoded as [player, count].
type ApmEntry struct {
	Player string
	Count  int
}

// MarshalJSON encodes the entry as a two-element array.
func (e ApmEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Player, e.Count})
}

// TileControlEntry is one row of the tile control leaderboard, encoded as
// [player, peak, "NN.N%"].
type TileControlEntry struct {
	Player     string
	Peak       int
	Percentage string
}

// MarshalJSON encodes the entry as a three-element array.
func (e TileControlEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Player, e.Peak, e.Percentage})
}

// CacheEntry is one memoized report.
//
// A nil RevalidateAt never expires.
type CacheEntry struct {
	Scope        string     `json:"scope"`
	ReportType   string     `json:"report_type"`
	ParamsKey    string     `json:"params_key"`
	Data         []byte     `json:"data"`
	CreatedAt    time.Time  `json:"created_at"`
	RevalidateAt *time.Time `json:"revalidate_at,omitempty"`
}

// FreshAt reports whether the entry may be served at now.
func (e *CacheEntry) FreshAt(now time.Time) bool {
	return e.RevalidateAt == nil || e.RevalidateAt.After(now)
}
