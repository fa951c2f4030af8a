// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package reports computes aggregate reports over reconstructed world
// update records. Every function is pure: the same input always yields the
// same output, and empty input yields an empty, non-nil result.
package reports

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/tomtom215/frontline/internal/models"
)

// DefaultAPMWindowMillis is the APM window used when none is given.
const DefaultAPMWindowMillis int64 = 60_000

// mvpPatchGameID is the last game played before the soldier weight
// changed from 2.0 to 1.8.
const mvpPatchGameID = 22

// FactionTransferMatrix sums soldiers sent by attacker faction against
// defender faction. The defender is the tile's faction before the action,
// or the attacker's own faction when the tile had none. When a cross
// faction action met or beat the pre-action garrison, the part equal to
// that garrison counts against the attacker's own faction and only the
// remainder counts as the transfer.
func FactionTransferMatrix(records []*models.WorldUpdateRecord, f models.Filter) models.FactionMatrix {
	m := make(models.FactionMatrix)
	for _, r := range records {
		if !r.Type.IsCombat() || r.Faction == models.FactionNone || !f.Matches(r) {
			continue
		}
		attacker := r.Faction
		defender := attacker
		if r.PrevFaction != nil && *r.PrevFaction != models.FactionNone {
			defender = *r.PrevFaction
		}
		var before int64
		if r.PrevGarrison != nil {
			before = *r.PrevGarrison
		}

		if attacker != defender && r.Amount >= before {
			m.Add(attacker, attacker, before)
			m.Add(attacker, defender, r.Amount-before)
			continue
		}
		m.Add(attacker, defender, r.Amount)
	}
	return m
}

// TileHeatmap sums combat amounts per tile.
func TileHeatmap(records []*models.WorldUpdateRecord, f models.Filter) models.Heatmap {
	h := make(models.Heatmap)
	for _, r := range records {
		if !r.Type.IsCombat() || !f.Matches(r) {
			continue
		}
		h.Add(r.X, r.Y, r.Amount)
	}
	return h
}

// MvpMultiplier returns the soldier weight for gameID.
func MvpMultiplier(gameID int64) float64 {
	if gameID <= mvpPatchGameID {
		return 2.0
	}
	return 1.8
}

// PlayerMvpLeaderboard scores leaderboard entries as soldiers times the
// game's multiplier plus workers, highest first.
func PlayerMvpLeaderboard(gameID int64, entries []models.LeaderboardEntry) []models.MvpEntry {
	mult := MvpMultiplier(gameID)
	out := make([]models.MvpEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.MvpEntry{
			Name:    e.Name,
			Faction: e.Faction,
			Score:   float64(e.SentSoldiers)*mult + float64(e.SentWorkers),
		})
	}
	slices.SortStableFunc(out, func(a, b models.MvpEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// ApmLeaderboard ranks players by the most actions they fit inside any
// window of windowMillis. Two timestamps share a window when their
// difference is below windowMillis. With uniqueOnly, consecutive actions
// on the same tile count once.
func ApmLeaderboard(records []*models.WorldUpdateRecord, windowMillis int64, uniqueOnly bool) []models.ApmEntry {
	if windowMillis <= 0 {
		windowMillis = DefaultAPMWindowMillis
	}

	byPlayer := make(map[string][]*models.WorldUpdateRecord)
	for _, r := range records {
		p := playerName(r)
		byPlayer[p] = append(byPlayer[p], r)
	}

	out := make([]models.ApmEntry, 0, len(byPlayer))
	for player, acts := range byPlayer {
		slices.SortStableFunc(acts, byTime)

		times := make([]int64, 0, len(acts))
		for i, a := range acts {
			if uniqueOnly && i > 0 && acts[i-1].X == a.X && acts[i-1].Y == a.Y {
				continue
			}
			times = append(times, a.Timestamp)
		}
		out = append(out, models.ApmEntry{Player: player, Count: maxInWindow(times, windowMillis)})
	}

	slices.SortFunc(out, func(a, b models.ApmEntry) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Player, b.Player)
	})
	return out
}

// maxInWindow is a two-pointer scan over sorted timestamps.
func maxInWindow(times []int64, window int64) int {
	best, i := 0, 0
	for j := range times {
		for times[j]-times[i] >= window {
			i++
		}
		best = max(best, j-i+1)
	}
	return best
}

// TileControlLeaderboard replays captures in time order and ranks players
// by the most tiles they held at once. The percentage is that peak over
// the distinct tiles ever captured.
func TileControlLeaderboard(records []*models.WorldUpdateRecord) []models.TileControlEntry {
	captures := make([]*models.WorldUpdateRecord, 0, len(records))
	for _, r := range records {
		if r.Captured {
			captures = append(captures, r)
		}
	}
	slices.SortStableFunc(captures, byTime)

	holder := make(map[models.TileKey]string)
	held := make(map[string]int)
	peak := make(map[string]int)

	for _, r := range captures {
		tile := r.Tile()
		p := playerName(r)
		if prev, ok := holder[tile]; ok {
			if prev == p {
				continue
			}
			held[prev]--
		}
		holder[tile] = p
		held[p]++
		peak[p] = max(peak[p], held[p])
	}

	distinct := len(holder)
	out := make([]models.TileControlEntry, 0, len(peak))
	for p, n := range peak {
		out = append(out, models.TileControlEntry{
			Player:     p,
			Peak:       n,
			Percentage: fmt.Sprintf("%.1f%%", float64(n)/float64(distinct)*100),
		})
	}
	slices.SortFunc(out, func(a, b models.TileControlEntry) int {
		if c := cmp.Compare(b.Peak, a.Peak); c != 0 {
			return c
		}
		return cmp.Compare(a.Player, b.Player)
	})
	return out
}

func playerName(r *models.WorldUpdateRecord) string {
	if r.PlayerName != "" {
		return r.PlayerName
	}
	return r.PlayerID
}

func byTime(a, b *models.WorldUpdateRecord) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ActivityID, b.ActivityID)
}
