// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package reports

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/frontline/internal/models"
)

func ptr[T any](v T) *T { return &v }

func rec(id, player string, faction models.Faction, typ models.ActivityType, x, y int, amount, ts int64) *models.WorldUpdateRecord {
	return &models.WorldUpdateRecord{
		ActivityID: id,
		GameID:     5,
		Type:       typ,
		PlayerName: player,
		Faction:    faction,
		X:          x,
		Y:          y,
		Amount:     amount,
		Timestamp:  ts,
	}
}

func withPrev(r *models.WorldUpdateRecord, f models.Faction, garrison int64) *models.WorldUpdateRecord {
	r.PrevFaction = ptr(f)
	r.PrevGarrison = ptr(garrison)
	return r
}

func TestFactionTransferMatrix(t *testing.T) {
	records := []*models.WorldUpdateRecord{
		// capture: 10 self-reinforcement, 2 transfer
		withPrev(rec("a", "alice", models.FactionRed, models.ActivityAttack, 1, 1, 12, 1), models.FactionBlue, 10),
		// repel: whole amount is a transfer
		withPrev(rec("b", "alice", models.FactionRed, models.ActivityAttack, 2, 2, 4, 2), models.FactionBlue, 10),
		// no previous faction: counted against own faction
		rec("c", "carol", models.FactionGreen, models.ActivityDefend, 3, 3, 5, 3),
		// build is not combat
		rec("d", "carol", models.FactionGreen, models.ActivityBuild, 3, 3, 100, 4),
	}

	m := FactionTransferMatrix(records, models.Filter{})

	tests := []struct {
		from, to models.Faction
		want     int64
	}{
		{models.FactionRed, models.FactionRed, 10},
		{models.FactionRed, models.FactionBlue, 6},
		{models.FactionGreen, models.FactionGreen, 5},
	}
	for _, tt := range tests {
		if got := m[tt.from][tt.to]; got != tt.want {
			t.Errorf("matrix[%s][%s] = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}

	filtered := FactionTransferMatrix(records, models.Filter{Player: "carol"})
	if len(filtered) != 1 || filtered[models.FactionGreen][models.FactionGreen] != 5 {
		t.Errorf("filtered matrix = %v", filtered)
	}
}

func TestTileHeatmap(t *testing.T) {
	records := []*models.WorldUpdateRecord{
		rec("a", "alice", models.FactionRed, models.ActivityAttack, 1, 1, 3, 100),
		rec("b", "bob", models.FactionBlue, models.ActivityDefend, 1, 1, 4, 200),
		rec("c", "bob", models.FactionBlue, models.ActivityDefend, 2, 5, 1, 300),
		rec("d", "bob", models.FactionBlue, models.ActivityBuild, 2, 5, 50, 300),
	}
	h := TileHeatmap(records, models.Filter{})
	if h[1][1] != 7 || h[2][5] != 1 {
		t.Errorf("heatmap = %v", h)
	}

	windowed := TileHeatmap(records, models.Filter{FromMillis: 150, ToMillis: 250})
	if windowed[1][1] != 4 || len(windowed) != 1 {
		t.Errorf("windowed heatmap = %v", windowed)
	}
}

func TestPlayerMvpLeaderboard(t *testing.T) {
	// soldiers outweigh workers only under the 2.0 multiplier
	entries := []models.LeaderboardEntry{
		{Name: "alice", Faction: models.FactionRed, SentSoldiers: 0, SentWorkers: 37},
		{Name: "bob", Faction: models.FactionBlue, SentSoldiers: 20, SentWorkers: 0},
	}

	tests := []struct {
		gameID    int64
		wantFirst string
		wantMult  float64
	}{
		{22, "bob", 2.0},
		{23, "alice", 1.8},
	}
	for _, tt := range tests {
		if got := MvpMultiplier(tt.gameID); got != tt.wantMult {
			t.Errorf("MvpMultiplier(%d) = %v, want %v", tt.gameID, got, tt.wantMult)
		}
		board := PlayerMvpLeaderboard(tt.gameID, entries)
		if len(board) != 2 || board[0].Name != tt.wantFirst {
			t.Errorf("game %d board = %+v, want %s first", tt.gameID, board, tt.wantFirst)
		}
		for _, e := range board {
			if e.Name == "alice" && e.Score != 37 {
				t.Errorf("game %d alice score = %v, want 37", tt.gameID, e.Score)
			}
		}
	}
}

func TestApmLeaderboard(t *testing.T) {
	var records []*models.WorldUpdateRecord
	for i, ts := range []int64{0, 1000, 2000, 61000} {
		records = append(records, rec(string(rune('a'+i)), "alice", models.FactionRed, models.ActivityAttack, i, 0, 1, ts))
	}
	records = append(records, rec("z", "bob", models.FactionBlue, models.ActivityBuild, 0, 0, 1, 5))

	board := ApmLeaderboard(records, 60000, false)
	if len(board) != 2 || board[0].Player != "alice" || board[0].Count != 3 || board[1].Count != 1 {
		t.Errorf("board = %+v", board)
	}

	b, err := json.Marshal(board)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `[["alice",3],["bob",1]]` {
		t.Errorf("json = %s", b)
	}
}

func TestApmLeaderboard_WindowBoundary(t *testing.T) {
	records := []*models.WorldUpdateRecord{
		rec("a", "alice", models.FactionRed, models.ActivityAttack, 0, 0, 1, 0),
		rec("b", "alice", models.FactionRed, models.ActivityAttack, 1, 0, 1, 60000),
	}
	if got := ApmLeaderboard(records, 60000, false)[0].Count; got != 1 {
		t.Errorf("actions exactly one window apart counted together: %d", got)
	}
}

func TestApmLeaderboard_UniqueOnly(t *testing.T) {
	records := []*models.WorldUpdateRecord{
		rec("a", "alice", models.FactionRed, models.ActivityAttack, 1, 1, 1, 0),
		rec("b", "alice", models.FactionRed, models.ActivityAttack, 1, 1, 1, 10),
		rec("c", "alice", models.FactionRed, models.ActivityAttack, 2, 1, 1, 20),
		rec("d", "alice", models.FactionRed, models.ActivityAttack, 1, 1, 1, 30),
	}
	if got := ApmLeaderboard(records, 60000, true)[0].Count; got != 3 {
		t.Errorf("unique count = %d, want 3", got)
	}
	if got := ApmLeaderboard(records, 60000, false)[0].Count; got != 4 {
		t.Errorf("count = %d, want 4", got)
	}
}

func capture(id, player string, x int, ts int64) *models.WorldUpdateRecord {
	r := rec(id, player, models.FactionRed, models.ActivityAttack, x, 0, 1, ts)
	r.Captured = true
	return r
}

func TestTileControlLeaderboard_PeakNotFinal(t *testing.T) {
	var records []*models.WorldUpdateRecord
	for x := 0; x < 5; x++ {
		records = append(records, capture("a"+string(rune('0'+x)), "alice", x, int64(x)))
	}
	for x := 0; x < 3; x++ {
		records = append(records, capture("b"+string(rune('0'+x)), "bob", x, int64(100+x)))
	}
	// a non-capture record is ignored
	records = append(records, rec("n", "carol", models.FactionGreen, models.ActivityDefend, 9, 9, 1, 200))

	board := TileControlLeaderboard(records)
	if len(board) != 2 {
		t.Fatalf("board = %+v", board)
	}
	if board[0].Player != "alice" || board[0].Peak != 5 || board[0].Percentage != "100.0%" {
		t.Errorf("alice = %+v", board[0])
	}
	if board[1].Player != "bob" || board[1].Peak != 3 || board[1].Percentage != "60.0%" {
		t.Errorf("bob = %+v", board[1])
	}

	b, _ := json.Marshal(board[1])
	if string(b) != `["bob",3,"60.0%"]` {
		t.Errorf("json = %s", b)
	}
}

func TestReports_EmptyInput(t *testing.T) {
	if m := FactionTransferMatrix(nil, models.Filter{}); m == nil || len(m) != 0 {
		t.Errorf("matrix = %v", m)
	}
	if h := TileHeatmap(nil, models.Filter{}); h == nil || len(h) != 0 {
		t.Errorf("heatmap = %v", h)
	}
	if b := PlayerMvpLeaderboard(1, nil); b == nil || len(b) != 0 {
		t.Errorf("mvp = %v", b)
	}
	if b := ApmLeaderboard(nil, 0, true); b == nil || len(b) != 0 {
		t.Errorf("apm = %v", b)
	}
	if b := TileControlLeaderboard(nil); b == nil || len(b) != 0 {
		t.Errorf("tile control = %v", b)
	}
}
