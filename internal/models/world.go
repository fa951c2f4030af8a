// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package models defines the data structures shared by the Frontline
// pipeline: raw feed events, canonical activities, reconstructed world
// update records and report shapes.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Faction is the closed set of playable factions. FactionNone marks a
// neutralized tile.
type Faction string

const (
	FactionNone   Faction = ""
	FactionRed    Faction = "RED"
	FactionBlue   Faction = "BLUE"
	FactionGreen  Faction = "GREEN"
	FactionYellow Faction = "YELLOW"
)

// Factions lists every playable faction in display order.
var Factions = []Faction{FactionRed, FactionBlue, FactionGreen, FactionYellow}

// Valid reports whether f is a playable faction.
func (f Faction) Valid() bool {
	switch f {
	case FactionRed, FactionBlue, FactionGreen, FactionYellow:
		return true
	}
	return false
}

// ParseFaction normalizes s to a Faction. Empty input yields FactionNone.
func ParseFaction(s string) (Faction, error) {
	f := Faction(strings.ToUpper(strings.TrimSpace(s)))
	if f == FactionNone || f.Valid() {
		return f, nil
	}
	return FactionNone, fmt.Errorf("unknown faction %q", s)
}

// ActivityType is the kind of player action.
type ActivityType string

const (
	ActivityAttack ActivityType = "ATTACK"
	ActivityDefend ActivityType = "DEFEND"
	ActivityBuild  ActivityType = "BUILD"
)

// IsCombat reports whether the activity changes tile garrison.
func (t ActivityType) IsCombat() bool {
	return t == ActivityAttack || t == ActivityDefend
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	return t.IsCombat() || t == ActivityBuild
}

// Outcome is the result of applying one combat record to a tile.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeReinforce  Outcome = "REINFORCE"
	OutcomeCapture    Outcome = "CAPTURE"
	OutcomeNeutralize Outcome = "NEUTRALIZE"
	OutcomeRepel      Outcome = "REPEL"
)

// Source types with special handling. Any other string is a live feed
// message type.
const (
	SourceInitialActivities = "INITIAL_ACTIVITIES"
	SourceCaseScrape        = "CASE_SCRAPE"
)

// rawEventNamespace seeds deterministic raw event IDs.
var rawEventNamespace = uuid.MustParse("6f1c2a9e-5b7d-4e0f-9a31-2c8d7e4b1f60")

// RawEvent is one payload as received from the feed or the scraper.
type RawEvent struct {
	ID         uuid.UUID `json:"id"`
	SourceType string    `json:"source_type"`
	GameID     int64     `json:"game_id"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	Resolved   bool      `json:"resolved"`
}

// NewRawEvent builds a RawEvent whose ID is derived from the source type
// and payload bytes, so redelivered messages collide on insert.
func NewRawEvent(sourceType string, payload []byte, receivedAt time.Time) RawEvent {
	name := make([]byte, 0, len(sourceType)+1+len(payload))
	name = append(name, sourceType...)
	name = append(name, 0)
	name = append(name, payload...)

	return RawEvent{
		ID:         uuid.NewSHA1(rawEventNamespace, name),
		SourceType: sourceType,
		GameID:     probeGameID(payload),
		Payload:    payload,
		ReceivedAt: receivedAt,
	}
}

func probeGameID(payload []byte) int64 {
	var probe struct {
		GameID int64 `json:"gameId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0
	}
	return probe.GameID
}

// Player identifies the acting player of an activity.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActivityPayload is one activity fragment inside a raw payload.
type ActivityPayload struct {
	ID        string          `json:"id"`
	Type      ActivityType    `json:"type"`
	Player    Player          `json:"player"`
	Faction   Faction         `json:"faction"`
	X         int             `json:"x"`
	Y         int             `json:"y"`
	Amount    int64           `json:"amount"`
	Timestamp int64           `json:"timestamp"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

// FeedPayload is the JSON body shared by feed messages and scraper responses.
type FeedPayload struct {
	Type       string            `json:"type,omitempty"`
	GameID     int64             `json:"gameId"`
	Activities []ActivityPayload `json:"activities"`
}

// ParseFeedPayload decodes a raw payload.
func ParseFeedPayload(b []byte) (FeedPayload, error) {
	var p FeedPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return FeedPayload{}, fmt.Errorf("decode feed payload: %w", err)
	}
	return p, nil
}

// Contribution is the delta carried by one raw fragment of an activity.
type Contribution struct {
	SourceRawID uuid.UUID       `json:"source_raw_id"`
	Amount      int64           `json:"amount"`
	Timestamp   int64           `json:"timestamp"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// Activity is the canonical merge of every fragment sharing one activity ID.
type Activity struct {
	ActivityID    string         `json:"activity_id"`
	GameID        int64          `json:"game_id"`
	Type          ActivityType   `json:"type"`
	Player        Player         `json:"player"`
	Faction       Faction        `json:"faction"`
	X             int            `json:"x"`
	Y             int            `json:"y"`
	Amount        int64          `json:"amount"`
	Timestamp     int64          `json:"timestamp"`
	SourceRawID   uuid.UUID      `json:"source_raw_id"`
	SourceAt      time.Time      `json:"source_received_at"`
	Contributions []Contribution `json:"contributions"`
}

// WorldUpdateRecord is the persisted form of an Activity plus the
// reconstructed tile state after it was applied.
//
// The tile_* and prev_* fields stay nil until the reconstructor resolves
// the record.
type WorldUpdateRecord struct {
	ActivityID  string       `json:"activity_id"`
	GameID      int64        `json:"game_id"`
	Type        ActivityType `json:"type"`
	PlayerID    string       `json:"player_id"`
	PlayerName  string       `json:"player_name"`
	Faction     Faction      `json:"faction"`
	X           int          `json:"x"`
	Y           int          `json:"y"`
	Amount      int64        `json:"amount"`
	Timestamp   int64        `json:"timestamp"`
	SourceRawID uuid.UUID    `json:"source_raw_id"`
	SourceAt    time.Time    `json:"source_received_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	TilePlayer   *string  `json:"tile_player,omitempty"`
	TileFaction  *Faction `json:"tile_faction,omitempty"`
	TileGarrison *int64   `json:"tile_garrison,omitempty"`
	PrevFaction  *Faction `json:"prev_faction,omitempty"`
	PrevGarrison *int64   `json:"prev_garrison,omitempty"`
	Outcome      Outcome  `json:"outcome,omitempty"`
	Captured     bool     `json:"captured"`

	// ResolutionError is set when the reconstructor refused to guess.
	ResolutionError string `json:"resolution_error,omitempty"`

	Contributions []Contribution `json:"contributions,omitempty"`
}

// RecordFromActivity converts a canonical Activity to an unresolved record.
func RecordFromActivity(a Activity) WorldUpdateRecord {
	return WorldUpdateRecord{
		ActivityID:    a.ActivityID,
		GameID:        a.GameID,
		Type:          a.Type,
		PlayerID:      a.Player.ID,
		PlayerName:    a.Player.Name,
		Faction:       a.Faction,
		X:             a.X,
		Y:             a.Y,
		Amount:        a.Amount,
		Timestamp:     a.Timestamp,
		SourceRawID:   a.SourceRawID,
		SourceAt:      a.SourceAt,
		Contributions: a.Contributions,
	}
}

// EarlierSource reports whether the canonical source of r precedes that
// of o. Ties on receive time fall back to the raw event ID.
func (r *WorldUpdateRecord) EarlierSource(o *WorldUpdateRecord) bool {
	if !r.SourceAt.Equal(o.SourceAt) {
		return r.SourceAt.Before(o.SourceAt)
	}
	return r.SourceRawID.String() < o.SourceRawID.String()
}

// SameCanonical reports whether r carries the same canonical fields as o.
func (r *WorldUpdateRecord) SameCanonical(o *WorldUpdateRecord) bool {
	return r.ActivityID == o.ActivityID &&
		r.GameID == o.GameID &&
		r.Type == o.Type &&
		r.PlayerID == o.PlayerID &&
		r.PlayerName == o.PlayerName &&
		r.Faction == o.Faction &&
		r.X == o.X && r.Y == o.Y &&
		r.Amount == o.Amount &&
		r.Timestamp == o.Timestamp &&
		r.SourceRawID == o.SourceRawID
}

// Resolved reports whether the tile state is present and consistent.
// A nonzero garrison with no faction is inconsistent.
func (r *WorldUpdateRecord) Resolved() bool {
	if r.TileGarrison == nil {
		return false
	}
	if *r.TileGarrison != 0 && (r.TileFaction == nil || *r.TileFaction == FactionNone) {
		return false
	}
	return true
}

// Tile returns the tile key of the record.
func (r *WorldUpdateRecord) Tile() TileKey {
	return TileKey{GameID: r.GameID, X: r.X, Y: r.Y}
}

// TileKey identifies one map cell within a game.
type TileKey struct {
	GameID int64
	X      int
	Y      int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d:%d,%d", k.GameID, k.X, k.Y)
}

// TileState is the derived ownership of a tile after some record.
type TileState struct {
	X            int     `json:"x"`
	Y            int     `json:"y"`
	OwnerPlayer  string  `json:"owner_player"`
	OwnerFaction Faction `json:"owner_faction"`
	Garrison     int64   `json:"garrison"`
}

// TileStateOf reads the resolved tile state stored on r.
func TileStateOf(r *WorldUpdateRecord) TileState {
	s := TileState{X: r.X, Y: r.Y}
	if r.TilePlayer != nil {
		s.OwnerPlayer = *r.TilePlayer
	}
	if r.TileFaction != nil {
		s.OwnerFaction = *r.TileFaction
	}
	if r.TileGarrison != nil {
		s.Garrison = *r.TileGarrison
	}
	return s
}
