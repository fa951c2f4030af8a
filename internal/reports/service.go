// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package reports

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tomtom215/frontline/internal/cache"
	"github.com/tomtom215/frontline/internal/models"
)

var (
	// ErrUnknownReport is returned for a report type outside models.ReportTypes.
	ErrUnknownReport = errors.New("unknown report type")

	// ErrNoLeaderboard is returned for MVP reports when no game API is
	// configured.
	ErrNoLeaderboard = errors.New("leaderboard source not configured")
)

// RecordStore lists world update records.
type RecordStore interface {
	FindWorldUpdates(ctx context.Context, f models.Filter) ([]*models.WorldUpdateRecord, error)
}

// LeaderboardSource fetches per-player stats from the game.
type LeaderboardSource interface {
	GetLeaderboard(ctx context.Context, gameID int64) ([]models.LeaderboardEntry, error)
}

// Cache memoizes encoded reports.
type Cache interface {
	Fetch(ctx context.Context, scope, reportType string, params any, compute cache.ComputeFunc) ([]byte, error)
}

// Params are the optional inputs of a report. Each report type only
// reads, and only keys its cache entry on, the fields it uses.
type Params struct {
	Filter models.Filter
	Window int64
	Unique bool
}

type filterKey struct {
	Player  string         `json:"player,omitempty"`
	Faction models.Faction `json:"faction,omitempty"`
	From    int64          `json:"from,omitempty"`
	To      int64          `json:"to,omitempty"`
}

type apmKey struct {
	Window int64 `json:"window"`
	Unique bool  `json:"unique"`
}

// Service computes reports through the cache.
type Service struct {
	records     RecordStore
	leaderboard LeaderboardSource
	cache       Cache
}

// NewService returns a Service. leaderboard may be nil.
func NewService(records RecordStore, leaderboard LeaderboardSource, c Cache) *Service {
	return &Service{records: records, leaderboard: leaderboard, cache: c}
}

// Generate returns the JSON encoded report of reportType for gameID.
func (s *Service) Generate(ctx context.Context, gameID int64, reportType string, p Params) ([]byte, error) {
	scope := strconv.FormatInt(gameID, 10)
	p.Filter.GameID = gameID

	switch reportType {
	case models.ReportFactionTransfers:
		return s.cache.Fetch(ctx, scope, reportType, keyOf(p.Filter), func(ctx context.Context) (any, error) {
			recs, err := s.records.FindWorldUpdates(ctx, models.Filter{GameID: gameID})
			if err != nil {
				return nil, err
			}
			return FactionTransferMatrix(recs, p.Filter), nil
		})

	case models.ReportHeatmap:
		return s.cache.Fetch(ctx, scope, reportType, keyOf(p.Filter), func(ctx context.Context) (any, error) {
			recs, err := s.records.FindWorldUpdates(ctx, models.Filter{GameID: gameID})
			if err != nil {
				return nil, err
			}
			return TileHeatmap(recs, p.Filter), nil
		})

	case models.ReportMVP:
		if s.leaderboard == nil {
			return nil, ErrNoLeaderboard
		}
		return s.cache.Fetch(ctx, scope, reportType, nil, func(ctx context.Context) (any, error) {
			entries, err := s.leaderboard.GetLeaderboard(ctx, gameID)
			if err != nil {
				return nil, err
			}
			return PlayerMvpLeaderboard(gameID, entries), nil
		})

	case models.ReportAPM:
		window := p.Window
		if window <= 0 {
			window = DefaultAPMWindowMillis
		}
		return s.cache.Fetch(ctx, scope, reportType, apmKey{Window: window, Unique: p.Unique}, func(ctx context.Context) (any, error) {
			recs, err := s.records.FindWorldUpdates(ctx, models.Filter{GameID: gameID})
			if err != nil {
				return nil, err
			}
			return ApmLeaderboard(recs, window, p.Unique), nil
		})

	case models.ReportTileControl:
		return s.cache.Fetch(ctx, scope, reportType, nil, func(ctx context.Context) (any, error) {
			recs, err := s.records.FindWorldUpdates(ctx, models.Filter{GameID: gameID})
			if err != nil {
				return nil, err
			}
			return TileControlLeaderboard(recs), nil
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownReport, reportType)
}

func keyOf(f models.Filter) filterKey {
	return filterKey{Player: f.Player, Faction: f.Faction, From: f.FromMillis, To: f.ToMillis}
}
