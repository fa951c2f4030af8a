// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package tilestate

import (
	"errors"
	"fmt"

	"github.com/tomtom215/frontline/internal/models"
)

var (
	// ErrNegativeGarrison means a record would leave a tile with a negative
	// garrison, or started from one.
	ErrNegativeGarrison = errors.New("negative garrison")

	// ErrAmbiguousPredecessor means several resolved records share the
	// latest timestamp before a record and disagree on the tile state.
	ErrAmbiguousPredecessor = errors.New("ambiguous predecessor")

	// ErrNotCombat is returned by Apply for non-combat records.
	ErrNotCombat = errors.New("not a combat record")
)

// DefaultPrior is the state assumed for a tile with no resolved history:
// owned by the acting player with an empty garrison.
func DefaultPrior(rec *models.WorldUpdateRecord) models.TileState {
	return models.TileState{
		X:            rec.X,
		Y:            rec.Y,
		OwnerPlayer:  playerKey(rec),
		OwnerFaction: rec.Faction,
		Garrison:     0,
	}
}

// Apply folds one combat record into the prior tile state.
//
// DEFEND adds to the garrison. ATTACK subtracts from it: a negative
// remainder is a capture with the overflow as the new garrison, zero
// neutralizes the tile, and a positive remainder is repelled.
func Apply(prior models.TileState, rec *models.WorldUpdateRecord) (models.TileState, models.Outcome, error) {
	if prior.Garrison < 0 {
		return prior, models.OutcomeNone, fmt.Errorf("%w: prior garrison %d", ErrNegativeGarrison, prior.Garrison)
	}
	if rec.Amount < 0 {
		return prior, models.OutcomeNone, fmt.Errorf("%w: amount %d", ErrNegativeGarrison, rec.Amount)
	}

	next := prior
	next.X, next.Y = rec.X, rec.Y

	switch rec.Type {
	case models.ActivityDefend:
		next.Garrison = prior.Garrison + rec.Amount
		return next, models.OutcomeReinforce, nil

	case models.ActivityAttack:
		remaining := prior.Garrison - rec.Amount
		switch {
		case remaining < 0:
			next.OwnerPlayer = playerKey(rec)
			next.OwnerFaction = rec.Faction
			next.Garrison = -remaining
			return next, models.OutcomeCapture, nil
		case remaining == 0:
			next.OwnerPlayer = playerKey(rec)
			next.OwnerFaction = models.FactionNone
			next.Garrison = 0
			return next, models.OutcomeNeutralize, nil
		default:
			next.Garrison = remaining
			return next, models.OutcomeRepel, nil
		}
	}
	return prior, models.OutcomeNone, fmt.Errorf("%w: %s", ErrNotCombat, rec.Type)
}

// playerKey is the name used for tile ownership; records without a player
// name fall back to the player ID.
func playerKey(rec *models.WorldUpdateRecord) string {
	if rec.PlayerName != "" {
		return rec.PlayerName
	}
	return rec.PlayerID
}

// predecessorState picks the prior state from the candidates returned by
// the latest-resolved query.
func predecessorState(rec *models.WorldUpdateRecord, candidates []*models.WorldUpdateRecord) (models.TileState, error) {
	if len(candidates) == 0 {
		return DefaultPrior(rec), nil
	}
	state := models.TileStateOf(candidates[0])
	for _, c := range candidates[1:] {
		if models.TileStateOf(c) != state {
			return models.TileState{}, fmt.Errorf("%w: %d records at ts %d disagree", ErrAmbiguousPredecessor, len(candidates), c.Timestamp)
		}
	}
	return state, nil
}
