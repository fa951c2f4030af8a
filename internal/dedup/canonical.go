// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package dedup

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/tomtom215/frontline/internal/models"
)

// ErrInvalidFragment is wrapped by fragment validation failures.
var ErrInvalidFragment = errors.New("invalid activity fragment")

// RawFailure is a raw event that could not be folded in.
type RawFailure struct {
	RawID uuid.UUID
	Err   error
}

// Canonical is one merged activity and the raw events that carried it.
type Canonical struct {
	Activity models.Activity
	Sources  []uuid.UUID
}

// Canonicalize groups the fragments of raws by activity ID.
//
// raws must be ordered by receive time then raw ID. The scalar fields of
// each activity come from the first fragment seen, every fragment adds one
// contribution keyed by its raw event, and a second fragment of the same
// activity inside the same raw event is ignored. Results are ordered by
// activity ID.
func Canonicalize(raws []models.RawEvent) ([]Canonical, []RawFailure) {
	groups := make(map[string]*Canonical)
	var failures []RawFailure

	for i := range raws {
		raw := &raws[i]
		payload, err := models.ParseFeedPayload(raw.Payload)
		if err != nil {
			failures = append(failures, RawFailure{RawID: raw.ID, Err: err})
			continue
		}
		gameID := payload.GameID
		if gameID == 0 {
			gameID = raw.GameID
		}

		var rawErr error
		for _, frag := range payload.Activities {
			if err := validateFragment(frag); err != nil {
				rawErr = errors.Join(rawErr, err)
				continue
			}

			g, ok := groups[frag.ID]
			if !ok {
				g = &Canonical{Activity: models.Activity{
					ActivityID:  frag.ID,
					GameID:      gameID,
					Type:        frag.Type,
					Player:      frag.Player,
					Faction:     frag.Faction,
					X:           frag.X,
					Y:           frag.Y,
					Amount:      frag.Amount,
					Timestamp:   frag.Timestamp,
					SourceRawID: raw.ID,
					SourceAt:    raw.ReceivedAt,
				}}
				groups[frag.ID] = g
			}
			if slices.Contains(g.Sources, raw.ID) {
				continue
			}
			g.Sources = append(g.Sources, raw.ID)
			g.Activity.Contributions = append(g.Activity.Contributions, models.Contribution{
				SourceRawID: raw.ID,
				Amount:      frag.Amount,
				Timestamp:   frag.Timestamp,
				Extra:       frag.Extra,
			})
		}
		if rawErr != nil {
			failures = append(failures, RawFailure{RawID: raw.ID, Err: rawErr})
		}
	}

	out := make([]Canonical, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b Canonical) int {
		switch {
		case a.Activity.ActivityID < b.Activity.ActivityID:
			return -1
		case a.Activity.ActivityID > b.Activity.ActivityID:
			return 1
		}
		return 0
	})
	return out, failures
}

func validateFragment(f models.ActivityPayload) error {
	if f.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFragment)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: activity %s has unknown type %q", ErrInvalidFragment, f.ID, f.Type)
	}
	if f.Faction != models.FactionNone && !f.Faction.Valid() {
		return fmt.Errorf("%w: activity %s has unknown faction %q", ErrInvalidFragment, f.ID, f.Faction)
	}
	if f.Amount < 0 {
		return fmt.Errorf("%w: activity %s has negative amount %d", ErrInvalidFragment, f.ID, f.Amount)
	}
	return nil
}
