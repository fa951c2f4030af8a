// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package scraper back-fills a game by walking its map grid cell by cell
// and storing every case response as a CASE_SCRAPE raw event. Requests are
// strictly sequential and spaced by a fixed delay.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/models"
)

// CaseSource fetches the case data of one cell.
type CaseSource interface {
	GetCaseData(ctx context.Context, gameID int64, x, y int) (json.RawMessage, error)
}

// RawEventStore persists raw events, ignoring ID collisions.
type RawEventStore interface {
	BulkInsertRawEvents(ctx context.Context, events []models.RawEvent) (inserted, duplicates int, err error)
}

// FailedCell is a coordinate abandoned after its retries ran out.
type FailedCell struct {
	X        int   `json:"x"`
	Y        int   `json:"y"`
	Attempts int   `json:"attempts"`
	Err      error `json:"-"`
}

// Result summarizes one walk.
type Result struct {
	GameID     int64         `json:"game_id"`
	Cells      int           `json:"cells"`
	Stored     int           `json:"stored"`
	Duplicates int           `json:"duplicates"`
	Requests   int           `json:"requests"`
	Failed     []FailedCell  `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Scraper walks the grid.
type Scraper struct {
	source  CaseSource
	store   RawEventStore
	cfg     config.ScraperConfig
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns a Scraper. A zero Width or Height means 50.
func New(source CaseSource, store RawEventStore, cfg config.ScraperConfig) *Scraper {
	if cfg.Width <= 0 {
		cfg.Width = 50
	}
	if cfg.Height <= 0 {
		cfg.Height = 50
	}
	return &Scraper{
		source:  source,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Scrape walks every cell of the grid row by row. A cell that still fails
// after MaxRetries retries is recorded in Result.Failed and the walk moves
// on. Cancelling ctx stops the walk and returns the partial result.
func (s *Scraper) Scrape(ctx context.Context, gameID int64) (*Result, error) {
	start := s.now()
	res := &Result{GameID: gameID, Failed: []FailedCell{}}

	logging.Info().Int64("game_id", gameID).Int("width", s.cfg.Width).Int("height", s.cfg.Height).Msg("SCRAPER: walk started")

	for y := 0; y < s.cfg.Height; y++ {
		for x := 0; x < s.cfg.Width; x++ {
			if err := s.scrapeCell(ctx, gameID, x, y, res); err != nil {
				res.Duration = s.now().Sub(start)
				return res, err
			}
			res.Cells++
		}
	}

	res.Duration = s.now().Sub(start)
	logging.Info().
		Int64("game_id", gameID).
		Int("cells", res.Cells).
		Int("stored", res.Stored).
		Int("failed", len(res.Failed)).
		Dur("duration", res.Duration).
		Msg("SCRAPER: walk finished")
	return res, nil
}

// scrapeCell returns an error only when ctx ends.
func (s *Scraper) scrapeCell(ctx context.Context, gameID int64, x, y int, res *Result) error {
	var lastErr error
	attempts := 0
	for attempts <= s.cfg.MaxRetries {
		if attempts > 0 {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		attempts++
		res.Requests++
		lastErr = s.fetchAndStore(ctx, gameID, x, y, res)
		metrics.RecordScraperRequest(lastErr)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Debug().Err(lastErr).Int("x", x).Int("y", y).Int("attempt", attempts).Msg("SCRAPER: cell request failed")
	}

	metrics.ScraperFailedCells.Inc()
	logging.Warn().Err(lastErr).Int64("game_id", gameID).Int("x", x).Int("y", y).Int("attempts", attempts).Msg("SCRAPER: giving up on cell")
	res.Failed = append(res.Failed, FailedCell{X: x, Y: y, Attempts: attempts, Err: lastErr})
	return nil
}

func (s *Scraper) fetchAndStore(ctx context.Context, gameID int64, x, y int, res *Result) error {
	data, err := s.source.GetCaseData(ctx, gameID, x, y)
	if err != nil {
		return err
	}

	ev := models.NewRawEvent(models.SourceCaseScrape, append([]byte(nil), data...), s.now().UTC())
	if ev.GameID == 0 {
		ev.GameID = gameID
	}
	inserted, dups, err := s.store.BulkInsertRawEvents(ctx, []models.RawEvent{ev})
	if err != nil {
		return fmt.Errorf("store case (%d,%d): %w", x, y, err)
	}
	res.Stored += inserted
	res.Duplicates += dups
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Errors joins the errors of every failed cell.
func (r *Result) Errors() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("cell (%d,%d): %w", f.X, f.Y, f.Err))
	}
	return errors.Join(errs...)
}
