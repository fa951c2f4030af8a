// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/frontline/internal/gameapi"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/models"
	"github.com/tomtom215/frontline/internal/pipeline"
	"github.com/tomtom215/frontline/internal/reports"
	"github.com/tomtom215/frontline/internal/validation"
)

const maxBodyBytes = 1 << 20

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReportGenerator produces encoded reports.
type ReportGenerator interface {
	Generate(ctx context.Context, gameID int64, reportType string, p reports.Params) ([]byte, error)
}

// PipelineRunner reprocesses a game.
type PipelineRunner interface {
	RunOnce(ctx context.Context, gameID int64, fromScratch bool) (*pipeline.Result, error)
}

// CacheInvalidator expires cached reports.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, scope, reportType string, params any) (int64, error)
}

// WatchListStore reads and replaces the watch list.
type WatchListStore interface {
	GetWatchList(ctx context.Context) ([]string, error)
	SetWatchList(ctx context.Context, scopes []string) error
}

// Handler serves the report API.
type Handler struct {
	db        Pinger
	reports   ReportGenerator
	runner    PipelineRunner
	cache     CacheInvalidator
	watch     WatchListStore
	live      http.Handler
	startTime time.Time
}

// Deps are the collaborators of a Handler. Runner may be nil when the
// pipeline is disabled. Live, when set, serves the websocket notification
// feed.
type Deps struct {
	DB        Pinger
	Reports   ReportGenerator
	Runner    PipelineRunner
	Cache     CacheInvalidator
	WatchList WatchListStore
	Live      http.Handler
}

// NewHandler returns a Handler over d.
func NewHandler(d Deps) *Handler {
	return &Handler{
		db:        d.DB,
		reports:   d.Reports,
		runner:    d.Runner,
		cache:     d.Cache,
		watch:     d.WatchList,
		live:      d.Live,
		startTime: time.Now(),
	}
}

// HealthStatus is the payload of the health endpoint.
type HealthStatus struct {
	Status            string  `json:"status"`
	DatabaseConnected bool    `json:"database_connected"`
	PipelineEnabled   bool    `json:"pipeline_enabled"`
	Uptime            float64 `json:"uptime_seconds"`
}

// Health reports database connectivity. A broken database reports
// "degraded" with status 200 so probes can tell it apart from a dead
// process.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil
	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}
	NewResponseWriter(w, r).Success(HealthStatus{
		Status:            status,
		DatabaseConnected: dbConnected,
		PipelineEnabled:   h.runner != nil,
		Uptime:            time.Since(h.startTime).Seconds(),
	})
}

// reportQuery holds the optional query parameters of the report endpoints.
type reportQuery struct {
	Player  string `validate:"max=128"`
	Faction string `validate:"faction"`
	From    int64  `validate:"gte=0"`
	To      int64  `validate:"omitempty,gtefield=From"`
	Window  int64  `validate:"omitempty,min=1000,max=86400000"`
	Unique  bool
}

func parseReportQuery(r *http.Request) (*reportQuery, string) {
	q := r.URL.Query()
	rq := &reportQuery{
		Player:  q.Get("player"),
		Faction: q.Get("faction"),
	}
	var err error
	for _, p := range []struct {
		name string
		dst  *int64
	}{{"from", &rq.From}, {"to", &rq.To}, {"window", &rq.Window}} {
		if v := q.Get(p.name); v != "" {
			if *p.dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, p.name + " must be an integer"
			}
		}
	}
	if v := q.Get("unique"); v != "" {
		if rq.Unique, err = strconv.ParseBool(v); err != nil {
			return nil, "unique must be a boolean"
		}
	}
	return rq, ""
}

// Report serves GET /games/{gameID}/reports/{reportType}.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	gameID, ok := gameIDParam(rw, r)
	if !ok {
		return
	}
	reportType := chi.URLParam(r, "reportType")
	if !slices.Contains(models.ReportTypes, reportType) {
		rw.NotFound("Unknown report type: " + reportType)
		return
	}

	rq, msg := parseReportQuery(r)
	if msg != "" {
		rw.BadRequest(msg)
		return
	}
	if verr := validation.ValidateStruct(rq); verr != nil {
		rw.ValidationError("Invalid report parameters", verr.Fields)
		return
	}

	params := reports.Params{
		Filter: models.Filter{
			Player:     rq.Player,
			Faction:    models.Faction(rq.Faction),
			FromMillis: rq.From,
			ToMillis:   rq.To,
		},
		Window: rq.Window,
		Unique: rq.Unique,
	}
	data, err := h.reports.Generate(r.Context(), gameID, reportType, params)
	if err != nil {
		h.reportError(rw, err)
		return
	}
	rw.Report(data)
}

func (h *Handler) reportError(rw *ResponseWriter, err error) {
	var statusErr *gameapi.StatusError
	switch {
	case errors.Is(err, reports.ErrUnknownReport):
		rw.NotFound(err.Error())
	case errors.Is(err, reports.ErrNoLeaderboard), errors.Is(err, gameapi.ErrNotConfigured):
		rw.ServiceUnavailable("Game API is not configured")
	case errors.Is(err, gameapi.ErrCircuitOpen):
		rw.ServiceUnavailable("Game API is temporarily unavailable")
	case errors.As(err, &statusErr):
		rw.ExternalServiceError("game-api", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rw.ServiceUnavailable("Request cancelled")
	default:
		rw.DatabaseError(err)
	}
}

// Reprocess serves POST /games/{gameID}/reprocess.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	gameID, ok := gameIDParam(rw, r)
	if !ok {
		return
	}
	if h.runner == nil {
		rw.ServiceUnavailable("Pipeline is disabled")
		return
	}

	fromScratch := false
	if v := r.URL.Query().Get("from_scratch"); v != "" {
		var err error
		if fromScratch, err = strconv.ParseBool(v); err != nil {
			rw.BadRequest("from_scratch must be a boolean")
			return
		}
	}

	res, err := h.runner.RunOnce(r.Context(), gameID, fromScratch)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			rw.Conflict("A pipeline run for this game is already in progress")
			return
		}
		rw.DatabaseError(err)
		return
	}
	logging.Ctx(r.Context()).Info().Int64("game_id", gameID).Bool("from_scratch", fromScratch).Msg("API: reprocess requested")
	rw.Success(res)
}

type invalidateQuery struct {
	Type string `validate:"omitempty,report_type"`
}

// InvalidateCache serves DELETE /games/{gameID}/cache.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	gameID, ok := gameIDParam(rw, r)
	if !ok {
		return
	}
	q := invalidateQuery{Type: r.URL.Query().Get("type")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		rw.ValidationError("Invalid cache type", verr.Fields)
		return
	}

	n, err := h.cache.Invalidate(r.Context(), strconv.FormatInt(gameID, 10), q.Type, nil)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]int64{"invalidated": n})
}

// WatchList is the body of the watch list endpoints.
type WatchList struct {
	WatchList []string `json:"watchList" validate:"max=1000,dive,required,max=64"`
}

// GetWatchList serves GET /watchlist.
func (h *Handler) GetWatchList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	scopes, err := h.watch.GetWatchList(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(WatchList{WatchList: scopes})
}

// PutWatchList serves PUT /watchlist and replaces the whole list.
func (h *Handler) PutWatchList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body WatchList
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		rw.BadRequest("Invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&body); verr != nil {
		rw.ValidationError("Invalid watch list", verr.Fields)
		return
	}
	if body.WatchList == nil {
		body.WatchList = []string{}
	}
	if err := h.watch.SetWatchList(r.Context(), body.WatchList); err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(body)
}

func gameIDParam(rw *ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
	if err != nil || id <= 0 {
		rw.BadRequest("gameID must be a positive integer")
		return 0, false
	}
	return id, true
}
