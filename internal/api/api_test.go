// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/gameapi"
	"github.com/tomtom215/frontline/internal/models"
	"github.com/tomtom215/frontline/internal/pipeline"
	"github.com/tomtom215/frontline/internal/reports"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type generateCall struct {
	gameID     int64
	reportType string
	params     reports.Params
}

type fakeReports struct {
	mu    sync.Mutex
	calls []generateCall
	data  []byte
	err   error
}

func (f *fakeReports) Generate(_ context.Context, gameID int64, reportType string, p reports.Params) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{gameID, reportType, p})
	return f.data, f.err
}

type fakeRunner struct {
	gameID      int64
	fromScratch bool
	err         error
}

func (f *fakeRunner) RunOnce(_ context.Context, gameID int64, fromScratch bool) (*pipeline.Result, error) {
	f.gameID, f.fromScratch = gameID, fromScratch
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{GameID: gameID}, nil
}

type fakeCache struct {
	scope, reportType string
	n                 int64
}

func (f *fakeCache) Invalidate(_ context.Context, scope, reportType string, _ any) (int64, error) {
	f.scope, f.reportType = scope, reportType
	return f.n, nil
}

type fakeWatch struct {
	scopes []string
	err    error
}

func (f *fakeWatch) GetWatchList(context.Context) ([]string, error) { return f.scopes, f.err }

func (f *fakeWatch) SetWatchList(_ context.Context, scopes []string) error {
	f.scopes = scopes
	return f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

type testServer struct {
	handler http.Handler
	reports *fakeReports
	runner  *fakeRunner
	cache   *fakeCache
	watch   *fakeWatch
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		reports: &fakeReports{data: []byte(`{"RED":{"RED":8}}`)},
		runner:  &fakeRunner{},
		cache:   &fakeCache{n: 4},
		watch:   &fakeWatch{scopes: []string{"5"}},
	}
	h := NewHandler(Deps{
		DB:        fakePinger{},
		Reports:   ts.reports,
		Runner:    ts.runner,
		Cache:     ts.cache,
		WatchList: ts.watch,
	})
	ts.handler = NewRouter(h, NewMiddleware(&MiddlewareConfig{RateLimitDisabled: true}))
	return ts
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, w.Body.String())
		}
	}
	return w, env
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		dbErr  error
		status string
	}{
		{"healthy", nil, "healthy"},
		{"degraded", errors.New("closed"), "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(NewHandler(Deps{DB: fakePinger{err: tt.dbErr}}), nil)
			w, env := do(t, h, http.MethodGet, "/api/v1/health", "")
			if w.Code != http.StatusOK || !env.Success {
				t.Fatalf("status %d env %+v", w.Code, env)
			}
			var hs HealthStatus
			if err := json.Unmarshal(env.Data, &hs); err != nil {
				t.Fatal(err)
			}
			if hs.Status != tt.status || hs.PipelineEnabled {
				t.Errorf("health = %+v", hs)
			}
		})
	}
}

func TestReport_EmbedsEncodedReport(t *testing.T) {
	ts := newTestServer(t)
	w, env := do(t, ts.handler, http.MethodGet,
		"/api/v1/games/7/reports/faction-transfers?player=alice&faction=RED&from=100&to=200", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if string(env.Data) != `{"RED":{"RED":8}}` {
		t.Errorf("data = %s", env.Data)
	}
	if len(ts.reports.calls) != 1 {
		t.Fatalf("calls = %d", len(ts.reports.calls))
	}
	c := ts.reports.calls[0]
	want := models.Filter{Player: "alice", Faction: models.FactionRed, FromMillis: 100, ToMillis: 200}
	if c.gameID != 7 || c.reportType != models.ReportFactionTransfers || c.params.Filter != want {
		t.Errorf("call = %+v", c)
	}
}

func TestReport_APMParams(t *testing.T) {
	ts := newTestServer(t)
	w, _ := do(t, ts.handler, http.MethodGet, "/api/v1/games/3/reports/apm?window=30000&unique=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if p := ts.reports.calls[0].params; p.Window != 30000 || !p.Unique {
		t.Errorf("params = %+v", p)
	}
}

func TestReport_RequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown type", "/api/v1/games/7/reports/kdr", http.StatusNotFound, ErrCodeNotFound},
		{"bad game id", "/api/v1/games/abc/reports/heatmap", http.StatusBadRequest, ErrCodeBadRequest},
		{"zero game id", "/api/v1/games/0/reports/heatmap", http.StatusBadRequest, ErrCodeBadRequest},
		{"non-integer from", "/api/v1/games/7/reports/heatmap?from=yesterday", http.StatusBadRequest, ErrCodeBadRequest},
		{"bad unique", "/api/v1/games/7/reports/apm?unique=maybe", http.StatusBadRequest, ErrCodeBadRequest},
		{"window too small", "/api/v1/games/7/reports/apm?window=10", http.StatusBadRequest, ErrCodeValidationFailed},
		{"to before from", "/api/v1/games/7/reports/heatmap?from=500&to=100", http.StatusBadRequest, ErrCodeValidationFailed},
		{"bad faction", "/api/v1/games/7/reports/heatmap?faction=PURPLE", http.StatusBadRequest, ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w, env := do(t, ts.handler, http.MethodGet, tt.target, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if env.Success || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v", env.Error)
			}
			if len(ts.reports.calls) != 0 {
				t.Errorf("generator called for a rejected request")
			}
		})
	}
}

func TestReport_GenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no leaderboard", reports.ErrNoLeaderboard, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"circuit open", fmt.Errorf("leaderboard: %w", gameapi.ErrCircuitOpen), http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"upstream status", &gameapi.StatusError{Endpoint: "leaderboard", Status: 500}, http.StatusBadGateway, ErrCodeExternalServiceFail},
		{"storage", errors.New("io error"), http.StatusInternalServerError, ErrCodeDatabaseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.reports.err = tt.err
			w, env := do(t, ts.handler, http.MethodGet, "/api/v1/games/7/reports/mvp", "")
			if w.Code != tt.status || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("status %d error %+v", w.Code, env.Error)
			}
		})
	}
}

func TestReprocess(t *testing.T) {
	ts := newTestServer(t)
	w, env := do(t, ts.handler, http.MethodPost, "/api/v1/games/12/reprocess?from_scratch=true", "")
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if ts.runner.gameID != 12 || !ts.runner.fromScratch {
		t.Errorf("runner = %+v", ts.runner)
	}

	ts.runner.err = fmt.Errorf("game 12: %w", pipeline.ErrRunInProgress)
	if w, _ := do(t, ts.handler, http.MethodPost, "/api/v1/games/12/reprocess", ""); w.Code != http.StatusConflict {
		t.Errorf("overlapping run status = %d", w.Code)
	}

	if w, _ := do(t, ts.handler, http.MethodPost, "/api/v1/games/12/reprocess?from_scratch=nah", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad flag status = %d", w.Code)
	}

	if w, _ := do(t, ts.handler, http.MethodGet, "/api/v1/games/12/reprocess", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reprocess status = %d", w.Code)
	}
}

func TestReprocess_PipelineDisabled(t *testing.T) {
	h := NewRouter(NewHandler(Deps{DB: fakePinger{}}), nil)
	if w, _ := do(t, h, http.MethodPost, "/api/v1/games/1/reprocess", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestInvalidateCache(t *testing.T) {
	ts := newTestServer(t)
	w, env := do(t, ts.handler, http.MethodDelete, "/api/v1/games/9/cache?type=heatmap", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if ts.cache.scope != "9" || ts.cache.reportType != models.ReportHeatmap {
		t.Errorf("invalidated %q/%q", ts.cache.scope, ts.cache.reportType)
	}
	if string(env.Data) != `{"invalidated":4}` {
		t.Errorf("data = %s", env.Data)
	}

	if w, _ := do(t, ts.handler, http.MethodDelete, "/api/v1/games/9/cache?type=kdr", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d", w.Code)
	}

	if w, _ := do(t, ts.handler, http.MethodDelete, "/api/v1/games/9/cache", ""); w.Code != http.StatusOK || ts.cache.reportType != "" {
		t.Errorf("scope-wide invalidation status %d type %q", w.Code, ts.cache.reportType)
	}
}

func TestWatchList(t *testing.T) {
	ts := newTestServer(t)

	_, env := do(t, ts.handler, http.MethodGet, "/api/v1/watchlist", "")
	if string(env.Data) != `{"watchList":["5"]}` {
		t.Errorf("GET data = %s", env.Data)
	}

	w, _ := do(t, ts.handler, http.MethodPut, "/api/v1/watchlist", `{"watchList":["9","11"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status %d: %s", w.Code, w.Body.String())
	}
	if len(ts.watch.scopes) != 2 || ts.watch.scopes[1] != "11" {
		t.Errorf("stored = %v", ts.watch.scopes)
	}

	if w, _ := do(t, ts.handler, http.MethodPut, "/api/v1/watchlist", `{}`); w.Code != http.StatusOK || ts.watch.scopes == nil || len(ts.watch.scopes) != 0 {
		t.Errorf("clearing: status %d stored %v", w.Code, ts.watch.scopes)
	}

	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `watch`, ErrCodeBadRequest},
		{"empty scope", `{"watchList":["5",""]}`, ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, ts.handler, http.MethodPut, "/api/v1/watchlist", tt.body)
			if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("status %d error %+v", w.Code, env.Error)
			}
		})
	}
}

func TestWatchList_StorageError(t *testing.T) {
	ts := newTestServer(t)
	ts.watch.err = errors.New("locked")
	if w, env := do(t, ts.handler, http.MethodGet, "/api/v1/watchlist", ""); w.Code != http.StatusInternalServerError || env.Error.Code != ErrCodeDatabaseError {
		t.Errorf("status %d error %+v", w.Code, env.Error)
	}
}

func TestRouter_HeadersAndRequestID(t *testing.T) {
	ts := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	r.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Cache-Control"} {
		if w.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Meta == nil || env.Meta.RequestID != "req-123" {
		t.Errorf("meta = %+v", env.Meta)
	}

	_, generated := do(t, ts.handler, http.MethodGet, "/api/v1/health", "")
	if generated.Meta == nil || generated.Meta.RequestID == "" {
		t.Error("request id not generated")
	}
}

func TestRouter_NotFoundEnvelope(t *testing.T) {
	ts := newTestServer(t)
	w, env := do(t, ts.handler, http.MethodGet, "/api/v1/nope", "")
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrCodeNotFound {
		t.Errorf("status %d error %+v", w.Code, env.Error)
	}
}

func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t)
	do(t, ts.handler, http.MethodGet, "/api/v1/health", "")

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `route="/api/v1/health"`) {
		t.Error("api request metric not labelled by route pattern")
	}
}

func TestRateLimit(t *testing.T) {
	mw := NewMiddleware(MiddlewareConfigFrom(config.SecurityConfig{RateLimitReqs: 2, RateLimitWindow: time.Minute}))
	h := NewRouter(NewHandler(Deps{DB: fakePinger{}}), mw)

	codes := make([]int, 3)
	for i := range codes {
		w, _ := do(t, h, http.MethodGet, "/api/v1/health", "")
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestRouter_LiveFeed(t *testing.T) {
	ts := newTestServer(t)
	if w, _ := do(t, ts.handler, http.MethodGet, "/ws", ""); w.Code != http.StatusNotFound {
		t.Errorf("without live handler status = %d", w.Code)
	}

	live := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	h := NewRouter(NewHandler(Deps{DB: fakePinger{}, Live: live}), NewMiddleware(&MiddlewareConfig{RateLimitDisabled: true}))
	if w, _ := do(t, h, http.MethodGet, "/ws", ""); w.Code != http.StatusSwitchingProtocols {
		t.Errorf("live handler status = %d", w.Code)
	}
}
