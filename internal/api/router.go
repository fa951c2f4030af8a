// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package api serves reports, reprocessing, cache control and the watch
// list over HTTP using chi.
//
// Routes:
//
//	GET    /metrics
//	GET    /ws                 (websocket, pipeline_completed notifications)
//	GET    /api/v1/health
//	GET    /api/v1/games/{gameID}/reports/{reportType}
//	POST   /api/v1/games/{gameID}/reprocess?from_scratch=
//	DELETE /api/v1/games/{gameID}/cache?type=
//	GET    /api/v1/watchlist
//	PUT    /api/v1/watchlist
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts every route of h behind the global middleware stack.
func NewRouter(h *Handler, mw *Middleware) http.Handler {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // global so OPTIONS preflight is answered

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Handle("/metrics", promhttp.Handler())
	// The connection is hijacked, so it stays outside the wrapping API middleware.
	if h.live != nil {
		r.Get("/ws", h.live.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics)

		r.Get("/health", h.Health)

		r.Route("/games/{gameID}", func(r chi.Router) {
			r.Get("/reports/{reportType}", h.Report)
			r.Post("/reprocess", h.Reprocess)
			r.Delete("/cache", h.InvalidateCache)
		})

		r.Get("/watchlist", h.GetWatchList)
		r.Put("/watchlist", h.PutWatchList)
	})

	return r
}
