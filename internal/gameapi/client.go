// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package gameapi is the HTTP client for the upstream game API. Every call
// passes through a circuit breaker so an unavailable game server fails fast
// instead of stalling the scraper and the MVP report.
package gameapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/models"
)

// maxErrorBodySize bounds how much of a failed response is read into the error.
const maxErrorBodySize = 64 * 1024

const breakerName = "game-api"

var (
	// ErrCircuitOpen is returned while the breaker rejects requests.
	ErrCircuitOpen = errors.New("game api circuit open")

	// ErrNotConfigured is returned when no base URL is set.
	ErrNotConfigured = errors.New("game api base url not configured")
)

// StatusError is a non-2xx response from the game API.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Client calls the game API.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds a client from cfg. The breaker opens after
// BreakerFailures consecutive failures and stays open for
// BreakerOpenDuration.
func NewClient(cfg config.GameAPIConfig) *Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up is not the server failing.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("GAMEAPI: circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
	}
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

// GetLeaderboard returns the per-player stats of a game.
func (c *Client) GetLeaderboard(ctx context.Context, gameID int64) ([]models.LeaderboardEntry, error) {
	body, err := c.get(ctx, "leaderboard", fmt.Sprintf("/games/%d/leaderboard", gameID), nil)
	if err != nil {
		return nil, err
	}

	entries := []models.LeaderboardEntry{}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode leaderboard for game %d: %w", gameID, err)
	}
	return entries, nil
}

// GetCaseData returns the raw case payload for one grid cell.
func (c *Client) GetCaseData(ctx context.Context, gameID int64, x, y int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("x", strconv.Itoa(x))
	q.Set("y", strconv.Itoa(y))

	body, err := c.get(ctx, "cases", fmt.Sprintf("/games/%d/cases", gameID), q)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("case data for game %d at (%d,%d) is not valid JSON", gameID, x, y)
	}
	return json.RawMessage(body), nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	start := time.Now()
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, reqURL)
	})
	metrics.GameAPIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Warn().Err(err).Str("endpoint", endpoint).Msg("GAMEAPI: request rejected")
		return nil, fmt.Errorf("%s: %w", endpoint, ErrCircuitOpen)
	}
	return body, err
}

func (c *Client) do(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(readBodyForError(resp.Body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return body, nil
}

// readBodyForError reads at most maxErrorBodySize bytes of r.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
