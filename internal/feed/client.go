// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package feed reads the live game websocket and hands every message to the
// ingestion queue, keyed by its message type.
//
// The client does not reconnect. Serve returns when the connection drops
// and the supervisor restarts it with backoff.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/ingest"
	"github.com/tomtom215/frontline/internal/logging"
)

// Enqueuer accepts raw payloads.
type Enqueuer interface {
	Enqueue(sourceType string, payload []byte) error
}

// ErrNoURL is returned by Serve when the feed URL is empty.
var ErrNoURL = errors.New("feed url not configured")

// Client is a suture service reading one websocket connection.
type Client struct {
	url         string
	readTimeout time.Duration
	queue       Enqueuer
	dialer      websocket.Dialer

	received atomic.Int64
	skipped  atomic.Int64
}

// NewClient returns a client for cfg.URL.
func NewClient(cfg config.FeedConfig, queue Enqueuer) *Client {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:         cfg.URL,
		readTimeout: timeout,
		queue:       queue,
		dialer: websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
	}
}

// Serve dials the feed and reads until the connection fails or ctx ends.
func (c *Client) Serve(ctx context.Context) error {
	if c.url == "" {
		logging.Warn().Err(ErrNoURL).Msg("FEED: disabled")
		return suture.ErrDoNotRestart
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	logging.Info().Str("url", c.url).Msg("FEED: connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("FEED: connection closed by server")
			}
			return fmt.Errorf("feed read: %w", err)
		}

		if err := c.handle(message); err != nil {
			return err
		}
	}
}

// handle enqueues one message. Messages without a type are skipped.
func (c *Client) handle(message []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &probe); err != nil || probe.Type == "" {
		c.skipped.Add(1)
		logging.Warn().Err(err).Int("bytes", len(message)).Msg("FEED: skipping message without type")
		return nil
	}

	if err := c.queue.Enqueue(probe.Type, message); err != nil {
		if errors.Is(err, ingest.ErrQueueClosed) {
			logging.Info().Msg("FEED: ingestion queue closed, stopping")
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("enqueue %s message: %w", probe.Type, err)
	}
	c.received.Add(1)
	return nil
}

// Received returns the number of enqueued messages.
func (c *Client) Received() int64 { return c.received.Load() }

// Skipped returns the number of messages dropped for lacking a type.
func (c *Client) Skipped() int64 { return c.skipped.Load() }

// String identifies the service in supervisor logs.
func (c *Client) String() string { return "feed-client" }
