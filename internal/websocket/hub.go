// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package websocket pushes pipeline notifications to connected dashboards.
//
// The Hub owns the set of clients and fans every broadcast out to them. The
// Bridge subscribes to the event bus and turns each PipelineCompleted event
// into a pipeline_completed message:
//
//	{"type":"pipeline_completed","data":{"game_id":42,"inserted":3,...}}
//
// Clients may send {"type":"ping"} and receive {"type":"pong"}.
package websocket

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/frontline/internal/logging"
)

// Message types.
const (
	MessageTypePipelineCompleted = "pipeline_completed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
)

// Message is the envelope of every frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub maintains the connected clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHub returns a hub accepting connections from origins. An empty list or
// "*" accepts any origin.
func NewHub(origins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// Serve runs the hub until ctx ends, then closes every client.
//
// Client lifecycle events are handled before broadcasts so a message is
// never fanned out to a client that is already gone.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Broadcast queues msg for every client. It never blocks; the message is
// dropped when the queue is full.
func (h *Hub) Broadcast(msgType string, data any) {
	select {
	case h.broadcast <- Message{Type: msgType, Data: data}:
	default:
		logging.Warn().Str("message_type", msgType).Msg("FEED: broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.stopped:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Debug().Err(err).Msg("FEED: websocket upgrade failed")
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
		c.start()
	case <-h.stopped:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Uint64("client_id", c.id).Int("total_clients", n).Msg("FEED: websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		logging.Info().Uint64("client_id", c.id).Int("total_clients", n).Msg("FEED: websocket client disconnected")
	}
}

// sorted returns the clients in connection order. Caller holds mu.
func (h *Hub) sorted() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// fanOut delivers msg to every client. A client whose buffer is full is
// disconnected.
func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.sorted() {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			logging.Warn().Uint64("client_id", c.id).Msg("FEED: slow websocket client dropped")
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.stopped) })

	h.mu.Lock()
	n := len(h.clients)
	for _, c := range h.sorted() {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	logging.Info().Int("clients_closed", n).Msg("FEED: websocket hub stopped")
}
