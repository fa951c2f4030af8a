// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package websocket

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tomtom215/frontline/internal/events"
	"github.com/tomtom215/frontline/internal/logging"
)

// Broadcaster is satisfied by Hub.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

// Bridge is a suture service forwarding pipeline events to websocket clients.
type Bridge struct {
	bus *events.Bus
	out Broadcaster

	ready   chan struct{}
	started atomic.Bool
}

// NewBridge returns a bridge from bus to out.
func NewBridge(bus *events.Bus, out Broadcaster) *Bridge {
	return &Bridge{bus: bus, out: out, ready: make(chan struct{})}
}

// Ready is closed once the first subscription is live.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Serve forwards events until ctx ends.
func (b *Bridge) Serve(ctx context.Context) error {
	messages, err := b.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.bus.Topic(), err)
	}
	if b.started.CompareAndSwap(false, true) {
		close(b.ready)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", b.bus.Topic())
			}
			ev, err := events.DecodePipelineCompleted(msg)
			if err != nil {
				logging.Warn().Err(err).Msg("FEED: dropping undecodable pipeline event")
			} else {
				b.out.Broadcast(MessageTypePipelineCompleted, ev)
			}
			msg.Ack()
		}
	}
}

func (b *Bridge) String() string { return "websocket-bridge" }
