// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package events carries pipeline notifications between components.
//
// The bus is an in-process Watermill go channel by default. When a NATS URL
// is configured it uses core NATS (no JetStream) so that several server
// instances sharing one database all drop their cached reports when any of
// them finishes a pipeline run.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/logging"
)

// DefaultTopic is used when the configured topic is empty.
const DefaultTopic = "frontline.pipeline.completed"

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus is closed")

// PipelineCompleted is published after a pipeline run for a game finished.
type PipelineCompleted struct {
	GameID      int64     `json:"game_id"`
	FromScratch bool      `json:"from_scratch"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Merged      int       `json:"merged"`
	Resolved    int       `json:"resolved"`
	Unresolved  int       `json:"unresolved"`
	CompletedAt time.Time `json:"completed_at"`
}

// Scope returns the cache scope of the game.
func (e PipelineCompleted) Scope() string {
	return strconv.FormatInt(e.GameID, 10)
}

// Bus publishes and subscribes to pipeline events on one topic.
type Bus struct {
	topic  string
	pub    message.Publisher
	sub    message.Subscriber
	shared bool // pub and sub are the same go channel
	closed atomic.Bool
}

// NewBus builds the bus described by cfg.
func NewBus(cfg config.EventsConfig) (*Bus, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	logger := logging.NewWatermillAdapter("events")

	if cfg.NATSURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		logging.Info().Str("topic", topic).Msg("EVENTS: using in-process bus")
		return &Bus{topic: topic, pub: ch, sub: ch, shared: true}, nil
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("EVENTS: NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("EVENTS: NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}

	logging.Info().Str("url", cfg.NATSURL).Str("topic", topic).Msg("EVENTS: using NATS bus")
	return &Bus{topic: topic, pub: pub, sub: sub}, nil
}

// Topic returns the topic the bus uses.
func (b *Bus) Topic() string { return b.topic }

// PublishPipelineCompleted publishes ev.
func (b *Bus) PublishPipelineCompleted(_ context.Context, ev PipelineCompleted) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode pipeline event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("game_id", ev.Scope())

	if err := b.pub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish pipeline event for game %d: %w", ev.GameID, err)
	}
	return nil
}

// Subscribe returns the message stream of the topic. The channel closes
// when ctx ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	return b.sub.Subscribe(ctx, b.topic)
}

// Close closes the publisher and subscriber.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.pub.Close()
	if !b.shared {
		err = errors.Join(err, b.sub.Close())
	}
	return err
}

// DecodePipelineCompleted decodes a message payload.
func DecodePipelineCompleted(msg *message.Message) (PipelineCompleted, error) {
	var ev PipelineCompleted
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return PipelineCompleted{}, fmt.Errorf("decode pipeline event %s: %w", msg.UUID, err)
	}
	return ev, nil
}
