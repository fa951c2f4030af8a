// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package ingest buffers raw feed payloads per source type and flushes them
// to the raw event store in batches.
//
// A flush happens when a source type's buffer reaches BatchSize or when its
// FlushInterval ticks, whichever is first. Each source type gets one flush
// timer, armed the first time that source type is enqueued and kept until
// Close. Flushes of one source type never overlap. Storage errors drop the
// batch: delivery upstream is at-least-once and duplicate IDs are ignored
// on insert, so a resent message repairs the gap.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/metrics"
	"github.com/tomtom215/frontline/internal/models"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("ingestion queue is closed")

// RawEventStore persists raw events, ignoring ID collisions.
type RawEventStore interface {
	BulkInsertRawEvents(ctx context.Context, events []models.RawEvent) (inserted, duplicates int, err error)
}

// Config controls batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
}

// DefaultConfig returns 100 events or 5 seconds per flush.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		FlushTimeout:  30 * time.Second,
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Received   int64
	Saved      int64
	Duplicates int64
	Dropped    int64
	Flushes    int64
	Errors     int64
	Buffered   map[string]int
}

type sourceBuffer struct {
	sourceType string

	mu     sync.Mutex
	events []models.RawEvent

	// flushMu allows a single flusher per source type.
	flushMu sync.Mutex
}

// Queue is the long-lived ingestion worker. Construct it once at startup
// and Close it on shutdown to drain every buffer.
type Queue struct {
	store RawEventStore
	cfg   Config
	now   func() time.Time

	// mu guards buffers and closed. Enqueue holds it while appending so
	// that nothing is buffered, and no timer or flush is started, once
	// Close has marked the queue closed.
	mu      sync.Mutex
	buffers map[string]*sourceBuffer
	closed  bool

	stopChan chan struct{}
	timers   sync.WaitGroup
	flushWg  sync.WaitGroup

	received   atomic.Int64
	saved      atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
	flushes    atomic.Int64
	errs       atomic.Int64
}

// NewQueue validates cfg and returns an idle queue.
func NewQueue(store RawEventStore, cfg Config) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}

	return &Queue{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		buffers:  make(map[string]*sourceBuffer),
		stopChan: make(chan struct{}),
	}, nil
}

// Enqueue buffers one raw payload under sourceType. It never blocks on
// storage.
func (q *Queue) Enqueue(sourceType string, payload []byte) error {
	if sourceType == "" {
		return fmt.Errorf("source type required")
	}
	ev := models.NewRawEvent(sourceType, append([]byte(nil), payload...), q.now().UTC())

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	buf := q.bufferLocked(sourceType)
	buf.mu.Lock()
	buf.events = append(buf.events, ev)
	size := len(buf.events)
	buf.mu.Unlock()
	full := size >= q.cfg.BatchSize
	if full {
		q.flushWg.Add(1)
	}
	q.mu.Unlock()

	q.received.Add(1)
	metrics.IngestReceived.WithLabelValues(sourceType).Inc()
	metrics.IngestBufferDepth.WithLabelValues(sourceType).Set(float64(size))

	logging.Trace().
		Str("source_type", sourceType).
		Str("raw_id", ev.ID.String()).
		Int("buffer_size", size).
		Msg("INGEST: buffered")

	if full {
		go func() {
			defer q.flushWg.Done()
			q.flush(buf)
		}()
	}
	return nil
}

// bufferLocked returns the buffer of sourceType, creating it and arming its
// flush timer on first use. Caller holds q.mu.
func (q *Queue) bufferLocked(sourceType string) *sourceBuffer {
	if buf, ok := q.buffers[sourceType]; ok {
		return buf
	}
	buf := &sourceBuffer{sourceType: sourceType, events: make([]models.RawEvent, 0, q.cfg.BatchSize)}
	q.buffers[sourceType] = buf

	q.timers.Add(1)
	go q.flushLoop(buf)

	logging.Debug().Str("source_type", sourceType).Dur("interval", q.cfg.FlushInterval).Msg("INGEST: flush timer armed")
	return buf
}

func (q *Queue) flushLoop(buf *sourceBuffer) {
	defer q.timers.Done()

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopChan:
			return
		case <-ticker.C:
			q.flush(buf)
		}
	}
}

// flush writes everything buffered for one source type. Errors are logged
// and the batch is dropped.
func (q *Queue) flush(buf *sourceBuffer) {
	buf.flushMu.Lock()
	defer buf.flushMu.Unlock()

	buf.mu.Lock()
	if len(buf.events) == 0 {
		buf.mu.Unlock()
		return
	}
	events := buf.events
	buf.events = make([]models.RawEvent, 0, q.cfg.BatchSize)
	buf.mu.Unlock()
	metrics.IngestBufferDepth.WithLabelValues(buf.sourceType).Set(0)

	for start := 0; start < len(events); start += q.cfg.BatchSize {
		end := min(start+q.cfg.BatchSize, len(events))
		q.writeChunk(buf.sourceType, events[start:end])
	}
}

func (q *Queue) writeChunk(sourceType string, chunk []models.RawEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.FlushTimeout)
	defer cancel()

	start := time.Now()
	inserted, dups, err := q.store.BulkInsertRawEvents(ctx, chunk)
	elapsed := time.Since(start)
	q.flushes.Add(1)

	if err != nil {
		q.errs.Add(1)
		q.dropped.Add(int64(len(chunk)))
		metrics.RecordFlush(sourceType, 0, len(chunk), elapsed)
		logging.Error().Err(err).
			Str("source_type", sourceType).
			Int("dropped", len(chunk)).
			Msg("INGEST: flush failed, batch dropped")
		return
	}

	q.saved.Add(int64(inserted))
	q.duplicates.Add(int64(dups))
	metrics.RecordFlush(sourceType, inserted, 0, elapsed)
	logging.Info().
		Str("source_type", sourceType).
		Int("saved", inserted).
		Int("duplicates", dups).
		Dur("elapsed", elapsed).
		Msg("INGEST: flushed batch")
}

// Flush synchronously drains every buffer.
func (q *Queue) Flush() {
	q.flushWg.Wait()
	for _, buf := range q.snapshotBuffers() {
		q.flush(buf)
	}
}

// Close stops the flush timers and drains every buffer. Safe to call more
// than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stopChan)
	q.timers.Wait()
	q.Flush()
	logging.Info().Int64("saved", q.saved.Load()).Int64("dropped", q.dropped.Load()).Msg("INGEST: queue closed")
	return nil
}

func (q *Queue) snapshotBuffers() []*sourceBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*sourceBuffer, 0, len(q.buffers))
	for _, b := range q.buffers {
		out = append(out, b)
	}
	return out
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	buffered := make(map[string]int)
	for _, b := range q.snapshotBuffers() {
		b.mu.Lock()
		buffered[b.sourceType] = len(b.events)
		b.mu.Unlock()
	}
	return Stats{
		Received:   q.received.Load(),
		Saved:      q.saved.Load(),
		Duplicates: q.duplicates.Load(),
		Dropped:    q.dropped.Load(),
		Flushes:    q.flushes.Load(),
		Errors:     q.errs.Load(),
		Buffered:   buffered,
	}
}
