// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/frontline/internal/models"
)

// MemoryStore is a thread-safe in-process entry store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	stats   Stats
}

// Stats tracks store activity.
type Stats struct {
	mu        sync.RWMutex
	Hits      int64
	Misses    int64
	Evictions int64
	TotalKeys int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CacheEntry)}
}

// Get returns a copy of the entry or ErrMiss.
func (s *MemoryStore) Get(_ context.Context, scope, reportType, paramsKey string) (*models.CacheEntry, error) {
	s.mu.RLock()
	e, ok := s.entries[entryKey(scope, reportType, paramsKey)]
	s.mu.RUnlock()

	if !ok {
		s.record(func(st *Stats) { st.Misses++ })
		return nil, ErrMiss
	}
	s.record(func(st *Stats) { st.Hits++ })
	return cloneEntry(e), nil
}

// Put stores a copy of e.
func (s *MemoryStore) Put(_ context.Context, e *models.CacheEntry) error {
	s.mu.Lock()
	s.entries[entryKey(e.Scope, e.ReportType, e.ParamsKey)] = *cloneEntry(*e)
	n := int64(len(s.entries))
	s.mu.Unlock()

	s.record(func(st *Stats) { st.TotalKeys = n })
	return nil
}

// Expire marks matching entries stale at at.
func (s *MemoryStore) Expire(_ context.Context, scope, reportType, paramsKey string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.entries {
		if e.Scope != scope ||
			(reportType != "" && e.ReportType != reportType) ||
			(paramsKey != "" && e.ParamsKey != paramsKey) {
			continue
		}
		t := at
		e.RevalidateAt = &t
		s.entries[k] = e
		n++
	}
	return n, nil
}

// Purge removes entries that went stale before cutoff.
func (s *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	var n int64
	for k, e := range s.entries {
		if e.RevalidateAt != nil && e.RevalidateAt.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	total := int64(len(s.entries))
	s.mu.Unlock()

	s.record(func(st *Stats) {
		st.Evictions += n
		st.TotalKeys = total
	})
	return n, nil
}

// Close drops every entry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.entries = make(map[string]models.CacheEntry)
	s.mu.Unlock()
	return nil
}

// GetStats returns a snapshot of the store statistics.
func (s *MemoryStore) GetStats() Stats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return Stats{
		Hits:      s.stats.Hits,
		Misses:    s.stats.Misses,
		Evictions: s.stats.Evictions,
		TotalKeys: s.stats.TotalKeys,
	}
}

// HitRate returns the hit rate as a percentage.
func (s *MemoryStore) HitRate() float64 {
	st := s.GetStats()
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total) * 100
}

func (s *MemoryStore) record(fn func(*Stats)) {
	s.stats.mu.Lock()
	fn(&s.stats)
	s.stats.mu.Unlock()
}

func cloneEntry(e models.CacheEntry) *models.CacheEntry {
	c := e
	c.Data = append([]byte(nil), e.Data...)
	if e.RevalidateAt != nil {
		t := *e.RevalidateAt
		c.RevalidateAt = &t
	}
	return &c
}
