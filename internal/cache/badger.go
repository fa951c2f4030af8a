// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/frontline/internal/logging"
	"github.com/tomtom215/frontline/internal/models"
)

const badgerPrefix = "report/"

// badgerValue is the stored form of an entry. Data is zstd compressed.
type badgerValue struct {
	Data         []byte     `json:"d"`
	CreatedAt    time.Time  `json:"c"`
	RevalidateAt *time.Time `json:"r,omitempty"`
}

// BadgerStore keeps entries in an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenBadgerStore opens the store at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	logging.Info().Str("path", path).Bool("in_memory", path == "").Msg("CACHE: badger store opened")
	return &BadgerStore{db: db, enc: enc, dec: dec}, nil
}

func badgerKey(scope, reportType, paramsKey string) []byte {
	return []byte(badgerPrefix + entryKey(scope, reportType, paramsKey))
}

// splitBadgerKey is the inverse of badgerKey.
func splitBadgerKey(k []byte) (scope, reportType, paramsKey string, ok bool) {
	parts := strings.SplitN(strings.TrimPrefix(string(k), badgerPrefix), "\x00", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func (s *BadgerStore) decode(scope, reportType, paramsKey string, val []byte) (*models.CacheEntry, error) {
	var v badgerValue
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	data, err := s.dec.DecodeAll(v.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress cache entry: %w", err)
	}
	return &models.CacheEntry{
		Scope:        scope,
		ReportType:   reportType,
		ParamsKey:    paramsKey,
		Data:         data,
		CreatedAt:    v.CreatedAt,
		RevalidateAt: v.RevalidateAt,
	}, nil
}

func (s *BadgerStore) Get(_ context.Context, scope, reportType, paramsKey string) (*models.CacheEntry, error) {
	var out *models.CacheEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(scope, reportType, paramsKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e, err := s.decode(scope, reportType, paramsKey, val)
			out = e
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Put(_ context.Context, e *models.CacheEntry) error {
	val, err := json.Marshal(badgerValue{
		Data:         s.enc.EncodeAll(e.Data, nil),
		CreatedAt:    e.CreatedAt.UTC(),
		RevalidateAt: e.RevalidateAt,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(badgerKey(e.Scope, e.ReportType, e.ParamsKey), val))
	})
}

type change struct {
	key []byte
	val []byte // nil deletes
}

// rewrite applies fn to every entry under scope, or every entry when scope
// is empty. fn reports whether the entry changed and returns its
// replacement, nil to delete it.
func (s *BadgerStore) rewrite(ctx context.Context, scope string, fn func(*models.CacheEntry) (*models.CacheEntry, bool)) (int64, error) {
	prefix := []byte(badgerPrefix)
	if scope != "" {
		prefix = []byte(badgerPrefix + scope + "\x00")
	}

	var n int64
	err := s.db.Update(func(txn *badger.Txn) error {
		changes, err := s.collect(ctx, txn, prefix, fn)
		if err != nil {
			return err
		}
		for _, c := range changes {
			if c.val == nil {
				err = txn.Delete(c.key)
			} else {
				err = txn.Set(c.key, c.val)
			}
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rewrite cache entries: %w", err)
	}
	return n, nil
}

// collect scans prefix and returns the writes fn asks for. Writes happen
// after the iterator is closed.
func (s *BadgerStore) collect(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(*models.CacheEntry) (*models.CacheEntry, bool)) ([]change, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var changes []change
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		sc, rt, pk, ok := splitBadgerKey(key)
		if !ok {
			continue
		}

		var e *models.CacheEntry
		if err := item.Value(func(val []byte) error {
			var derr error
			e, derr = s.decode(sc, rt, pk, val)
			return derr
		}); err != nil {
			logging.Warn().Err(err).Str("key", string(key)).Msg("CACHE: dropping unreadable badger entry")
			changes = append(changes, change{key: key})
			continue
		}

		next, changed := fn(e)
		if !changed {
			continue
		}
		if next == nil {
			changes = append(changes, change{key: key})
			continue
		}
		val, err := json.Marshal(badgerValue{
			Data:         s.enc.EncodeAll(next.Data, nil),
			CreatedAt:    next.CreatedAt,
			RevalidateAt: next.RevalidateAt,
		})
		if err != nil {
			return nil, fmt.Errorf("encode cache entry: %w", err)
		}
		changes = append(changes, change{key: key, val: val})
	}
	return changes, nil
}

func (s *BadgerStore) Expire(ctx context.Context, scope, reportType, paramsKey string, at time.Time) (int64, error) {
	at = at.UTC()
	return s.rewrite(ctx, scope, func(e *models.CacheEntry) (*models.CacheEntry, bool) {
		if (reportType != "" && e.ReportType != reportType) || (paramsKey != "" && e.ParamsKey != paramsKey) {
			return e, false
		}
		e.RevalidateAt = &at
		return e, true
	})
}

func (s *BadgerStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.rewrite(ctx, "", func(e *models.CacheEntry) (*models.CacheEntry, bool) {
		if e.RevalidateAt != nil && e.RevalidateAt.Before(cutoff) {
			return nil, true
		}
		return e, false
	})
}

// Close releases the codec and the database.
func (s *BadgerStore) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		logging.Warn().Err(err).Msg("CACHE: zstd encoder close failed")
	}
	return s.db.Close()
}
