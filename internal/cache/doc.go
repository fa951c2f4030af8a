// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

/*
Package cache memoizes computed reports keyed by scope, report type and a
canonical serialization of the report parameters.

# Expiry Policy

An entry stored for a scope that is not on the watch list never expires:
the game is finished and its reports are immutable. An entry for a watched
scope is revalidated after its TTL (one hour by default). Invalidate forces
matching entries stale by setting their revalidate time to now.

# Entry Stores

ReportCache delegates persistence to an EntryStore:

  - MemoryStore: process-local map, lost on restart
  - DuckDBStore: the report_cache table next to the world updates
  - BadgerStore: embedded key-value store with zstd compressed blobs

# Usage Example

	c := cache.New(cache.NewDuckDBStore(db), db, cache.Config{TTL: time.Hour})

	data, err := c.Fetch(ctx, "5", models.ReportHeatmap, filter, func(ctx context.Context) (any, error) {
	    recs, err := db.FindWorldUpdates(ctx, filter)
	    if err != nil {
	        return nil, err
	    }
	    return reports.TileHeatmap(recs, filter), nil
	})

Reads and writes are not transactional. Two concurrent misses both compute
the report and the last write wins, which is harmless because report
computation is deterministic.
*/
package cache
