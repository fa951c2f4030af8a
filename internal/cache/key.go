// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cache

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

const emptyParamsKey = "{}"

// CanonicalKey serializes params with object keys sorted at every level,
// so equal parameter sets always produce the same key. Nil and empty
// parameters both map to "{}".
func CanonicalKey(params any) (string, error) {
	if params == nil {
		return emptyParamsKey, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode cache params: %w", err)
	}

	// Round-trip through a generic value so struct field order and map
	// iteration order stop mattering. Numbers stay as their literal text.
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode cache params: %w", err)
	}
	if v == nil {
		return emptyParamsKey, nil
	}

	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode canonical cache params: %w", err)
	}
	return string(out), nil
}

// entryKey joins the three parts of a cache key for stores with flat keys.
func entryKey(scope, reportType, paramsKey string) string {
	return scope + "\x00" + reportType + "\x00" + paramsKey
}
