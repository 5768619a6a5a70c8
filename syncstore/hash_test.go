// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashStableAcrossInsertionOrder(t *testing.T) {
	a := map[string]any{}
	a["name"] = "Flood relief"
	a["location"] = "sector 7"
	a["priority"] = float64(2)

	b := map[string]any{}
	b["priority"] = float64(2)
	b["location"] = "sector 7"
	b["name"] = "Flood relief"

	require.Equal(t, ContentHash(a), ContentHash(b))
}

func TestContentHashNestedDeterminism(t *testing.T) {
	a := map[string]any{
		"geo":  map[string]any{"lat": 12.5, "lng": 77.6},
		"tags": []any{"water", "food"},
	}
	b := map[string]any{
		"tags": []any{"water", "food"},
		"geo":  map[string]any{"lng": 77.6, "lat": 12.5},
	}
	require.Equal(t, ContentHash(a), ContentHash(b))

	// Slice order is significant.
	c := map[string]any{
		"geo":  map[string]any{"lat": 12.5, "lng": 77.6},
		"tags": []any{"food", "water"},
	}
	assert.NotEqual(t, ContentHash(a), ContentHash(c))
}

func TestContentHashChangesWithAnyValue(t *testing.T) {
	base := map[string]any{"name": "A", "location": "B"}
	h := ContentHash(base)

	changed := map[string]any{"name": "A", "location": "C"}
	assert.NotEqual(t, h, ContentHash(changed))
}

func TestContentHashExcludesHashField(t *testing.T) {
	plain := map[string]any{"name": "A"}
	stamped := map[string]any{"name": "A", "hash": "deadbeef"}
	require.Equal(t, ContentHash(plain), ContentHash(stamped))
}

func TestContentHashIsFixedLengthHex(t *testing.T) {
	h := ContentHash(map[string]any{"name": "A"})
	require.Len(t, h, 64)
	require.Equal(t, strings.ToLower(h), h)
}

func TestContentHashFallbackOnUnserializableValue(t *testing.T) {
	// A channel cannot be serialized; the write must still get a locally
	// unique fingerprint rather than an error.
	h1 := ContentHash(map[string]any{"bad": make(chan int)})
	h2 := ContentHash(map[string]any{"bad": make(chan int)})
	require.NotEmpty(t, h1)
	require.NotEmpty(t, h2)
	assert.NotEqual(t, h1, h2)
}
