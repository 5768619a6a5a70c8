// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing computes routes between coordinates through pluggable
// providers and caches results in the record store, falling back to cached
// routes when providers are unreachable.
package routing

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Route sources, reported so callers know how fresh a result is.
const (
	SourceCache         = "cache"
	SourceOnline        = "online"
	SourceCacheFallback = "cache-fallback"
	SourceCacheOffline  = "cache-offline"
)

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Step is one leg instruction of a route.
type Step struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"` // meters
	Duration float64 `json:"duration"` // seconds
}

// Route is the provider-agnostic result shape. Every provider's response is
// normalized to this before caching or returning.
type Route struct {
	From     LatLng   `json:"from"`
	To       LatLng   `json:"to"`
	Geometry []LatLng `json:"geometry"`
	Distance float64  `json:"distance"` // meters
	Duration float64  `json:"duration"` // seconds
	Steps    []Step   `json:"steps,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// keyPrecision rounds coordinates to ~11m so near-duplicate queries share a
// cache entry.
const keyPrecision = 4

func roundCoord(v float64) float64 {
	scale := math.Pow10(keyPrecision)
	return math.Round(v*scale) / scale
}

// CacheKey derives the cache id for an origin-destination pair. The rounding
// is deliberately lossy.
func CacheKey(from, to LatLng) string {
	return syncstore.ContentHash(map[string]any{
		"from": []float64{roundCoord(from.Lat), roundCoord(from.Lng)},
		"to":   []float64{roundCoord(to.Lat), roundCoord(to.Lng)},
	})
}

// routeFields flattens a route into record fields. Going through JSON keeps
// the shape identical to what a JSON-backed store hands back on read.
func routeFields(id string, route Route) (map[string]any, error) {
	raw, err := json.Marshal(route)
	if err != nil {
		return nil, fmt.Errorf("encode route: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode route: %w", err)
	}
	fields["id"] = id
	return fields, nil
}

func routeFromRecord(rec syncstore.Record) (Route, error) {
	raw, err := json.Marshal(rec.Fields)
	if err != nil {
		return Route{}, fmt.Errorf("decode route %s: %w", rec.ID, err)
	}
	var route Route
	if err := json.Unmarshal(raw, &route); err != nil {
		return Route{}, fmt.Errorf("decode route %s: %w", rec.ID, err)
	}
	return route, nil
}
