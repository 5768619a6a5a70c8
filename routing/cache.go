// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"log/slog"
	"time"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// DefaultTTL bounds how long a cached route is served. Expiry is lazy: a
// stale entry is deleted on the read that finds it, not swept in the
// background. Route volume is low enough that this never accumulates.
const DefaultTTL = 7 * 24 * time.Hour

// Cache stores computed routes in the routes collection, keyed by the
// rounded origin-destination hash.
type Cache struct {
	store  *syncstore.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() int64
}

// NewCache creates a route cache over the store. ttl <= 0 selects DefaultTTL.
func NewCache(store *syncstore.Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Put caches a route for the origin-destination pair, overwriting any
// previous entry for the same rounded pair.
func (c *Cache) Put(route Route) error {
	id := CacheKey(route.From, route.To)
	fields, err := routeFields(id, route)
	if err != nil {
		return err
	}
	_, err = c.store.Put(syncstore.ColRoutes, fields)
	return err
}

// Get returns the cached route for the pair, or found=false. A stale entry
// is removed and reported as absent.
func (c *Cache) Get(from, to LatLng) (Route, bool, error) {
	id := CacheKey(from, to)
	rec, found, err := c.store.Get(syncstore.ColRoutes, id)
	if err != nil || !found {
		return Route{}, false, err
	}
	if c.now()-rec.Timestamp > c.ttl.Milliseconds() {
		if _, err := c.store.Delete(syncstore.ColRoutes, id); err != nil {
			c.logger.Error("Stale route delete failed", "id", id, "error", err)
		}
		return Route{}, false, nil
	}
	route, err := routeFromRecord(rec)
	if err != nil {
		return Route{}, false, err
	}
	return route, true, nil
}
