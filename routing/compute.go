// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Options tunes a single ComputeRoute call.
type Options struct {
	PreferCache bool // serve a valid cached route without contacting the provider
	Offline     bool // never contact the provider
}

// Config bounds provider retries.
type Config struct {
	MaxAttempts    int
	BackoffBase    time.Duration // doubles each attempt
	BackoffMax     time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig returns the retry defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Planner computes routes through a provider with a cached fallback.
type Planner struct {
	provider Provider
	cache    *Cache
	config   *Config
	logger   *slog.Logger
}

// NewPlanner wires a provider to a route cache. config nil selects defaults.
func NewPlanner(provider Provider, cache *Cache, config *Config, logger *slog.Logger) *Planner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{provider: provider, cache: cache, config: config, logger: logger}
}

// ComputeRoute resolves a route for the pair:
//  1. a valid cached route, when PreferCache is set;
//  2. the provider, with bounded backoff retries; successes are cached;
//  3. on exhausted retries, the cached route if one is still valid;
//  4. offline, the cached route or ErrUnavailable.
//
// The returned route's Source says which rung answered.
func (p *Planner) ComputeRoute(ctx context.Context, from, to LatLng, opts Options) (Route, error) {
	if opts.PreferCache {
		if route, ok, err := p.cache.Get(from, to); err == nil && ok {
			route.Source = SourceCache
			return route, nil
		}
	}

	if opts.Offline {
		route, ok, err := p.cache.Get(from, to)
		if err != nil {
			return Route{}, err
		}
		if !ok {
			return Route{}, fmt.Errorf("route %v -> %v offline with no cache: %w", from, to, syncstore.ErrUnavailable)
		}
		route.Source = SourceCacheOffline
		return route, nil
	}

	route, fetchErr := p.fetchWithRetry(ctx, from, to)
	if fetchErr == nil {
		route.Source = SourceOnline
		if err := p.cache.Put(route); err != nil {
			p.logger.Error("Route cache write failed", "error", err)
		}
		return route, nil
	}

	if cached, ok, err := p.cache.Get(from, to); err == nil && ok {
		p.logger.Warn("Provider unreachable, serving cached route",
			"provider", p.provider.Name(), "error", fetchErr)
		cached.Source = SourceCacheFallback
		return cached, nil
	}
	return Route{}, fetchErr
}

func (p *Planner) fetchWithRetry(ctx context.Context, from, to LatLng) (Route, error) {
	backoff := p.config.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
		route, err := p.provider.Route(attemptCtx, from, to)
		cancel()
		if err == nil {
			return route, nil
		}
		lastErr = err
		p.logger.Debug("Route attempt failed",
			"provider", p.provider.Name(), "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return Route{}, ctx.Err()
		}
		if attempt == p.config.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Route{}, ctx.Err()
		}
		backoff *= 2
		if backoff > p.config.BackoffMax {
			backoff = p.config.BackoffMax
		}
	}
	return Route{}, fmt.Errorf("route provider %s failed after %d attempts: %w",
		p.provider.Name(), p.config.MaxAttempts, lastErr)
}
