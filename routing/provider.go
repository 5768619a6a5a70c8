// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Provider computes a route between two coordinates. Implementations differ
// in request/response shape; all normalize to Route.
type Provider interface {
	Name() string
	Route(ctx context.Context, from, to LatLng) (Route, error)
}

// OSRMProvider talks to an OSRM-compatible HTTP routing service.
type OSRMProvider struct {
	BaseURL string
	Profile string // defaults to "driving"
	HTTP    *http.Client
}

func (p *OSRMProvider) Name() string { return "osrm" }

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lng, lat]
		} `json:"geometry"`
		Legs []struct {
			Steps []struct {
				Name     string  `json:"name"`
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route fetches and normalizes an OSRM route. Network and HTTP failures are
// transient; an explicit error code from the service is not.
func (p *OSRMProvider) Route(ctx context.Context, from, to LatLng) (Route, error) {
	profile := p.Profile
	if profile == "" {
		profile = "driving"
	}
	url := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=full&geometries=geojson&steps=true",
		p.BaseURL, profile, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, fmt.Errorf("osrm request: %w", err)
	}
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Route{}, &syncstore.TransientError{Err: fmt.Errorf("osrm fetch: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Route{}, &syncstore.TransientError{Err: fmt.Errorf("osrm status %d", resp.StatusCode)}
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Route{}, &syncstore.TransientError{Err: fmt.Errorf("osrm decode: %w", err)}
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm: no route (code %q)", body.Code)
	}

	best := body.Routes[0]
	route := Route{
		From:     from,
		To:       to,
		Distance: best.Distance,
		Duration: best.Duration,
		Geometry: make([]LatLng, 0, len(best.Geometry.Coordinates)),
	}
	for _, coord := range best.Geometry.Coordinates {
		if len(coord) < 2 {
			continue
		}
		route.Geometry = append(route.Geometry, LatLng{Lat: coord[1], Lng: coord[0]})
	}
	for _, leg := range best.Legs {
		for _, s := range leg.Steps {
			route.Steps = append(route.Steps, Step{Name: s.Name, Distance: s.Distance, Duration: s.Duration})
		}
	}
	return route, nil
}

// StraightLineProvider approximates a route as the great-circle line between
// the endpoints. It needs no network and serves as the offline fallback when
// no routing service is configured.
type StraightLineProvider struct {
	SpeedKmh float64 // assumed travel speed; defaults to 30
	Points   int     // interpolated geometry points; defaults to 16
}

func (p *StraightLineProvider) Name() string { return "straight-line" }

func (p *StraightLineProvider) Route(_ context.Context, from, to LatLng) (Route, error) {
	speed := p.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	points := p.Points
	if points < 2 {
		points = 16
	}
	distance := haversineMeters(from, to)
	geometry := make([]LatLng, points)
	for i := 0; i < points; i++ {
		f := float64(i) / float64(points-1)
		geometry[i] = LatLng{
			Lat: from.Lat + (to.Lat-from.Lat)*f,
			Lng: from.Lng + (to.Lng-from.Lng)*f,
		}
	}
	duration := distance / (speed * 1000 / 3600)
	return Route{
		From:     from,
		To:       to,
		Geometry: geometry,
		Distance: distance,
		Duration: duration,
		Steps: []Step{{
			Name:     "head straight to destination",
			Distance: distance,
			Duration: duration,
		}},
	}, nil
}

const earthRadiusMeters = 6371000

func haversineMeters(a, b LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

var _ Provider = (*OSRMProvider)(nil)
var _ Provider = (*StraightLineProvider)(nil)
