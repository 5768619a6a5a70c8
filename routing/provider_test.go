// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

const osrmFixture = `{
  "code": "Ok",
  "routes": [{
    "distance": 1523.4,
    "duration": 312.8,
    "geometry": {"coordinates": [[77.5946, 12.9716], [77.6000, 12.9750], [77.6100, 12.9800]]},
    "legs": [{"steps": [
      {"name": "MG Road", "distance": 800.0, "duration": 160.0},
      {"name": "Brigade Road", "distance": 723.4, "duration": 152.8}
    ]}]
  }]
}`

func TestOSRMProviderNormalizesResponse(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(osrmFixture))
	}))
	defer server.Close()

	provider := &OSRMProvider{BaseURL: server.URL}
	from := LatLng{Lat: 12.9716, Lng: 77.5946}
	to := LatLng{Lat: 12.9800, Lng: 77.6100}
	route, err := provider.Route(context.Background(), from, to)
	require.NoError(t, err)

	assert.Contains(t, gotPath, "/route/v1/driving/")
	assert.Equal(t, 1523.4, route.Distance)
	assert.Equal(t, 312.8, route.Duration)
	// GeoJSON coordinates are [lng, lat]; the normalized shape is lat/lng.
	require.Len(t, route.Geometry, 3)
	assert.Equal(t, LatLng{Lat: 12.9716, Lng: 77.5946}, route.Geometry[0])
	assert.Equal(t, LatLng{Lat: 12.9800, Lng: 77.6100}, route.Geometry[2])
	require.Len(t, route.Steps, 2)
	assert.Equal(t, "MG Road", route.Steps[0].Name)
}

func TestOSRMProviderErrorCodeIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": "NoRoute", "routes": []}`))
	}))
	defer server.Close()

	provider := &OSRMProvider{BaseURL: server.URL}
	_, err := provider.Route(context.Background(), LatLng{}, LatLng{Lat: 1})
	require.Error(t, err)
	assert.False(t, syncstore.IsTransient(err), "a definitive no-route answer should not be retried")
}

func TestOSRMProviderHTTPFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := &OSRMProvider{BaseURL: server.URL}
	_, err := provider.Route(context.Background(), LatLng{}, LatLng{Lat: 1})
	require.Error(t, err)
	assert.True(t, syncstore.IsTransient(err))
}

func TestStraightLineProvider(t *testing.T) {
	provider := &StraightLineProvider{}
	from := LatLng{Lat: 12.9716, Lng: 77.5946} // Bengaluru
	to := LatLng{Lat: 13.0827, Lng: 80.2707}   // Chennai

	route, err := provider.Route(context.Background(), from, to)
	require.NoError(t, err)

	// Great-circle distance Bengaluru-Chennai is roughly 290 km.
	assert.InDelta(t, 290000, route.Distance, 10000)
	assert.Positive(t, route.Duration)
	require.GreaterOrEqual(t, len(route.Geometry), 2)
	assert.Equal(t, from, route.Geometry[0])
	assert.Equal(t, to, route.Geometry[len(route.Geometry)-1])
	require.Len(t, route.Steps, 1)
}
