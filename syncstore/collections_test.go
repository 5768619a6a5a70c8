// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCreateRequiredFields(t *testing.T) {
	err := ValidateCreate(ColRequests, map[string]any{"name": "A", "location": "L"})
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)

	assert.ErrorIs(t, ValidateCreate(ColShelters, map[string]any{
		"name": "", "location": "L", "capacity": 40,
	}), ErrValidation, "empty string does not satisfy a required field")

	assert.NoError(t, ValidateCreate(ColVolunteers, map[string]any{"name": "V", "contact": "c"}))
	assert.NoError(t, ValidateCreate(ColRoutes, map[string]any{}), "collections without requirements accept anything")
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "Request", KindName(ColRequests))
	assert.Equal(t, "Shelter", KindName(ColShelters))
	assert.Equal(t, "Record", KindName("unknownCollection"))
}

func TestRequestViewRoundTrip(t *testing.T) {
	store := NewStore(NewMemBackend(), slog.Default())
	draft := Request{Name: "Asha", Location: "Sector 4", Description: "water", Status: "open"}

	rec, err := store.Put(ColRequests, draft.Fields())
	require.NoError(t, err)

	req := RequestFromRecord(rec)
	assert.Equal(t, rec.ID, req.ID)
	assert.Equal(t, rec.Timestamp, req.Timestamp)
	assert.Equal(t, rec.Hash, req.Hash)
	assert.Equal(t, draft.Name, req.Name)
	assert.Equal(t, draft.Location, req.Location)
	assert.Equal(t, draft.Description, req.Description)
	assert.Equal(t, draft.Status, req.Status)

	// Flattening the projection rewrites the same record, not a new one.
	again, err := store.Put(ColRequests, req.Fields())
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
}

func TestVolunteerViewOmitsEmptyOptionals(t *testing.T) {
	v := Volunteer{Name: "Ravi", Contact: "ravi@example.org"}
	fields := v.Fields()
	assert.NotContains(t, fields, "skills")
	assert.NotContains(t, fields, "id")

	v.Skills = "medic"
	assert.Equal(t, "medic", v.Fields()["skills"])
}

func TestShelterViewCoercesNumbers(t *testing.T) {
	// JSON-backed stores hand numbers back as float64.
	rec := Record{ID: "s1", Fields: map[string]any{
		"id": "s1", "name": "Town Hall", "location": "Main St",
		"capacity": float64(120), "occupied": int64(35),
	}}
	s := ShelterFromRecord(rec)
	assert.Equal(t, int64(120), s.Capacity)
	assert.Equal(t, int64(35), s.Occupied)

	fields := s.Fields()
	assert.Equal(t, int64(120), fields["capacity"])
	assert.Equal(t, int64(35), fields["occupied"])
}
