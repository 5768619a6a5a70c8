// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

// Typed views over the generic record envelope. Records stay schemaless on
// the wire and in storage; these conversions give callers a concrete shape
// per collection without inheritance.

// requiredFields lists fields a create must carry, per collection.
var requiredFields = map[string][]string{
	ColRequests:   {"name", "location", "description"},
	ColVolunteers: {"name", "contact"},
	ColShelters:   {"name", "location", "capacity"},
}

// kindNames maps a collection to its singular display name, used in
// not-found error messages.
var kindNames = map[string]string{
	ColRequests:   "Request",
	ColVolunteers: "Volunteer",
	ColShelters:   "Shelter",
	ColRoutes:     "Route",
	ColPeers:      "Peer",
}

// KindName returns the singular display name of a collection.
func KindName(collection string) string {
	if name, ok := kindNames[collection]; ok {
		return name
	}
	return "Record"
}

// ValidateCreate checks the required fields of a create payload. A failure
// is final: the payload is rejected immediately and never queued.
func ValidateCreate(collection string, fields map[string]any) error {
	for _, key := range requiredFields[collection] {
		v, ok := fields[key]
		if !ok || v == nil {
			return &ValidationError{Collection: collection, Field: key}
		}
		if s, isStr := v.(string); isStr && s == "" {
			return &ValidationError{Collection: collection, Field: key}
		}
	}
	return nil
}

// Envelope is the versioning header shared by all typed views.
type Envelope struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

func envelopeOf(rec Record) Envelope {
	return Envelope{ID: rec.ID, Timestamp: rec.Timestamp, Hash: rec.Hash}
}

// Request is a help request raised from the field.
type Request struct {
	Envelope
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
}

// RequestFromRecord projects a requests record onto its typed view.
func RequestFromRecord(rec Record) Request {
	return Request{
		Envelope:    envelopeOf(rec),
		Name:        stringField(rec.Fields, "name"),
		Location:    stringField(rec.Fields, "location"),
		Description: stringField(rec.Fields, "description"),
		Status:      stringField(rec.Fields, "status"),
	}
}

// Fields flattens the view back to the generic map the store and the sync
// wire carry. Empty optional fields are omitted; timestamp and hash are the
// store's to assign.
func (r Request) Fields() map[string]any {
	fields := map[string]any{
		"name":        r.Name,
		"location":    r.Location,
		"description": r.Description,
	}
	if r.ID != "" {
		fields["id"] = r.ID
	}
	if r.Status != "" {
		fields["status"] = r.Status
	}
	return fields
}

// Volunteer is an offer of help.
type Volunteer struct {
	Envelope
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Skills  string `json:"skills,omitempty"`
}

// VolunteerFromRecord projects a volunteers record onto its typed view.
func VolunteerFromRecord(rec Record) Volunteer {
	return Volunteer{
		Envelope: envelopeOf(rec),
		Name:     stringField(rec.Fields, "name"),
		Contact:  stringField(rec.Fields, "contact"),
		Skills:   stringField(rec.Fields, "skills"),
	}
}

// Fields flattens the view back to the generic map.
func (v Volunteer) Fields() map[string]any {
	fields := map[string]any{
		"name":    v.Name,
		"contact": v.Contact,
	}
	if v.ID != "" {
		fields["id"] = v.ID
	}
	if v.Skills != "" {
		fields["skills"] = v.Skills
	}
	return fields
}

// Shelter is a place that can take people in.
type Shelter struct {
	Envelope
	Name     string `json:"name"`
	Location string `json:"location"`
	Capacity int64  `json:"capacity"`
	Occupied int64  `json:"occupied,omitempty"`
}

// ShelterFromRecord projects a shelters record onto its typed view.
func ShelterFromRecord(rec Record) Shelter {
	return Shelter{
		Envelope: envelopeOf(rec),
		Name:     stringField(rec.Fields, "name"),
		Location: stringField(rec.Fields, "location"),
		Capacity: int64Field(rec.Fields, "capacity"),
		Occupied: int64Field(rec.Fields, "occupied"),
	}
}

// Fields flattens the view back to the generic map.
func (s Shelter) Fields() map[string]any {
	fields := map[string]any{
		"name":     s.Name,
		"location": s.Location,
		"capacity": s.Capacity,
	}
	if s.ID != "" {
		fields["id"] = s.ID
	}
	if s.Occupied != 0 {
		fields["occupied"] = s.Occupied
	}
	return fields
}
