// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncstore implements the local versioned record store that every
// sync transport converges on: content hashing, pluggable durable backends,
// the last-writer-wins merge engine and the offline mutation queue.
package syncstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Well-known collection names. Each collection is an independent namespace;
// there is no cross-collection foreign-key enforcement.
const (
	ColRequests     = "requests"
	ColVolunteers   = "volunteers"
	ColShelters     = "shelters"
	ColRoutes       = "routes"
	ColPeers        = "peers"
	ColOfflineQueue = "offlineQueue"
)

// Collections lists every record collection that participates in sync
// exchanges (the mutation queue is local-only and never exchanged).
var Collections = []string{ColRequests, ColVolunteers, ColShelters, ColRoutes, ColPeers}

// Record is the envelope shared by every collection entry. Fields carries the
// collection-specific payload; Hash is a pure function of Fields and is the
// change-detection fingerprint used by the merge engine.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	Timestamp int64          `json:"timestamp"` // ms since epoch
	Hash      string         `json:"hash"`
}

// NewRecordID returns a time+random identifier. IDs are assigned once at
// creation and never reassigned.
func NewRecordID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively fatal everywhere else too;
		// degrade to a time-only suffix rather than abort the write.
		return fmt.Sprintf("%d-%06d", time.Now().UnixMilli(), time.Now().Nanosecond()%1000000)
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf[:]))
}

// Clone returns a deep copy of the record. Scan results and watcher payloads
// are always clones so callers can mutate them freely.
func (r Record) Clone() Record {
	out := r
	out.Fields = cloneFields(r.Fields)
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Action describes what happened to a record, as reported to watchers and
// broadcast receivers.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)
