// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MutationOp is the kind of a queued operation.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// MutationStatus is the queue-entry lifecycle state.
type MutationStatus string

const (
	StatusPending MutationStatus = "pending"
	StatusApplied MutationStatus = "applied"
	StatusFailed  MutationStatus = "failed"
)

// Mutation is a pending operation recorded while the authoritative write has
// not been confirmed remotely. Everything except Status/Error is immutable
// once enqueued.
type Mutation struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"clientId"`
	Collection string         `json:"collection"`
	Op         MutationOp     `json:"op"`
	RecordID   string         `json:"recordId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	Seq        int64          `json:"seq"`
	Status     MutationStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// Queue is the durable outbound mutation queue. Entries live in the
// offlineQueue namespace of the same backend as the record store; replay
// order is enqueue order (timestamp, then a local sequence number for
// same-millisecond entries).
type Queue struct {
	backend Backend
	mu      sync.Mutex
	nextSeq int64
	now     func() int64
}

// OpenQueue loads the queue from the backend, restoring the sequence counter
// from the highest persisted entry.
func OpenQueue(backend Backend) (*Queue, error) {
	q := &Queue{
		backend: backend,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
	recs, err := backend.Scan(ColOfflineQueue)
	if err != nil {
		return nil, fmt.Errorf("load mutation queue: %w", err)
	}
	for _, rec := range recs {
		m, err := mutationFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if m.Seq >= q.nextSeq {
			q.nextSeq = m.Seq + 1
		}
	}
	return q, nil
}

// Enqueue appends a pending mutation and returns its id. Validation failures
// (unknown op, empty collection) are rejected immediately and never queued.
func (q *Queue) Enqueue(m Mutation) (string, error) {
	switch m.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return "", fmt.Errorf("enqueue: unknown op %q", m.Op)
	}
	if m.Collection == "" {
		return "", fmt.Errorf("enqueue: %w: collection is required", ErrValidation)
	}
	if m.Op != OpCreate && m.RecordID == "" {
		return "", fmt.Errorf("enqueue: %w: %s requires a record id", ErrValidation, m.Op)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if m.ID == "" {
		m.ID = NewRecordID()
	}
	if m.Timestamp == 0 {
		m.Timestamp = q.now()
	}
	m.Seq = q.nextSeq
	q.nextSeq++
	m.Status = StatusPending
	m.Error = ""
	if err := q.backend.Put(ColOfflineQueue, m.toRecord()); err != nil {
		return "", fmt.Errorf("enqueue %s/%s: %w", m.Collection, m.RecordID, err)
	}
	return m.ID, nil
}

// Pending returns pending mutations in enqueue order.
func (q *Queue) Pending() ([]Mutation, error) {
	return q.list(func(m Mutation) bool { return m.Status == StatusPending })
}

// PendingCount reports how many mutations await confirmation; surfaced to
// the UI instead of raw errors.
func (q *Queue) PendingCount() (int, error) {
	pending, err := q.Pending()
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// MarkApplied transitions a mutation to applied.
func (q *Queue) MarkApplied(id string) error {
	return q.setStatus(id, StatusApplied, "")
}

// MarkFailed transitions a mutation to failed and records the reason.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.setStatus(id, StatusFailed, reason)
}

// Prune removes entries with the given status enqueued before olderThan.
func (q *Queue) Prune(olderThan int64, status MutationStatus) (int, error) {
	all, err := q.list(func(m Mutation) bool {
		return m.Status == status && m.Timestamp < olderThan
	})
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for _, m := range all {
		ok, err := q.backend.Delete(ColOfflineQueue, m.ID)
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", m.ID, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (q *Queue) setStatus(id string, status MutationStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, found, err := q.backend.Get(ColOfflineQueue, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("mutation %s: %w", id, ErrNotFound)
	}
	m, err := mutationFromRecord(rec)
	if err != nil {
		return err
	}
	m.Status = status
	m.Error = reason
	if err := q.backend.Put(ColOfflineQueue, m.toRecord()); err != nil {
		return fmt.Errorf("mark mutation %s: %w", id, err)
	}
	return nil
}

func (q *Queue) list(keep func(Mutation) bool) ([]Mutation, error) {
	recs, err := q.backend.Scan(ColOfflineQueue)
	if err != nil {
		return nil, err
	}
	out := make([]Mutation, 0, len(recs))
	for _, rec := range recs {
		m, err := mutationFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m Mutation) toRecord() Record {
	fields := map[string]any{
		"id":         m.ID,
		"clientId":   m.ClientID,
		"collection": m.Collection,
		"op":         string(m.Op),
		"recordId":   m.RecordID,
		"seq":        m.Seq,
		"status":     string(m.Status),
		"error":      m.Error,
	}
	if m.Payload != nil {
		fields["payload"] = cloneFields(m.Payload)
	}
	return Record{
		ID:        m.ID,
		Fields:    fields,
		Timestamp: m.Timestamp,
		Hash:      ContentHash(fields),
	}
}

func mutationFromRecord(rec Record) (Mutation, error) {
	f := rec.Fields
	m := Mutation{
		ID:         rec.ID,
		ClientID:   stringField(f, "clientId"),
		Collection: stringField(f, "collection"),
		Op:         MutationOp(stringField(f, "op")),
		RecordID:   stringField(f, "recordId"),
		Timestamp:  rec.Timestamp,
		Seq:        int64Field(f, "seq"),
		Status:     MutationStatus(stringField(f, "status")),
		Error:      stringField(f, "error"),
	}
	if p, ok := f["payload"].(map[string]any); ok {
		m.Payload = cloneFields(p)
	}
	if m.Collection == "" {
		return Mutation{}, fmt.Errorf("corrupt queue entry %s: missing collection", rec.ID)
	}
	return m, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// int64Field tolerates the float64 that JSON decoding produces for numbers.
func int64Field(fields map[string]any, key string) int64 {
	switch v := fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
