// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WatchFunc observes committed writes. It is invoked synchronously after the
// write is durable; panics are caught and logged, never propagated to the
// writer.
type WatchFunc func(collection string, action Action, rec Record)

// Store is the local record store every transport converges on. Writes are
// serialized per collection (one mutex per collection) so merge decisions and
// the per-id timestamp invariant never race; reads return snapshot copies.
type Store struct {
	backend Backend
	logger  *slog.Logger
	origin  string
	now     func() int64

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	watchMu   sync.RWMutex
	watchers  map[string]map[int]WatchFunc
	nextWatch int

	busMu       sync.Mutex
	broadcaster Broadcaster
	unsubBus    func()
}

// NewStore creates a record store over the given backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		logger:   logger,
		origin:   uuid.NewString(),
		now:      func() int64 { return time.Now().UnixMilli() },
		locks:    make(map[string]*sync.Mutex),
		watchers: make(map[string]map[int]WatchFunc),
	}
}

// Origin identifies this store instance on the broadcast side-channel.
func (s *Store) Origin() string { return s.origin }

func (s *Store) collectionLock(collection string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu := s.locks[collection]
	if mu == nil {
		mu = &sync.Mutex{}
		s.locks[collection] = mu
	}
	return mu
}

// Put writes fields as a record of the collection, assigning id (when
// absent), a monotonic per-id timestamp and a fresh content hash. The write
// is idempotent at the storage layer: an existing id is overwritten.
func (s *Store) Put(collection string, fields map[string]any) (Record, error) {
	fields = cloneFields(fields)
	if fields == nil {
		fields = make(map[string]any)
	}
	id, _ := fields["id"].(string)
	if id == "" {
		id = NewRecordID()
	}
	fields["id"] = id

	mu := s.collectionLock(collection)
	mu.Lock()
	existing, found, err := s.backend.Get(collection, id)
	if err != nil {
		mu.Unlock()
		return Record{}, err
	}
	ts := s.now()
	if found && existing.Timestamp >= ts {
		// A same-millisecond rewrite must still advance; merges compare
		// timestamps strictly.
		ts = existing.Timestamp + 1
	}
	rec := Record{
		ID:        id,
		Fields:    fields,
		Timestamp: ts,
		Hash:      ContentHash(fields),
	}
	if err := s.backend.Put(collection, rec); err != nil {
		mu.Unlock()
		return Record{}, fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	mu.Unlock()

	action := ActionCreated
	if found {
		action = ActionUpdated
	}
	s.notify(collection, action, rec)
	s.publish(collection, action, rec)
	return rec.Clone(), nil
}

// Get returns a copy of the record, or found=false.
func (s *Store) Get(collection, id string) (Record, bool, error) {
	return s.backend.Get(collection, id)
}

// Delete removes the record and reports whether it existed.
func (s *Store) Delete(collection, id string) (bool, error) {
	mu := s.collectionLock(collection)
	mu.Lock()
	existing, found, err := s.backend.Get(collection, id)
	if err != nil {
		mu.Unlock()
		return false, err
	}
	if !found {
		mu.Unlock()
		return false, nil
	}
	if _, err := s.backend.Delete(collection, id); err != nil {
		mu.Unlock()
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	mu.Unlock()

	s.notify(collection, ActionDeleted, existing)
	s.publish(collection, ActionDeleted, existing)
	return true, nil
}

// Scan returns a snapshot copy of the collection, optionally filtered.
// Mutating the result does not affect stored state.
func (s *Store) Scan(collection string, pred func(Record) bool) ([]Record, error) {
	recs, err := s.backend.Scan(collection)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if pred == nil || pred(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Watch registers fn for committed writes/deletes of the collection and
// returns an unsubscribe func.
func (s *Store) Watch(collection string, fn WatchFunc) (unsubscribe func()) {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	col := s.watchers[collection]
	if col == nil {
		col = make(map[int]WatchFunc)
		s.watchers[collection] = col
	}
	col[id] = fn
	s.watchMu.Unlock()
	return func() {
		s.watchMu.Lock()
		delete(s.watchers[collection], id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify(collection string, action Action, rec Record) {
	s.watchMu.RLock()
	fns := make([]WatchFunc, 0, len(s.watchers[collection]))
	for _, fn := range s.watchers[collection] {
		fns = append(fns, fn)
	}
	s.watchMu.RUnlock()
	for _, fn := range fns {
		s.invokeWatcher(fn, collection, action, rec.Clone())
	}
}

func (s *Store) invokeWatcher(fn WatchFunc, collection string, action Action, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Watcher panicked", "collection", collection, "action", action, "panic", r)
		}
	}()
	fn(collection, action, rec)
}

// AttachBroadcaster connects the store to the cross-context side-channel.
// Local writes are published on it; received events are re-applied through
// the merge engine (deletes through the delete path), never blind-written.
func (s *Store) AttachBroadcaster(b Broadcaster) {
	s.busMu.Lock()
	if s.unsubBus != nil {
		s.unsubBus()
	}
	s.broadcaster = b
	s.busMu.Unlock()
	if b == nil {
		return
	}
	unsub := b.Subscribe(func(ev Event) {
		s.ApplyRemote(ev)
	})
	s.busMu.Lock()
	s.unsubBus = unsub
	s.busMu.Unlock()
}

// DetachBroadcaster disconnects the store from the side-channel.
func (s *Store) DetachBroadcaster() {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	if s.unsubBus != nil {
		s.unsubBus()
		s.unsubBus = nil
	}
	s.broadcaster = nil
}

// ApplyRemote applies a broadcast event originating elsewhere. Creates and
// updates go through Merge; deletes remove the record without re-publishing.
func (s *Store) ApplyRemote(ev Event) {
	if ev.Origin == s.origin {
		return
	}
	switch ev.Action {
	case ActionDeleted:
		mu := s.collectionLock(ev.Collection)
		mu.Lock()
		existing, found, err := s.backend.Get(ev.Collection, ev.Record.ID)
		if err == nil && found {
			_, err = s.backend.Delete(ev.Collection, ev.Record.ID)
		}
		mu.Unlock()
		if err != nil {
			s.logger.Error("Remote delete failed", "collection", ev.Collection, "id", ev.Record.ID, "error", err)
			return
		}
		if found {
			s.notify(ev.Collection, ActionDeleted, existing)
		}
	default:
		if _, err := s.Merge(ev.Collection, ev.Record); err != nil {
			s.logger.Error("Remote merge failed", "collection", ev.Collection, "id", ev.Record.ID, "error", err)
		}
	}
}

func (s *Store) publish(collection string, action Action, rec Record) {
	s.busMu.Lock()
	b := s.broadcaster
	s.busMu.Unlock()
	if b == nil {
		return
	}
	b.Publish(Event{Collection: collection, Action: action, Record: rec.Clone(), Origin: s.origin})
}
