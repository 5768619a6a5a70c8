// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"fmt"
)

// MergeResult reports what the merge engine did with an incoming record.
type MergeResult int

const (
	// MergeSkipped means the incoming record was a duplicate or stale; the
	// local record wins and store state is unchanged.
	MergeSkipped MergeResult = iota
	// MergeApplied means the incoming record was inserted or overwrote the
	// local record.
	MergeApplied
)

func (r MergeResult) String() string {
	if r == MergeApplied {
		return "applied"
	}
	return "skipped"
}

// Merge reconciles an incoming record against local state. One rule for all
// three transports (server snapshot, peer exchange, cross-context
// broadcast):
//
//  1. no local record            -> insert, applied
//  2. identical hash             -> duplicate, skipped
//  3. strictly newer timestamp   -> overwrite, applied
//  4. equal timestamp            -> lexicographic hash tie-break: the
//     greater hash wins, so both sides of an exchange converge on the same
//     record deterministically
//  5. otherwise                  -> stale, skipped (local wins)
//
// Applying the same record twice yields applied then skipped; redundant
// delivery over the mesh is therefore a no-op.
func (s *Store) Merge(collection string, incoming Record) (MergeResult, error) {
	if incoming.ID == "" {
		return MergeSkipped, fmt.Errorf("merge into %s: record has no id", collection)
	}
	mu := s.collectionLock(collection)
	mu.Lock()
	local, found, err := s.backend.Get(collection, incoming.ID)
	if err != nil {
		mu.Unlock()
		return MergeSkipped, err
	}
	if found {
		if incoming.Hash == local.Hash {
			mu.Unlock()
			return MergeSkipped, nil
		}
		wins := incoming.Timestamp > local.Timestamp ||
			(incoming.Timestamp == local.Timestamp && incoming.Hash > local.Hash)
		if !wins {
			mu.Unlock()
			s.logger.Debug("Merge ignored stale record",
				"collection", collection, "id", incoming.ID,
				"incoming_ts", incoming.Timestamp, "local_ts", local.Timestamp)
			return MergeSkipped, nil
		}
	}
	if err := s.backend.Put(collection, incoming.Clone()); err != nil {
		mu.Unlock()
		return MergeSkipped, fmt.Errorf("merge into %s/%s: %w", collection, incoming.ID, err)
	}
	mu.Unlock()

	action := ActionCreated
	if found {
		action = ActionUpdated
	}
	s.notify(collection, action, incoming)
	return MergeApplied, nil
}
