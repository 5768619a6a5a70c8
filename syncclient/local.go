// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Local write path: every UI mutation lands in the record store immediately
// and is queued for eventual sync. Validation failures are rejected up front
// and never queued.

// CreateLocal stores a new record locally and enqueues a create mutation.
func (c *Client) CreateLocal(collection string, fields map[string]any) (syncstore.Record, error) {
	if err := syncstore.ValidateCreate(collection, fields); err != nil {
		return syncstore.Record{}, err
	}
	rec, err := c.store.Put(collection, fields)
	if err != nil {
		return syncstore.Record{}, err
	}
	_, err = c.queue.Enqueue(syncstore.Mutation{
		ClientID:   c.ClientID,
		Collection: collection,
		Op:         syncstore.OpCreate,
		RecordID:   rec.ID,
		Payload:    rec.Fields,
		Timestamp:  rec.Timestamp,
	})
	return rec, err
}

// UpdateLocal merges fields into the local record and enqueues an update.
func (c *Client) UpdateLocal(collection, id string, fields map[string]any) (syncstore.Record, error) {
	existing, found, err := c.store.Get(collection, id)
	if err != nil {
		return syncstore.Record{}, err
	}
	if !found {
		return syncstore.Record{}, syncstore.ErrNotFound
	}
	merged := existing.Clone().Fields
	for k, v := range fields {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	rec, err := c.store.Put(collection, merged)
	if err != nil {
		return syncstore.Record{}, err
	}
	_, err = c.queue.Enqueue(syncstore.Mutation{
		ClientID:   c.ClientID,
		Collection: collection,
		Op:         syncstore.OpUpdate,
		RecordID:   rec.ID,
		Payload:    rec.Fields,
		Timestamp:  rec.Timestamp,
	})
	return rec, err
}

// DeleteLocal removes the record locally and enqueues a delete.
func (c *Client) DeleteLocal(collection, id string) (bool, error) {
	found, err := c.store.Delete(collection, id)
	if err != nil || !found {
		return found, err
	}
	_, err = c.queue.Enqueue(syncstore.Mutation{
		ClientID:   c.ClientID,
		Collection: collection,
		Op:         syncstore.OpDelete,
		RecordID:   id,
	})
	return true, err
}
