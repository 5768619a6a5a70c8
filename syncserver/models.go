// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncserver implements the authoritative collection store and its
// HTTP surface: the batch sync endpoint, per-collection CRUD, live update
// events and snapshot-since computation.
package syncserver

import (
	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// REST/JSON models for the sync API.

// SyncOperation is a single queued client mutation inside a batch upload.
type SyncOperation struct {
	Collection string               `json:"collection"`
	Op         syncstore.MutationOp `json:"op"`
	ID         string               `json:"id,omitempty"`
	Data       map[string]any       `json:"data,omitempty"`
	Timestamp  int64                `json:"timestamp"`
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	ClientID   string          `json:"clientId"`
	LastSyncAt int64           `json:"lastSyncAt"`
	Operations []SyncOperation `json:"operations"`
}

// OperationResult reports the outcome of one operation. The results slice is
// positionally aligned with the request operations; one failure never blocks
// subsequent operations.
type OperationResult struct {
	Success    bool                 `json:"success"`
	Op         syncstore.MutationOp `json:"op"`
	Collection string               `json:"collection"`
	ID         string               `json:"id,omitempty"`
	Data       *syncstore.Record    `json:"data,omitempty"`
	Error      string               `json:"error,omitempty"`
	Timestamp  int64                `json:"timestamp"`
}

// SyncResponse is the body of a successful POST /sync round.
type SyncResponse struct {
	Applied    []OperationResult             `json:"applied"`
	Snapshot   map[string][]syncstore.Record `json:"snapshot"`
	ServerTime int64                         `json:"serverTime"`
}

// DeleteResponse is the body of DELETE /<collection>/:id.
type DeleteResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// StatusResponse is the body of GET /healthz.
type StatusResponse struct {
	Status      string   `json:"status"`
	Collections []string `json:"collections"`
	ServerTime  int64    `json:"serverTime"`
}
