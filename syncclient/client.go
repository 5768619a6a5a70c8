// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncclient drives batch sync rounds against the authoritative
// server: replay the offline mutation queue in enqueue order, merge per-item
// results and the since-watermark snapshot, and advance the watermark only
// when the whole round lands.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncserver"
	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// stateCollection is the local-only namespace holding client identity and
// the sync watermark. It never takes part in exchanges.
const stateCollection = "_syncState"

// Config holds sync client tuning.
type Config struct {
	RequestTimeout time.Duration // per-round HTTP timeout
	BackoffMin     time.Duration // background loop backoff floor
	BackoffMax     time.Duration // background loop backoff cap
}

// DefaultConfig returns the defaults used by field devices.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 30 * time.Second,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
	}
}

// Client synchronizes a local store and mutation queue with one
// authoritative endpoint.
type Client struct {
	store    *syncstore.Store
	queue    *syncstore.Queue
	backend  syncstore.Backend
	BaseURL  string
	ClientID string
	HTTP     *http.Client
	config   *Config
	logger   *slog.Logger

	paused int32
}

// RoundSummary reports what one sync round did.
type RoundSummary struct {
	Applied         int
	Failed          int
	SnapshotRecords int
	ServerTime      int64
}

// NewClient creates a sync client over the device's store, queue and
// backend. The backend also persists client identity and the watermark.
func NewClient(store *syncstore.Store, queue *syncstore.Queue, backend syncstore.Backend, baseURL string, config *Config, logger *slog.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientID, err := ensureClientID(backend)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:    store,
		queue:    queue,
		backend:  backend,
		BaseURL:  baseURL,
		ClientID: clientID,
		HTTP:     &http.Client{Timeout: config.RequestTimeout},
		config:   config,
		logger:   logger,
	}, nil
}

// ensureClientID generates and persists the device identity on first use.
func ensureClientID(backend syncstore.Backend) (string, error) {
	rec, found, err := backend.Get(stateCollection, "client")
	if err != nil {
		return "", fmt.Errorf("load client state: %w", err)
	}
	if found {
		if id, _ := rec.Fields["clientId"].(string); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	fields := map[string]any{"id": "client", "clientId": id, "lastSyncAt": int64(0)}
	rec = syncstore.Record{ID: "client", Fields: fields, Hash: syncstore.ContentHash(fields)}
	if err := backend.Put(stateCollection, rec); err != nil {
		return "", fmt.Errorf("persist client state: %w", err)
	}
	return id, nil
}

// LastSyncAt returns the persisted watermark: the timestamp up to which this
// client has seen all server-side changes.
func (c *Client) LastSyncAt() int64 {
	rec, found, err := c.backend.Get(stateCollection, "client")
	if err != nil || !found {
		return 0
	}
	switch v := rec.Fields["lastSyncAt"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (c *Client) setLastSyncAt(ts int64) error {
	rec, _, err := c.backend.Get(stateCollection, "client")
	if err != nil {
		return err
	}
	if rec.Fields == nil {
		rec.ID = "client"
		rec.Fields = map[string]any{"id": "client", "clientId": c.ClientID}
	}
	rec.Fields["lastSyncAt"] = ts
	rec.Hash = syncstore.ContentHash(rec.Fields)
	return c.backend.Put(stateCollection, rec)
}

// PendingCount reports queued-but-unconfirmed mutations, for UI surfacing.
func (c *Client) PendingCount() (int, error) { return c.queue.PendingCount() }

// Pause suspends background sync rounds; Resume re-enables them.
func (c *Client) Pause()  { atomic.StoreInt32(&c.paused, 1) }
func (c *Client) Resume() { atomic.StoreInt32(&c.paused, 0) }

// SyncRound runs one batch exchange. A network failure aborts the round:
// queue entries stay pending, the watermark stays put, and the error is
// transient, safe to retry unboundedly. Per-mutation statuses are applied
// as the server reports them even if the snapshot merge later fails; only a
// fully successful round advances the watermark.
func (c *Client) SyncRound(ctx context.Context) (*RoundSummary, error) {
	pending, err := c.queue.Pending()
	if err != nil {
		return nil, err
	}
	ops := make([]syncserver.SyncOperation, 0, len(pending))
	for _, m := range pending {
		ops = append(ops, syncserver.SyncOperation{
			Collection: m.Collection,
			Op:         m.Op,
			ID:         m.RecordID,
			Data:       m.Payload,
			Timestamp:  m.Timestamp,
		})
	}

	resp, err := c.postSync(ctx, &syncserver.SyncRequest{
		ClientID:   c.ClientID,
		LastSyncAt: c.LastSyncAt(),
		Operations: ops,
	})
	if err != nil {
		return nil, err
	}

	summary := &RoundSummary{ServerTime: resp.ServerTime}
	// Results are positionally aligned with the uploaded batch.
	for i, res := range resp.Applied {
		if i >= len(pending) {
			break
		}
		m := pending[i]
		if res.Success {
			if err := c.queue.MarkApplied(m.ID); err != nil {
				return summary, err
			}
			summary.Applied++
			// The server may have assigned or normalized fields; its
			// canonical record goes through the merge engine like any
			// other inbound record.
			if res.Data != nil {
				if _, err := c.store.Merge(m.Collection, *res.Data); err != nil {
					return summary, err
				}
			}
		} else {
			if err := c.queue.MarkFailed(m.ID, res.Error); err != nil {
				return summary, err
			}
			summary.Failed++
		}
	}

	for collection, recs := range resp.Snapshot {
		for _, rec := range recs {
			if _, err := c.store.Merge(collection, rec); err != nil {
				return summary, fmt.Errorf("merge snapshot %s/%s: %w", collection, rec.ID, err)
			}
			summary.SnapshotRecords++
		}
	}

	if err := c.setLastSyncAt(resp.ServerTime); err != nil {
		return summary, err
	}
	c.logger.Debug("Sync round complete",
		"client_id", c.ClientID,
		"applied", summary.Applied,
		"failed", summary.Failed,
		"snapshot_records", summary.SnapshotRecords)
	return summary, nil
}

func (c *Client) postSync(ctx context.Context, req *syncserver.SyncRequest) (*syncserver.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sync request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &syncstore.TransientError{Err: err}
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &syncstore.TransientError{
			Err: fmt.Errorf("sync returned %d: %s", httpResp.StatusCode, raw),
		}
	}
	var resp syncserver.SyncResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &syncstore.TransientError{Err: fmt.Errorf("decode sync response: %w", err)}
	}
	return &resp, nil
}

// Run loops sync rounds until ctx is cancelled, backing off exponentially
// on failure and resetting on success.
func (c *Client) Run(ctx context.Context) {
	backoff := c.config.BackoffMin
	for {
		if err := sleepCtx(ctx, backoff); err != nil {
			return
		}
		if atomic.LoadInt32(&c.paused) == 1 {
			continue
		}
		if _, err := c.SyncRound(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Sync round failed", "error", err)
			backoff *= 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
			continue
		}
		backoff = c.config.BackoffMin
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
