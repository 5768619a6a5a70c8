// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// PGStore is the Postgres-backed authoritative store for deployments with a
// reachable database. Each mutation runs in its own short transaction with
// row locking, so one failing item never poisons the rest of a batch;
// transient serialization/deadlock errors are retried a bounded number of
// times.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() int64
}

const pgTxRetries = 3

// NewPGStore creates the store over an existing pool and ensures the schema.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{
		pool:   pool,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS sync_records (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     JSONB NOT NULL,
			ts         BIGINT NOT NULL,
			hash       TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_sync_records_collection_ts
			ON sync_records (collection, ts);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize sync schema: %w", err)
	}
	return nil
}

func (s *PGStore) ApplyMutations(ctx context.Context, clientID string, ops []SyncOperation) []OperationResult {
	results := make([]OperationResult, 0, len(ops))
	for _, op := range ops {
		results = append(results, s.applyOne(ctx, op))
	}
	return results
}

func (s *PGStore) applyOne(ctx context.Context, op SyncOperation) OperationResult {
	res := OperationResult{Op: op.Op, Collection: op.Collection, ID: op.ID}
	var (
		rec   syncstore.Record
		found bool
		err   error
	)
	switch op.Op {
	case syncstore.OpCreate:
		rec, err = s.Create(ctx, op.Collection, op.Data)
	case syncstore.OpUpdate:
		rec, err = s.Patch(ctx, op.Collection, op.ID, op.Data)
	case syncstore.OpDelete:
		found, err = s.Delete(ctx, op.Collection, op.ID)
		if err == nil && !found {
			err = fmt.Errorf("%s not found", syncstore.KindName(op.Collection))
		}
	default:
		err = fmt.Errorf("unknown op %q", op.Op)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	if op.Op != syncstore.OpDelete {
		res.ID = rec.ID
		res.Data = &rec
		res.Timestamp = rec.Timestamp
	}
	return res
}

// retryableTxCodes are the Postgres states worth another attempt: a
// concurrent mutation won the row lock or the commit race, not a data
// problem.
var retryableTxCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retryableTxCodes[pgErr.SQLState()]
}

// withTxRetry runs fn in a transaction. Devices syncing the same collection
// routinely contend on record rows, so retryable states get pgTxRetries
// attempts with doubling backoff before the item fails.
func (s *PGStore) withTxRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	backoff := 25 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := pgx.BeginFunc(ctx, s.pool, fn)
		if err == nil || !retryableTxError(err) || attempt == pgTxRetries {
			return err
		}
		s.logger.Debug("Retrying contended transaction", "attempt", attempt, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (s *PGStore) SnapshotSince(ctx context.Context, since int64) (map[string][]syncstore.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT collection, id, fields, ts, hash
		FROM sync_records
		WHERE ts > $1
		ORDER BY collection, ts
	`, since)
	if err != nil {
		return nil, fmt.Errorf("snapshot since %d: %w", since, err)
	}
	defer rows.Close()

	snapshot := make(map[string][]syncstore.Record)
	for rows.Next() {
		var collection string
		rec, err := scanRecord(rows, &collection)
		if err != nil {
			return nil, err
		}
		snapshot[collection] = append(snapshot[collection], rec)
	}
	return snapshot, rows.Err()
}

func (s *PGStore) List(ctx context.Context, collection string, filter map[string]string) ([]syncstore.Record, error) {
	sql := `SELECT collection, id, fields, ts, hash FROM sync_records WHERE collection = $1`
	args := []any{collection}
	for k, v := range filter {
		args = append(args, k, v)
		sql += fmt.Sprintf(" AND fields->>$%d = $%d", len(args)-1, len(args))
	}
	sql += " ORDER BY ts"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []syncstore.Record
	for rows.Next() {
		var col string
		rec, err := scanRecord(rows, &col)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) Create(ctx context.Context, collection string, fields map[string]any) (syncstore.Record, error) {
	if err := syncstore.ValidateCreate(collection, fields); err != nil {
		return syncstore.Record{}, err
	}
	stamped := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		stamped[k] = v
	}
	stamped["source"] = "server"
	id, _ := stamped["id"].(string)
	if id == "" {
		id = syncstore.NewRecordID()
	}
	stamped["id"] = id

	var rec syncstore.Record
	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		prevTS, _, err := lockRow(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		rec = s.stampedRecord(id, stamped, prevTS)
		return upsertRecord(ctx, tx, collection, rec)
	})
	if err != nil {
		return syncstore.Record{}, fmt.Errorf("create in %s: %w", collection, err)
	}
	return rec, nil
}

func (s *PGStore) Patch(ctx context.Context, collection, id string, fields map[string]any) (syncstore.Record, error) {
	var rec syncstore.Record
	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		prevTS, prevFields, err := lockRow(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if prevFields == nil {
			return fmt.Errorf("%s %s: %w", syncstore.KindName(collection), id, syncstore.ErrNotFound)
		}
		for k, v := range fields {
			if k == "id" {
				continue
			}
			prevFields[k] = v
		}
		rec = s.stampedRecord(id, prevFields, prevTS)
		return upsertRecord(ctx, tx, collection, rec)
	})
	if err != nil {
		return syncstore.Record{}, err
	}
	return rec, nil
}

func (s *PGStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	var found bool
	err := s.withTxRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM sync_records WHERE collection = $1 AND id = $2`, collection, id)
		if err != nil {
			return err
		}
		found = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return found, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// stampedRecord assigns a timestamp strictly greater than the previous row
// version, keeping the per-id monotonic invariant under clock skew.
func (s *PGStore) stampedRecord(id string, fields map[string]any, prevTS int64) syncstore.Record {
	ts := s.now()
	if ts <= prevTS {
		ts = prevTS + 1
	}
	return syncstore.Record{
		ID:        id,
		Fields:    fields,
		Timestamp: ts,
		Hash:      syncstore.ContentHash(fields),
	}
}

// lockRow locks the (collection, id) row if present and returns its current
// timestamp and fields; fields is nil when the row does not exist.
func lockRow(ctx context.Context, tx pgx.Tx, collection, id string) (int64, map[string]any, error) {
	var ts int64
	var raw []byte
	err := tx.QueryRow(ctx, `
		SELECT ts, fields FROM sync_records
		WHERE collection = $1 AND id = $2
		FOR UPDATE
	`, collection, id).Scan(&ts, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, nil, fmt.Errorf("decode fields of %s/%s: %w", collection, id, err)
	}
	return ts, fields, nil
}

func upsertRecord(ctx context.Context, tx pgx.Tx, collection string, rec syncstore.Record) error {
	raw, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields of %s/%s: %w", collection, rec.ID, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sync_records (collection, id, fields, ts, hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			ts = EXCLUDED.ts,
			hash = EXCLUDED.hash
	`, collection, rec.ID, raw, rec.Timestamp, rec.Hash)
	return err
}

func scanRecord(rows pgx.Rows, collection *string) (syncstore.Record, error) {
	var rec syncstore.Record
	var raw []byte
	if err := rows.Scan(collection, &rec.ID, &raw, &rec.Timestamp, &rec.Hash); err != nil {
		return syncstore.Record{}, fmt.Errorf("scan record row: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return syncstore.Record{}, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	return rec, nil
}
