// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryableTxErrorClassification(t *testing.T) {
	assert.True(t, retryableTxError(&pgconn.PgError{Code: "40001"}), "serialization failure retries")
	assert.True(t, retryableTxError(&pgconn.PgError{Code: "40P01"}), "deadlock retries")
	assert.True(t, retryableTxError(&pgconn.PgError{Code: "55P03"}), "lock timeout retries")
	assert.True(t, retryableTxError(fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40001"})),
		"classification sees through wrapping")

	assert.False(t, retryableTxError(&pgconn.PgError{Code: "23505"}), "constraint violations are final")
	assert.False(t, retryableTxError(errors.New("connection refused")))
	assert.False(t, retryableTxError(nil))
}
