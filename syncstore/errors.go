// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error taxonomy shared by every component.
//
//   - ErrNotFound: update/delete against a missing id. Reported to the
//     caller, never retried.
//   - ErrValidation: missing required fields. Rejected immediately, never
//     queued.
//   - ErrUnavailable: no provider reachable and no valid cache. Reported to
//     the caller.
//
// Transient network failures are not a sentinel; they are classified by
// IsTransient and retried with backoff by the caller.
var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("unavailable")
)

// ValidationError reports the first missing required field of a payload.
type ValidationError struct {
	Collection string
	Field      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s requires field %q", e.Collection, e.Field)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransientError marks a network-level failure that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be treated as a retryable network
// failure. Timeouts are treated identically to connection errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
