// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// ContentHash returns a deterministic fingerprint of the given fields:
// SHA-256 over a sorted-key canonical JSON serialization. The "hash" key is
// excluded so a previously stamped fingerprint never feeds back into itself.
// Identical field sets hash identically regardless of map insertion order and
// across processes.
//
// On a non-serializable value the function falls back to a locally-unique
// fingerprint (time+random) and logs a warning; a write is never aborted
// because of a hashing failure.
func ContentHash(fields map[string]any) string {
	canonical, err := canonicalize(fields)
	if err != nil {
		slog.Warn("content hash fallback", "error", err)
		return fallbackFingerprint()
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func fallbackFingerprint() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("fb-%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}

// canonicalize serializes fields with sorted keys at every nesting level.
// The top-level "hash" key is skipped.
func canonicalize(fields map[string]any) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		b.Write(kj)
		b.WriteByte(':')
		vj, err := canonicalValue(fields[k])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		b.WriteString(vj)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func canonicalValue(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		var b strings.Builder
		b.WriteByte('{')
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, err := json.Marshal(k)
			if err != nil {
				return "", err
			}
			b.Write(kj)
			b.WriteByte(':')
			vj, err := canonicalValue(t[k])
			if err != nil {
				return "", err
			}
			b.WriteString(vj)
		}
		b.WriteByte('}')
		return b.String(), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			ej, err := canonicalValue(e)
			if err != nil {
				return "", err
			}
			b.WriteString(ej)
		}
		b.WriteByte(']')
		return b.String(), nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
