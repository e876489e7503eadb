// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache defines the fingerprint-keyed result cache and its two
// bindings: filesystem (one file per fingerprint) and shared-KV
// (Redis, server-side TTL).
package cache

import (
	"context"
	"time"

	"github.com/uber/httpsd/core"
)

// Cache maps a Fingerprint to its last generation result, with a
// parallel "error shadow" slot for the most recent failure.
type Cache interface {
	// Get returns the cached success entry for fp. Returns
	// core.ErrCacheNotExist if absent. The caller decides freshness;
	// Get never filters by TTL.
	Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error)

	// GetError returns the cached error-shadow entry for fp, if any.
	// Returns core.ErrCacheNotExist if absent.
	GetError(ctx context.Context, fp core.Fingerprint) (*core.ErrorEntry, error)

	// Set atomically publishes entry for fp with the given TTL.
	Set(ctx context.Context, fp core.Fingerprint, entry *core.CacheEntry, ttl time.Duration) error

	// SetError publishes an error-shadow entry for fp with the given
	// TTL, independent of and typically longer-lived than the success
	// entry's TTL.
	SetError(ctx context.Context, fp core.Fingerprint, entry *core.ErrorEntry, ttl time.Duration) error

	// Delete removes both the success entry and the error shadow for fp.
	Delete(ctx context.Context, fp core.Fingerprint) error

	// Exists reports whether a success entry is present for fp.
	Exists(ctx context.Context, fp core.Fingerprint) (bool, error)
}
