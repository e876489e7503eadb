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

// Package core defines the data model shared by every target-discovery
// component: fingerprints, target groups, cache entries and jobs.
package core

import (
	"errors"
	"net/url"
	"sort"
	"strings"
)

// TargetGroup is a single scrape target group, the unit a generator
// produces and a scraper consumes.
type TargetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// TargetGroupList is an ordered list of TargetGroup. Order is not
// semantically significant but must be stable for a given generation.
type TargetGroupList []TargetGroup

// Fingerprint is the sole key used by Cache and JobQueue. It is derived
// from a request's path and canonical query string.
type Fingerprint string

// controlKeys are query parameters that alter request handling but must
// never affect the cache/queue key, so that normal and debug/reload
// requests for the same logical target share one cache entry.
var controlKeys = map[string]bool{
	"debug":  true,
	"reload": true,
}

// Canonicalize builds the Fingerprint for path and query, stripping any
// control keys first. It is the only place a Fingerprint is computed.
func Canonicalize(path string, query url.Values) Fingerprint {
	stripped := url.Values{}
	for k, v := range query {
		if controlKeys[k] {
			continue
		}
		vc := make([]string, len(v))
		copy(vc, v)
		sort.Strings(vc)
		stripped[k] = vc
	}

	keys := make([]string, 0, len(stripped))
	for k := range stripped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	if len(keys) > 0 {
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			for j, v := range stripped[k] {
				if j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
	}
	return Fingerprint(b.String())
}

// IsControlKey reports whether k is a query key that must be stripped
// before fingerprint computation (debug, reload).
func IsControlKey(k string) bool {
	return controlKeys[k]
}

// CacheEntry is the success variant of a cached generation result.
type CacheEntry struct {
	UpdatedTimestamp float64         `json:"updated_timestamp"`
	Results          TargetGroupList `json:"results"`
}

// ErrorDetails describes a failed generation run, cached as a shadow
// entry so callers can retrieve diagnostics without re-running it.
type ErrorDetails struct {
	Type           string              `json:"type"`
	Message        string              `json:"message"`
	Traceback      string              `json:"traceback"`
	WorkerID       string              `json:"worker_id"`
	JobID          string              `json:"job_id"`
	Path           string              `json:"path"`
	Args           map[string][]string `json:"args"`
	TimestampISO   string              `json:"timestamp_iso"`
	ProcessingTime float64             `json:"processing_time_s"`
}

// ErrorEntry is the error variant of a cached generation result.
type ErrorEntry struct {
	UpdatedTimestamp float64      `json:"updated_timestamp"`
	Status           string       `json:"status"`
	ErrorDetails     ErrorDetails `json:"error_details"`
}

// Task is a Dispatcher's per-fingerprint bookkeeping record. It is
// created on first sight of an fp and lives for the process lifetime.
type Task struct {
	FP         Fingerprint
	Path       string
	Args       map[string][]string
	NeedUpdate bool
	Running    bool
}

// Job is a unit of work handed off through the JobQueue in split mode.
type Job struct {
	JobID string              `json:"job_id"`
	FP    Fingerprint          `json:"fp"`
	Path  string              `json:"path"`
	Args  map[string][]string `json:"args"`
}

// Sentinel error kinds surfaced from the core. Checked with errors.Is.
var (
	ErrCacheNotExist      = errors.New("cache miss")
	ErrCacheNotValidJSON  = errors.New("cache entry is not valid json")
	ErrGeneratorFailure   = errors.New("generator failure")
	ErrTimeout            = errors.New("timed out waiting for generation")
	ErrUnknownFileType    = errors.New("unknown generator file type")
)

// CacheExpiredError is returned when a CacheEntry exists but has aged
// past its TTL. It carries the fields needed for the structured HTTP
// response documented for the CacheExpired branch.
type CacheExpiredError struct {
	UpdatedTimestamp float64
	TTLSeconds       float64
}

func (e *CacheExpiredError) Error() string {
	return "cache expired, you should try again later"
}

// Is allows errors.Is(err, core.ErrCacheExpired) style checks against
// the sentinel below without comparing the carried fields.
func (e *CacheExpiredError) Is(target error) bool {
	return target == ErrCacheExpired
}

// ErrCacheExpired is the sentinel matched by CacheExpiredError.Is, for
// callers that only need to test the error kind.
var ErrCacheExpired = errors.New("cache expired")
