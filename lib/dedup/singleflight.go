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

// Package dedup implements a per-key single-flight cache: concurrent
// callers for the same key share one in-flight execution, and the
// result (or error) is cached for its own TTL afterward.
package dedup

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/utils/heap"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
)

// ErrTimeout is returned to a caller whose wait exceeded its deadline.
// The background execution is not cancelled.
var ErrTimeout = errors.New("timed out waiting for result")

// Config controls TTLs, GC cadence and deep-copy behavior.
type Config struct {
	// SuccessTTL is how long a successful result is served from cache
	// before the wrapped function runs again.
	SuccessTTL time.Duration

	// ErrorTTL is how long a failure is served from cache. Zero
	// disables error caching entirely.
	ErrorTTL time.Duration

	// GCInterval is the minimum time between automatic reaps.
	GCInterval time.Duration

	// GCThreshold is the minimum heap size before an automatic reap
	// is considered.
	GCThreshold int

	// DeepCopyResults, when true, round-trips successful results
	// through JSON before returning them to each caller, so one
	// caller's mutation of the returned value cannot affect another's.
	DeepCopyResults bool
}

func (c Config) applyDefaults() Config {
	if c.GCInterval == 0 {
		c.GCInterval = time.Minute
	}
	if c.GCThreshold == 0 {
		c.GCThreshold = 1000
	}
	return c
}

type slot struct {
	done     chan struct{}
	value    interface{}
	err      error
	expireAt time.Time
}

// Cache deduplicates concurrent executions of a function per key, and
// caches the last result (success or error) for its own TTL.
type Cache struct {
	config Config
	clk    clock.Clock

	entriesMu sync.Mutex
	entries   map[string]*slot

	heapMu   sync.Mutex
	gcHeap   *heap.PriorityQueue
	lastGC   time.Time

	gcMu sync.Mutex

	reapedCount  atomic.Int64
	entriesCount atomic.Int64
}

// New creates a Cache with the given config and clock.
func New(config Config, clk clock.Clock) *Cache {
	return &Cache{
		config:  config.applyDefaults(),
		clk:     clk,
		entries: make(map[string]*slot),
		gcHeap:  heap.NewPriorityQueue(),
	}
}

// Get runs fn on behalf of key, deduplicating against any in-flight or
// still-fresh execution for the same key, and waits up to timeout for
// a result. A timed-out caller does not cancel the background work;
// it and subsequent callers will observe it once it completes.
func (c *Cache) Get(key string, timeout time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	s := c.adopt(key, fn)

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timeoutC = c.clk.After(timeout)
	}

	select {
	case <-s.done:
	case <-timeoutC:
		c.maybeReap()
		return nil, ErrTimeout
	}

	c.maybeReap()

	if s.err != nil {
		return nil, copyError(s.err)
	}
	if c.config.DeepCopyResults {
		return deepCopy(s.value)
	}
	return s.value, nil
}

// adopt returns the slot responsible for key: an existing live or
// unexpired one, or a freshly spawned one.
func (c *Cache) adopt(key string, fn func() (interface{}, error)) *slot {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()

	now := c.clk.Now()
	if existing, ok := c.entries[key]; ok {
		select {
		case <-existing.done:
			// Finished; still adopt it if unexpired.
			if existing.expireAt.After(now) {
				return existing
			}
		default:
			// In flight.
			return existing
		}
	}

	s := &slot{done: make(chan struct{})}
	c.entries[key] = s
	c.entriesCount.Inc()

	go func() {
		value, err := fn()
		s.value, s.err = value, err

		var ttl time.Duration
		if err != nil {
			ttl = c.config.ErrorTTL
		} else {
			ttl = c.config.SuccessTTL
		}
		s.expireAt = c.clk.Now().Add(ttl)

		c.heapMu.Lock()
		c.gcHeap.Push(&heap.Item{Value: key, Priority: s.expireAt.UnixNano()})
		c.heapMu.Unlock()

		close(s.done)

		if err != nil && ttl <= 0 {
			// Error caching disabled: evict immediately so the next
			// caller re-executes rather than replaying this error.
			c.entriesMu.Lock()
			if c.entries[key] == s {
				delete(c.entries, key)
				c.entriesCount.Dec()
			}
			c.entriesMu.Unlock()
		}
	}()

	return s
}

// canGC reports whether automatic GC is due, per Config.GCInterval and
// Config.GCThreshold.
func (c *Cache) canGC() bool {
	c.heapMu.Lock()
	n := c.gcHeap.Len()
	due := c.clk.Now().Sub(c.lastGC) >= c.config.GCInterval
	c.heapMu.Unlock()
	return due && n > c.config.GCThreshold
}

func (c *Cache) maybeReap() {
	if !c.canGC() {
		return
	}
	if !c.gcMu.TryLock() {
		return
	}
	defer c.gcMu.Unlock()
	c.Reap()
}

// Reap evicts every entry whose heap-recorded expiry has passed. It is
// exported so callers can force deterministic GC in tests (S6).
func (c *Cache) Reap() {
	now := c.clk.Now()

	c.heapMu.Lock()
	var due []string
	for {
		item, err := c.gcHeap.Peek()
		if err != nil || item.Priority > now.UnixNano() {
			break
		}
		item, _ = c.gcHeap.Pop()
		due = append(due, item.Value.(string))
	}
	c.lastGC = now
	c.heapMu.Unlock()

	seen := make(map[string]bool, len(due))
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	for _, key := range due {
		if seen[key] {
			continue
		}
		seen[key] = true
		s, ok := c.entries[key]
		if !ok {
			continue
		}
		select {
		case <-s.done:
			if !s.expireAt.After(now) {
				delete(c.entries, key)
				c.entriesCount.Dec()
				c.reapedCount.Inc()
			}
		default:
			// Still in flight; leave it.
		}
	}
}

// ReapedCount returns the number of entries evicted by Reap so far.
func (c *Cache) ReapedCount() int64 {
	return c.reapedCount.Load()
}

// EntriesCount returns the number of entries currently tracked.
func (c *Cache) EntriesCount() int64 {
	return c.entriesCount.Load()
}

// copyError returns a value copy of err's message so two concurrent
// callers sharing a cached error never observe the same mutable error
// value (invariant 6, §8).
func copyError(err error) error {
	if ce, ok := err.(*core.CacheExpiredError); ok {
		copied := *ce
		return &copied
	}
	return errors.New(err.Error())
}

// deepCopy round-trips v through JSON so the caller cannot mutate the
// cached value shared with other callers. It preserves v's concrete
// type rather than decoding into a generic interface{}, so a caller
// that type-asserts the cache's declared result type (e.g.
// core.TargetGroupList) never panics on a successful call.
func deepCopy(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := reflect.New(reflect.TypeOf(v))
	if err := json.Unmarshal(data, out.Interface()); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}
