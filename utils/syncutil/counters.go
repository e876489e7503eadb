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

// Package syncutil provides small concurrency-safe primitives; the
// worker pool uses them to track per-goroutine busy flags without a
// single contended mutex.
package syncutil

import "go.uber.org/atomic"

// Counters is a fixed-size array of independently updated atomic int
// counters, sharded so unrelated indices never contend.
type Counters struct {
	values []atomic.Int64
}

// NewCounters creates a Counters of length n, all zero-initialized.
func NewCounters(n int) *Counters {
	return &Counters{values: make([]atomic.Int64, n)}
}

// Len returns the number of counters.
func (c *Counters) Len() int {
	return len(c.values)
}

// Get returns the current value of counter i.
func (c *Counters) Get(i int) int {
	return int(c.values[i].Load())
}

// Set assigns v to counter i.
func (c *Counters) Set(i int, v int) {
	c.values[i].Store(int64(v))
}

// Increment adds 1 to counter i.
func (c *Counters) Increment(i int) {
	c.values[i].Inc()
}

// Decrement subtracts 1 from counter i.
func (c *Counters) Decrement(i int) {
	c.values[i].Dec()
}
