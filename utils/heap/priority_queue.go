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

// Package heap implements a minimal min-priority queue used by the
// single-flight cache to reap expired entries in amortized O(log n).
package heap

import (
	"container/heap"
	"errors"
)

// Item is a (value, priority) pair; lower priority pops first.
type Item struct {
	Value    interface{}
	Priority int64
}

// ErrEmpty is returned by Pop when the queue has no items.
var ErrEmpty = errors.New("priority queue is empty")

// PriorityQueue is a min-heap of *Item ordered by Priority.
type PriorityQueue struct {
	inner innerHeap
}

// NewPriorityQueue creates a PriorityQueue seeded with items.
func NewPriorityQueue(items ...*Item) *PriorityQueue {
	inner := make(innerHeap, len(items))
	copy(inner, items)
	heap.Init(&inner)
	return &PriorityQueue{inner: inner}
}

// Push adds item to the queue.
func (pq *PriorityQueue) Push(item *Item) {
	heap.Push(&pq.inner, item)
}

// Pop removes and returns the lowest-priority item, or ErrEmpty.
func (pq *PriorityQueue) Pop() (*Item, error) {
	if pq.inner.Len() == 0 {
		return nil, ErrEmpty
	}
	return heap.Pop(&pq.inner).(*Item), nil
}

// Peek returns the lowest-priority item without removing it, or ErrEmpty.
func (pq *PriorityQueue) Peek() (*Item, error) {
	if pq.inner.Len() == 0 {
		return nil, ErrEmpty
	}
	return pq.inner[0], nil
}

// Len returns the number of items currently queued.
func (pq *PriorityQueue) Len() int {
	return pq.inner.Len()
}

type innerHeap []*Item

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h innerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *innerHeap) Push(x interface{}) { *h = append(*h, x.(*Item)) }
func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
