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
package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/require"

	"github.com/uber/httpsd/core"
)

func newTestQueue(t *testing.T) *RedisJobQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q := New(Config{Addr: mr.Addr()})
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisJobQueue_EnqueueDequeue(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	q := newTestQueue(t)
	job := core.Job{JobID: "1", FP: "fp1", Path: "a.json"}
	require.NoError(q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(err)
	require.Equal(job, *got)
}

func TestRedisJobQueue_DequeueTimesOut(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	q := newTestQueue(t)
	_, err := q.Dequeue(ctx, time.Second)
	require.Equal(core.ErrTimeout, err)
}

func TestRedisJobQueue_ContainsAcrossBothLists(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	q := newTestQueue(t)
	job := core.Job{JobID: "1", FP: "fp1", Path: "a.json"}
	require.NoError(q.Enqueue(ctx, job))

	ok, err := q.Contains(ctx, "fp1")
	require.NoError(err)
	require.True(ok)

	// Dequeuing moves it to the processing list; Contains still reports
	// it as live since it hasn't been Complete'd.
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(err)

	ok, err = q.Contains(ctx, "fp1")
	require.NoError(err)
	require.True(ok)
}

func TestRedisJobQueue_CompleteRemovesFromProcessing(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	q := newTestQueue(t)
	job := core.Job{JobID: "1", FP: "fp1", Path: "a.json"}
	require.NoError(q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(err)

	require.NoError(q.Complete(ctx, *got))

	ok, err := q.Contains(ctx, "fp1")
	require.NoError(err)
	require.False(ok)
}

func TestRedisJobQueue_Len(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	q := newTestQueue(t)
	require.NoError(q.Enqueue(ctx, core.Job{JobID: "1", FP: "fp1"}))
	require.NoError(q.Enqueue(ctx, core.Job{JobID: "2", FP: "fp2"}))

	n, err := q.Len(ctx)
	require.NoError(err)
	require.Equal(2, n)
}
