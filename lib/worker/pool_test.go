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
package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/dedup"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/lib/jobqueue"
)

func newTestPool(t *testing.T, genDir string) (*Pool, jobqueue.JobQueue, cache.Cache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q := jobqueue.New(jobqueue.Config{Addr: mr.Addr()})
	t.Cleanup(func() { q.Close() })

	c := cache.NewFilesystem(t.TempDir())
	registry := generator.New(generator.Config{Root: genDir}, dedup.Config{SuccessTTL: time.Minute})

	p := New(Config{NumWorkers: 2, DequeueTimeout: 100 * time.Millisecond, CacheTTL: time.Minute},
		q, c, registry, clock.New(), tally.NoopScope, "test-worker")
	return p, q, c
}

func TestPool_ProcessesEnqueuedJob(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.json")
	require.NoError(os.WriteFile(path, []byte(`[{"targets":["10.0.0.1:9100"]}]`), 0644))

	p, q, c := newTestPool(t, dir)

	fp := core.Canonicalize(path, nil)
	require.NoError(q.Enqueue(context.Background(), core.Job{JobID: "1", FP: fp, Path: path}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	require.Eventually(func() bool {
		_, err := c.Get(context.Background(), fp)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	entry, err := c.Get(context.Background(), fp)
	require.NoError(err)
	require.Equal(core.TargetGroupList{{Targets: []string{"10.0.0.1:9100"}}}, entry.Results)
}

func TestPool_GeneratorFailureWritesErrorShadow(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.json")
	require.NoError(os.WriteFile(path, []byte("not json"), 0644))

	p, q, c := newTestPool(t, dir)

	fp := core.Canonicalize(path, nil)
	require.NoError(q.Enqueue(context.Background(), core.Job{JobID: "1", FP: fp, Path: path}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	require.Eventually(func() bool {
		_, err := c.GetError(context.Background(), fp)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	entry, err := c.GetError(context.Background(), fp)
	require.NoError(err)
	require.Equal("error", entry.Status)
	require.Equal("test-worker", entry.ErrorDetails.WorkerID)
}

func TestPool_ActiveWorkersReturnsToZeroAfterProcessing(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.json")
	require.NoError(os.WriteFile(path, []byte(`[]`), 0644))

	p, q, c := newTestPool(t, dir)
	fp := core.Canonicalize(path, nil)
	require.NoError(q.Enqueue(context.Background(), core.Job{JobID: "1", FP: fp, Path: path}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	require.Eventually(func() bool {
		_, err := c.Get(context.Background(), fp)
		return err == nil && p.ActiveWorkers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
