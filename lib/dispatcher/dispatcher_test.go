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
package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/dedup"
	"github.com/uber/httpsd/lib/generator"
)

func newTestDispatcher(t *testing.T, clk clock.Clock) (*Dispatcher, cache.Cache, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.json"),
		[]byte(`[{"targets":["10.0.0.1:9100"]}]`), 0644))

	registry := generator.New(generator.Config{Root: dir}, dedup.Config{SuccessTTL: time.Minute})
	c := cache.NewFilesystem(t.TempDir())
	d := New(Config{Interval: time.Minute, CacheTTL: time.Minute}, c, registry, clk, tally.NoopScope)
	return d, c, filepath.Join(dir, "foo.json")
}

func TestDispatcher_GetTargets_MissThenRegistersForNextTick(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	d, _, path := newTestDispatcher(t, clk)

	fp := core.Canonicalize(path, nil)
	_, err := d.GetTargets(context.Background(), path, fp, nil)
	require.Equal(core.ErrCacheNotExist, err)

	d.tasksMu.RLock()
	task, ok := d.tasks[fp]
	d.tasksMu.RUnlock()
	require.True(ok)
	require.True(task.NeedUpdate)
}

func TestDispatcher_TickRefreshesDueTasks(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	d, c, path := newTestDispatcher(t, clk)

	fp := core.Canonicalize(path, nil)
	d.Register(fp, path, nil)

	d.tick(context.Background())
	d.Wait()

	entry, err := c.Get(context.Background(), fp)
	require.NoError(err)
	require.Equal(core.TargetGroupList{{Targets: []string{"10.0.0.1:9100"}}}, entry.Results)
}

func TestDispatcher_GetTargets_ExpiredCacheReturnsCacheExpiredError(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	d, c, path := newTestDispatcher(t, clk)

	fp := core.Canonicalize(path, nil)
	require.NoError(c.Set(context.Background(), fp, &core.CacheEntry{
		UpdatedTimestamp: float64(clk.Now().UnixNano()) / float64(time.Second),
	}, 0))

	clk.Add(2 * time.Minute)

	_, err := d.GetTargets(context.Background(), path, fp, nil)
	var expiredErr *core.CacheExpiredError
	require.ErrorAs(err, &expiredErr)
}

func TestDispatcher_LastRefreshedUpdatesOnSuccess(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	d, _, path := newTestDispatcher(t, clk)

	require.True(d.LastRefreshed().IsZero())

	fp := core.Canonicalize(path, nil)
	d.Register(fp, path, nil)
	d.tick(context.Background())
	d.Wait()

	require.False(d.LastRefreshed().IsZero())
}
