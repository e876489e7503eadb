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
package targetserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/dedup"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/lib/jobqueue"
)

func httptestCtx() context.Context {
	return context.Background()
}

func newTestSplit(t *testing.T) (*httptest.Server, cache.Cache, jobqueue.JobQueue, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.json"),
		[]byte(`[{"targets":["10.0.0.1:9100"]}]`), 0644))

	registry := generator.New(generator.Config{Root: dir}, dedup.Config{SuccessTTL: time.Minute})
	c := cache.NewFilesystem(t.TempDir())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	q := jobqueue.New(jobqueue.Config{Addr: mr.Addr()})
	t.Cleanup(func() { q.Close() })

	config := SplitConfig{Config: Config{Addr: "127.0.0.1:0", Root: dir}, CacheTTL: time.Minute}
	s := NewSplit(config, c, q, registry, tally.NoopScope)
	return httptest.NewServer(s.srv.Handler), c, q, "/targets/foo.json"
}

func TestSplitServer_MissEnqueuesJob(t *testing.T) {
	require := require.New(t)
	srv, _, q, path := newTestSplit(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	require.NoError(err)
	require.Equal(http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()

	n, err := q.Len(httptestCtx())
	require.NoError(err)
	require.Equal(1, n)
}

func TestSplitServer_MissDoesNotDoubleEnqueue(t *testing.T) {
	require := require.New(t)
	srv, _, q, path := newTestSplit(t)
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + path)
		require.NoError(err)
		resp.Body.Close()
	}

	n, err := q.Len(httptestCtx())
	require.NoError(err)
	require.Equal(1, n)
}

func TestSplitServer_FreshCacheHit(t *testing.T) {
	require := require.New(t)
	srv, c, _, path := newTestSplit(t)
	defer srv.Close()

	fp := core.Canonicalize(path, nil)
	require.NoError(c.Set(httptestCtx(), fp, &core.CacheEntry{
		UpdatedTimestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Results:          core.TargetGroupList{{Targets: []string{"10.0.0.1:9100"}}},
	}, 0))

	resp, err := http.Get(srv.URL + path)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	var results core.TargetGroupList
	require.NoError(json.NewDecoder(resp.Body).Decode(&results))
	require.Equal(core.TargetGroupList{{Targets: []string{"10.0.0.1:9100"}}}, results)
}

func TestSplitServer_Reload(t *testing.T) {
	require := require.New(t)
	srv, c, q, path := newTestSplit(t)
	defer srv.Close()

	fp := core.Canonicalize(path, nil)
	require.NoError(c.Set(httptestCtx(), fp, &core.CacheEntry{
		UpdatedTimestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}, 0))

	resp, err := http.Get(srv.URL + path + "?reload=true")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	require.Equal("reload_initiated", body["status"])

	_, err = c.Get(httptestCtx(), fp)
	require.Equal(core.ErrCacheNotExist, err)

	n, err := q.Len(httptestCtx())
	require.NoError(err)
	require.Equal(1, n)
}

func TestSplitServer_DebugNoInfo(t *testing.T) {
	require := require.New(t)
	srv, _, _, path := newTestSplit(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + path + "?debug=true")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	require.Equal("no_debug_info", body["status"])
}

func TestSplitServer_DebugProcessing(t *testing.T) {
	require := require.New(t)
	srv, _, _, path := newTestSplit(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	require.NoError(err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + path + "?debug=true")
	require.NoError(err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	require.Equal("processing", body["status"])
}
