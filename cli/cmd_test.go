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
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/uber/httpsd/lib/cache"
)

func testConfig(t *testing.T, genRoot string) Config {
	t.Helper()
	var cfg Config
	cfg.Generator.Root = genRoot
	cfg.Cache.Backend = "filesystem"
	cfg.Cache.Filesystem.Dir = t.TempDir()
	return cfg
}

func TestRun_CheckMode_AllGeneratorsValid(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	require.NoError(os.WriteFile(filepath.Join(dir, "foo.json"), []byte(`[{"targets":["10.0.0.1:9100"]}]`), 0644))

	flags := &Flags{Mode: ModeCheck}
	code := Run(flags, WithConfig(testConfig(t, dir)), WithMetrics(tally.NoopScope), WithLogger(zap.NewNop()))
	require.Equal(0, code)
}

func TestRun_CheckMode_InvalidGeneratorFails(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	require.NoError(os.WriteFile(filepath.Join(dir, "foo.json"), []byte("not json"), 0644))

	flags := &Flags{Mode: ModeCheck}
	code := Run(flags, WithConfig(testConfig(t, dir)), WithMetrics(tally.NoopScope), WithLogger(zap.NewNop()))
	require.Equal(1, code)
}

func TestSetupCache_Filesystem(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(t, t.TempDir())
	c := setupCache(cfg)
	_, ok := c.(*cache.FilesystemCache)
	require.True(ok)
}

func TestSetupCache_Redis(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(t, t.TempDir())
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = "127.0.0.1:0"
	c := setupCache(cfg)
	_, ok := c.(*cache.RedisCache)
	require.True(ok)
}
