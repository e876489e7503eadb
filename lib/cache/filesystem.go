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
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/uber/httpsd/core"
)

// FilesystemCache stores one JSON file per fingerprint under a root
// directory. It does not enforce TTLs itself -- freshness is a caller
// concern (monolith mode's Dispatcher owns that decision).
type FilesystemCache struct {
	dir string
}

// NewFilesystem creates a FilesystemCache rooted at dir. dir must
// already exist.
func NewFilesystem(dir string) *FilesystemCache {
	return &FilesystemCache{dir: dir}
}

func (c *FilesystemCache) path(fp core.Fingerprint) string {
	sum := md5.Sum([]byte(fp))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

func (c *FilesystemCache) errorPath(fp core.Fingerprint) string {
	sum := md5.Sum([]byte("error:" + string(fp)))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Get implements Cache.
func (c *FilesystemCache) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	var entry core.CacheEntry
	if err := readJSON(c.path(fp), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetError implements Cache.
func (c *FilesystemCache) GetError(ctx context.Context, fp core.Fingerprint) (*core.ErrorEntry, error) {
	var entry core.ErrorEntry
	if err := readJSON(c.errorPath(fp), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set implements Cache. ttl is ignored; the filesystem binding relies
// on the caller to treat old entries as expired.
func (c *FilesystemCache) Set(ctx context.Context, fp core.Fingerprint, entry *core.CacheEntry, ttl time.Duration) error {
	return writeJSONAtomic(c.path(fp), entry)
}

// SetError implements Cache.
func (c *FilesystemCache) SetError(ctx context.Context, fp core.Fingerprint, entry *core.ErrorEntry, ttl time.Duration) error {
	return writeJSONAtomic(c.errorPath(fp), entry)
}

// Delete implements Cache.
func (c *FilesystemCache) Delete(ctx context.Context, fp core.Fingerprint) error {
	if err := os.Remove(c.path(fp)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(c.errorPath(fp)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists implements Cache.
func (c *FilesystemCache) Exists(ctx context.Context, fp core.Fingerprint) (bool, error) {
	_, err := os.Stat(c.path(fp))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return core.ErrCacheNotExist
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Corrupt cache file: delete it so the next read is a clean
		// miss rather than repeating the same decode failure forever.
		os.Remove(path)
		return core.ErrCacheNotValidJSON
	}
	return nil
}

// writeJSONAtomic writes v to path via a temp-file-then-rename so
// concurrent readers never observe a partially written entry.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
