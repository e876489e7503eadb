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
	"encoding/json"
	"time"

	"github.com/uber/httpsd/core"

	"github.com/cenkalti/backoff"
	"github.com/gomodule/redigo/redis"
)

// RedisConfig configures the shared-KV cache binding used by split
// deployments, where every Worker and the Split server share one Redis
// instance as the result cache.
type RedisConfig struct {
	Addr        string        `yaml:"addr" validate:"nonzero"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	MaxIdle     int           `yaml:"max_idle"`
	MaxActive   int           `yaml:"max_active"`
}

func (c RedisConfig) applyDefaults() RedisConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 10
	}
	return c
}

// RedisCache is a Cache binding backed by a shared Redis instance.
// Success entries are stored under fp; the error shadow is stored
// under a distinct "error:"-prefixed key so the two never collide and
// can carry independent TTLs.
type RedisCache struct {
	pool *redis.Pool
}

// NewRedis creates a RedisCache against the given config. The
// connection pool dials lazily; an unreachable Redis at construction
// time is not an error.
func NewRedis(config RedisConfig) *RedisCache {
	config = config.applyDefaults()
	pool := &redis.Pool{
		MaxIdle:   config.MaxIdle,
		MaxActive: config.MaxActive,
		Dial: func() (redis.Conn, error) {
			var conn redis.Conn
			op := func() error {
				c, err := redis.DialTimeout(
					"tcp", config.Addr, config.DialTimeout, config.DialTimeout, config.DialTimeout)
				if err != nil {
					return err
				}
				conn = c
				return nil
			}
			if err := backoff.Retry(op, backoff.NewExponentialBackOff()); err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
	return &RedisCache{pool: pool}
}

func errorKey(fp core.Fingerprint) string {
	return "error:" + string(fp)
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.pool.Close()
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	var entry core.CacheEntry
	if err := c.getJSON(string(fp), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetError implements Cache.
func (c *RedisCache) GetError(ctx context.Context, fp core.Fingerprint) (*core.ErrorEntry, error) {
	var entry core.ErrorEntry
	if err := c.getJSON(errorKey(fp), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, fp core.Fingerprint, entry *core.CacheEntry, ttl time.Duration) error {
	return c.setJSON(string(fp), entry, ttl)
}

// SetError implements Cache.
func (c *RedisCache) SetError(ctx context.Context, fp core.Fingerprint, entry *core.ErrorEntry, ttl time.Duration) error {
	return c.setJSON(errorKey(fp), entry, ttl)
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, fp core.Fingerprint) error {
	conn := c.pool.Get()
	defer conn.Close()
	_, err := conn.Do("DEL", string(fp), errorKey(fp))
	return err
}

// Exists implements Cache.
func (c *RedisCache) Exists(ctx context.Context, fp core.Fingerprint) (bool, error) {
	conn := c.pool.Get()
	defer conn.Close()
	return redis.Bool(conn.Do("EXISTS", string(fp)))
}

func (c *RedisCache) getJSON(key string, v interface{}) error {
	conn := c.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if err == redis.ErrNil {
		return core.ErrCacheNotExist
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Corrupt value: drop it so the next read is a clean miss.
		conn.Do("DEL", key)
		return core.ErrCacheNotValidJSON
	}
	return nil
}

func (c *RedisCache) setJSON(key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn := c.pool.Get()
	defer conn.Close()

	if ttl <= 0 {
		_, err = conn.Do("SET", key, data)
		return err
	}
	_, err = conn.Do("SETEX", key, int(ttl.Seconds()), data)
	return err
}
