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

// Package jobqueue implements the split-mode job queue: a Redis FIFO of
// pending refresh jobs with a membership query, shared by the
// RequestHandler (enqueue) and the worker pool (dequeue/complete).
package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/uber/httpsd/core"

	"github.com/cenkalti/backoff"
	"github.com/gomodule/redigo/redis"
)

const (
	queueKey      = "target_generation_queue"
	processingKey = "target_generation_queue:processing"
)

// JobQueue is the split-mode work queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job core.Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (*core.Job, error)
	Contains(ctx context.Context, fp core.Fingerprint) (bool, error)
	Complete(ctx context.Context, job core.Job) error
	Len(ctx context.Context) (int, error)
}

// Config configures the Redis-backed JobQueue.
type Config struct {
	Addr        string        `yaml:"addr" validate:"nonzero"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	MaxIdle     int           `yaml:"max_idle"`
	MaxActive   int           `yaml:"max_active"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 10
	}
	return c
}

// RedisJobQueue implements JobQueue over two Redis lists: queueKey
// holds pending jobs and processingKey holds jobs a worker has popped
// but not yet completed. Dequeue's move between the two lists is not
// atomic -- a worker crash between BLPOP and RPUSH drops the job, and
// this mirrors the Python original's own documented non-atomicity
// rather than papering over it with a Lua script.
type RedisJobQueue struct {
	pool *redis.Pool
}

// New creates a RedisJobQueue against the given config.
func New(config Config) *RedisJobQueue {
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
	return &RedisJobQueue{pool: pool}
}

// Close releases the underlying connection pool.
func (q *RedisJobQueue) Close() error {
	return q.pool.Close()
}

// Enqueue implements JobQueue.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	conn := q.pool.Get()
	defer conn.Close()
	_, err = conn.Do("RPUSH", queueKey, data)
	return err
}

// Dequeue implements JobQueue. It blocks up to timeout for a job, then
// records it in the processing list so Contains still reports it as
// live until Complete is called. A job left in the processing list by a
// worker that exits before Complete is never moved back to the pending
// list; nothing in this package reclaims it.
func (q *RedisJobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*core.Job, error) {
	conn := q.pool.Get()
	defer conn.Close()

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	reply, err := redis.ByteSlices(conn.Do("BLPOP", queueKey, secs))
	if err == redis.ErrNil {
		return nil, core.ErrTimeout
	}
	if err != nil {
		return nil, err
	}
	// reply is [key, value].
	var job core.Job
	if err := json.Unmarshal(reply[1], &job); err != nil {
		return nil, err
	}

	if _, err := conn.Do("RPUSH", processingKey, reply[1]); err != nil {
		return nil, err
	}
	return &job, nil
}

// Complete implements JobQueue, removing job from the processing list.
func (q *RedisJobQueue) Complete(ctx context.Context, job core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	conn := q.pool.Get()
	defer conn.Close()
	_, err = conn.Do("LREM", processingKey, 0, data)
	return err
}

// Contains implements JobQueue by linearly scanning both lists. This is
// O(n) and non-atomic with respect to concurrent Enqueue/Dequeue calls,
// matching the Python original exactly: a false negative here only
// causes a harmless duplicate enqueue, never a lost job.
func (q *RedisJobQueue) Contains(ctx context.Context, fp core.Fingerprint) (bool, error) {
	conn := q.pool.Get()
	defer conn.Close()

	for _, key := range []string{queueKey, processingKey} {
		items, err := redis.ByteSlices(conn.Do("LRANGE", key, 0, -1))
		if err != nil {
			return false, err
		}
		for _, raw := range items {
			var job core.Job
			if err := json.Unmarshal(raw, &job); err != nil {
				continue
			}
			if job.FP == fp {
				return true, nil
			}
		}
	}
	return false, nil
}

// Len implements JobQueue, returning the pending (not processing)
// queue depth.
func (q *RedisJobQueue) Len(ctx context.Context) (int, error) {
	conn := q.pool.Get()
	defer conn.Close()
	return redis.Int(conn.Do("LLEN", queueKey))
}
