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

// Package worker implements split-mode job processing: N long-running
// workers dequeuing from a shared JobQueue, regenerating targets, and
// publishing results (or an error shadow) to a shared Cache.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/lib/jobqueue"
	"github.com/uber/httpsd/utils/log"
	"github.com/uber/httpsd/utils/syncutil"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

// Config controls worker count and per-job behavior.
type Config struct {
	NumWorkers       int           `yaml:"num_workers" validate:"nonzero"`
	DequeueTimeout   time.Duration `yaml:"dequeue_timeout"`
	GeneratorTimeout time.Duration `yaml:"generator_timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl" validate:"nonzero"`
	ErrorTTL         time.Duration `yaml:"error_ttl"`
}

func (c Config) applyDefaults() Config {
	if c.DequeueTimeout == 0 {
		c.DequeueTimeout = time.Second
	}
	if c.GeneratorTimeout == 0 {
		c.GeneratorTimeout = 30 * time.Second
	}
	if c.ErrorTTL == 0 {
		c.ErrorTTL = time.Hour
	}
	return c
}

// Pool runs Config.NumWorkers goroutines, each pulling jobs off a
// JobQueue until ctx is cancelled. A cancelled worker finishes its
// current job before returning, matching the cooperative
// SIGINT/SIGTERM drain contract.
type Pool struct {
	config   Config
	queue    jobqueue.JobQueue
	cache    cache.Cache
	registry *generator.Registry
	clk      clock.Clock
	stats    tally.Scope
	workerID string

	// busy tracks, per worker goroutine index, whether it currently
	// holds a job, so ActiveWorkers can report a live gauge without a
	// contended shared counter.
	busy *syncutil.Counters

	wg sync.WaitGroup
}

// New creates a Pool. workerID identifies this process in error
// details and metrics tags.
func New(config Config, queue jobqueue.JobQueue, c cache.Cache, registry *generator.Registry, clk clock.Clock, stats tally.Scope, workerID string) *Pool {
	config = config.applyDefaults()
	return &Pool{
		config:   config,
		queue:    queue,
		cache:    c,
		registry: registry,
		clk:      clk,
		stats:    stats,
		workerID: workerID,
		busy:     syncutil.NewCounters(config.NumWorkers),
	}
}

// ActiveWorkers returns how many of the pool's goroutines are
// currently processing a job.
func (p *Pool) ActiveWorkers() int {
	total := 0
	for i := 0; i < p.busy.Len(); i++ {
		total += p.busy.Get(i)
	}
	return total
}

// Start launches the worker goroutines. It returns immediately; use
// Wait to block until every worker has drained and exited following
// ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

// Wait blocks until every worker goroutine has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, index int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.config.DequeueTimeout)
		if err == core.ErrTimeout {
			continue
		}
		if err != nil {
			log.Errorf("Worker %s dequeue error: %s", p.workerID, err)
			continue
		}
		p.busy.Set(index, 1)
		p.process(ctx, *job)
		p.busy.Set(index, 0)
		p.stats.Gauge("active_workers").Update(float64(p.ActiveWorkers()))
	}
}

// process implements the four worker steps: generate, publish success
// or error shadow, record metrics, mark the job complete.
func (p *Pool) process(ctx context.Context, job core.Job) {
	tags := map[string]string{"worker_id": p.workerID, "path": job.Path}
	sw := p.stats.Tagged(tags).Timer("generator_run_duration").Start()
	start := p.clk.Now()

	results, err := p.registry.Run(ctx, job.Path, job.Args, p.config.GeneratorTimeout)
	sw.Stop()

	status := "success"
	if err != nil {
		status = "error"
		p.writeErrorShadow(ctx, job, err, start)
	} else {
		if serr := p.cache.Set(ctx, job.FP, &core.CacheEntry{
			UpdatedTimestamp: nowSeconds(p.clk),
			Results:          results,
		}, p.config.CacheTTL); serr != nil {
			status = "error"
			log.Errorf("Worker %s failed to write cache for %s: %s", p.workerID, job.FP, serr)
		}
	}

	p.stats.Tagged(map[string]string{"worker_id": p.workerID, "status": status}).Counter("finished_jobs").Inc(1)

	if cerr := p.queue.Complete(ctx, job); cerr != nil {
		log.Errorf("Worker %s failed to complete job %s: %s", p.workerID, job.JobID, cerr)
	}
}

func (p *Pool) writeErrorShadow(ctx context.Context, job core.Job, genErr error, start time.Time) {
	log.Errorf("Worker %s generator failure for %s: %s", p.workerID, job.Path, genErr)

	entry := &core.ErrorEntry{
		UpdatedTimestamp: nowSeconds(p.clk),
		Status:           "error",
		ErrorDetails: core.ErrorDetails{
			Type:           fmt.Sprintf("%T", genErr),
			Message:        genErr.Error(),
			WorkerID:       p.workerID,
			JobID:          job.JobID,
			Path:           job.Path,
			Args:           job.Args,
			TimestampISO:   p.clk.Now().UTC().Format(time.RFC3339),
			ProcessingTime: p.clk.Now().Sub(start).Seconds(),
		},
	}
	if err := p.cache.SetError(ctx, job.FP, entry, p.config.ErrorTTL); err != nil {
		log.Errorf("Worker %s failed to write error shadow for %s: %s", p.workerID, job.FP, err)
	}
}

func nowSeconds(clk clock.Clock) float64 {
	return float64(clk.Now().UnixNano()) / float64(time.Second)
}
