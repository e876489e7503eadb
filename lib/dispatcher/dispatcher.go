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

// Package dispatcher implements monolith-mode refresh scheduling: a
// background loop that periodically regenerates every registered,
// stale fingerprint through a bounded worker pool.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/utils/log"
	"github.com/uber/httpsd/utils/timeutil"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

// Config controls refresh cadence and concurrency.
type Config struct {
	Interval        time.Duration `yaml:"interval" validate:"nonzero"`
	CacheTTL        time.Duration `yaml:"cache_ttl" validate:"nonzero"`
	MaxWorkers      int           `yaml:"max_workers"`
	GeneratorTimeout time.Duration `yaml:"generator_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 16
	}
	if c.GeneratorTimeout == 0 {
		c.GeneratorTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher tracks a Task per distinct fingerprint and, on a fixed
// interval, resubmits every stale task to a bounded worker pool that
// regenerates and republishes its cache entry.
type Dispatcher struct {
	config   Config
	cache    cache.Cache
	registry *generator.Registry
	clk      clock.Clock
	stats    tally.Scope

	tasksMu sync.RWMutex
	tasks   map[core.Fingerprint]*core.Task

	lastRefreshedMu sync.Mutex
	lastRefreshed   time.Time

	runSecondsMu sync.Mutex
	runSeconds   map[string]float64

	sem chan struct{}
	wg  sync.WaitGroup
}

// LastRefreshed returns the completion time of the most recent
// successful refresh across every task, or the zero time if none has
// completed yet.
func (d *Dispatcher) LastRefreshed() time.Time {
	d.lastRefreshedMu.Lock()
	defer d.lastRefreshedMu.Unlock()
	return d.lastRefreshed
}

// GeneratorRunSeconds returns a snapshot of the most recently observed
// generator run duration for every path that has completed at least
// one refresh, keyed by path. Backs the monolith debug response's
// "generator_run_seconds" field (§6).
func (d *Dispatcher) GeneratorRunSeconds() map[string]float64 {
	d.runSecondsMu.Lock()
	defer d.runSecondsMu.Unlock()
	out := make(map[string]float64, len(d.runSeconds))
	for k, v := range d.runSeconds {
		out[k] = v
	}
	return out
}

// New creates a Dispatcher. Start must be called to begin the refresh
// loop.
func New(config Config, c cache.Cache, registry *generator.Registry, clk clock.Clock, stats tally.Scope) *Dispatcher {
	config = config.applyDefaults()
	return &Dispatcher{
		config:     config,
		cache:      c,
		registry:   registry,
		clk:        clk,
		stats:      stats,
		tasks:      make(map[core.Fingerprint]*core.Task),
		runSeconds: make(map[string]float64),
		sem:        make(chan struct{}, config.MaxWorkers),
	}
}

// Register creates a Task on first sight of fp and marks it in need of
// a refresh. Safe to call from the request path; never blocks on
// generation.
func (d *Dispatcher) Register(fp core.Fingerprint, path string, args map[string][]string) {
	d.tasksMu.Lock()
	defer d.tasksMu.Unlock()

	t, ok := d.tasks[fp]
	if !ok {
		t = &core.Task{FP: fp, Path: path, Args: args}
		d.tasks[fp] = t
	}
	t.NeedUpdate = true
}

// GetTargets registers fp and returns its cached result, or an error
// describing why none is available yet.
func (d *Dispatcher) GetTargets(ctx context.Context, path string, fp core.Fingerprint, args map[string][]string) (core.TargetGroupList, error) {
	d.Register(fp, path, args)

	entry, err := d.cache.Get(ctx, fp)
	if err != nil {
		return nil, err
	}
	age := d.clk.Now().Sub(time.Unix(0, int64(entry.UpdatedTimestamp*float64(time.Second))))
	if age > d.config.CacheTTL {
		return nil, &core.CacheExpiredError{
			UpdatedTimestamp: entry.UpdatedTimestamp,
			TTLSeconds:       d.config.CacheTTL.Seconds(),
		}
	}
	return entry.Results, nil
}

// Start launches the refresh loop. It stops when ctx is cancelled.
// The loop restarts itself if it panics, matching the self-healing
// contract of the refresh thread.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.runLoop(ctx)
}

func (d *Dispatcher) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Refresh loop panicked, restarting: %v", r)
			select {
			case <-ctx.Done():
			default:
				go d.runLoop(ctx)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.clk.After(d.config.Interval):
		}
	}
}

// tick snapshots tasks needing a refresh and submits each to the
// bounded worker pool.
func (d *Dispatcher) tick(ctx context.Context) {
	d.tasksMu.Lock()
	var due []*core.Task
	for _, t := range d.tasks {
		if t.NeedUpdate && !t.Running {
			t.Running = true
			t.NeedUpdate = false
			due = append(due, t)
		}
	}
	d.tasksMu.Unlock()

	for _, t := range due {
		d.sem <- struct{}{}
		d.wg.Add(1)
		go func(t *core.Task) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.refresh(ctx, t)
		}(t)
	}
}

// refresh regenerates t's targets and republishes the cache. Generator
// failures are logged, never propagated to the loop, and leave the
// previous cache entry (if any) untouched.
func (d *Dispatcher) refresh(ctx context.Context, t *core.Task) {
	timer := d.stats.Tagged(map[string]string{"path": t.Path}).Timer("generator_run_duration").Start()
	start := d.clk.Now()
	status := "success"

	results, err := d.registry.Run(ctx, t.Path, t.Args, d.config.GeneratorTimeout)

	timer.Stop()
	elapsed := d.clk.Now().Sub(start).Seconds()
	d.runSecondsMu.Lock()
	d.runSeconds[t.Path] = elapsed
	d.runSecondsMu.Unlock()

	if err != nil {
		status = "fail"
		log.Errorf("Generator failed for %s: %s", t.Path, err)
	} else {
		if serr := d.cache.Set(ctx, t.FP, &core.CacheEntry{
			UpdatedTimestamp: float64(d.clk.Now().UnixNano()) / float64(time.Second),
			Results:          results,
		}, d.config.CacheTTL); serr != nil {
			status = "fail"
			log.Errorf("Failed to write cache for %s: %s", t.FP, serr)
		} else {
			d.lastRefreshedMu.Lock()
			d.lastRefreshed = timeutil.MostRecent(d.lastRefreshed, d.clk.Now())
			d.lastRefreshedMu.Unlock()
		}
	}
	d.stats.Tagged(map[string]string{"path": t.Path, "status": status}).Counter("generator_requests_total").Inc(1)

	d.tasksMu.Lock()
	t.Running = false
	d.tasksMu.Unlock()
}

// Wait blocks until all in-flight refreshes started before the call
// have finished. Intended for graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
