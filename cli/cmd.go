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

// This file wires together the generator registry, cache, dispatcher
// or worker pool, and HTTP server into the four runnable deployment
// shapes (serve, server-only, worker-only, check).
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/dispatcher"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/lib/jobqueue"
	"github.com/uber/httpsd/lib/targetserver"
	"github.com/uber/httpsd/lib/worker"
	"github.com/uber/httpsd/metrics"
	"github.com/uber/httpsd/utils/closers"
	"github.com/uber/httpsd/utils/configutil"
	"github.com/uber/httpsd/utils/log"
	"github.com/uber/httpsd/utils/shutdown"
	"github.com/uber/httpsd/utils/tracing"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects which of the four deployment shapes Run assembles.
type Mode int

// Deployment modes, corresponding to the serve/server-only/worker-only/
// check CLI subcommands.
const (
	ModeServe Mode = iota
	ModeServerOnly
	ModeWorkerOnly
	ModeCheck
)

// Flags defines the CLI flags common to every subcommand.
type Flags struct {
	Mode       Mode
	ConfigFile string
	Cluster    string
	WorkerID   string
}

type options struct {
	config  *Config
	metrics tally.Scope
	logger  *zap.Logger
	clock   clock.Clock
}

// Option overrides part of Run's default wiring, primarily for tests.
type Option func(*options)

// WithConfig bypasses flags.ConfigFile and uses config directly.
func WithConfig(c Config) Option {
	return func(o *options) { o.config = &c }
}

// WithMetrics bypasses config.Metrics and uses s directly.
func WithMetrics(s tally.Scope) Option {
	return func(o *options) { o.metrics = s }
}

// WithLogger bypasses config.ZapLogging and uses l directly.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the real clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Run assembles and starts the components required by flags.Mode and
// blocks until the process is asked to shut down. It returns the exit
// code: 0 on a clean shutdown or a passing check, 1 when check finds an
// invalid generator or a listener fails. A config that fails to load or
// validate exits with status 1 through log.Fatalf; a tracing setup
// failure is logged and does not change the exit code.
func Run(flags *Flags, opts ...Option) int {
	var overrides options
	for _, o := range opts {
		o(&overrides)
	}

	config := setupConfiguration(flags, &overrides)
	logger := setupLogging(config, &overrides)
	defer func() {
		if logger != nil {
			logger.Sync()
		}
	}()

	stats, statsCloser := setupMetrics(config, flags, &overrides)
	defer statsCloser()

	clk := overrides.clock
	if clk == nil {
		clk = clock.New()
	}

	if flags.Mode == ModeCheck {
		return runCheck(setupGeneratorRegistry(config))
	}

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	sh := shutdown.New(rootCtx)

	tracerShutdown, err := tracing.Setup(sh.Context(), "httpsd", config.Tracer)
	if err != nil {
		log.Errorf("Failed to set up tracing: %s", err)
	} else {
		sh.AddCleanup(func() error { return tracerShutdown(context.Background()) })
	}
	config.Server.Tracing = config.Tracer.Enabled

	registry := setupGeneratorRegistry(config)
	c := setupCache(config)
	if closer, ok := c.(io.Closer); ok {
		sh.AddCleanup(func() error { closers.Close(closer); return nil })
	}

	g, gctx := errgroup.WithContext(sh.Context())

	switch flags.Mode {
	case ModeServe:
		runMonolith(sh, g, config, registry, c, clk, stats)
	case ModeServerOnly:
		runSplitServer(sh, g, config, registry, c, clk, stats)
	case ModeWorkerOnly:
		runWorkerOnly(sh, g, config, registry, c, clk, stats, flags.WorkerID)
	}

	<-gctx.Done()
	sh.Shutdown()
	if err := g.Wait(); err != nil {
		log.Errorf("Server error: %s", err)
		return 1
	}
	return 0
}

func setupConfiguration(flags *Flags, overrides *options) Config {
	if overrides.config != nil {
		return *overrides.config
	}
	var config Config
	if err := configutil.Load(flags.ConfigFile, &config); err != nil {
		log.Fatalf("Failed to load config: %s", err)
	}
	return config
}

func setupLogging(config Config, overrides *options) *zap.Logger {
	if overrides.logger != nil {
		log.SetGlobalLogger(overrides.logger.Sugar())
		return overrides.logger
	}
	if err := log.ConfigureLogger(config.ZapLogging); err != nil {
		log.Fatalf("Failed to configure logger: %s", err)
	}
	return log.Default().Desugar()
}

func setupMetrics(config Config, flags *Flags, overrides *options) (tally.Scope, func()) {
	if overrides.metrics != nil {
		return overrides.metrics, func() {}
	}
	s, closer, err := metrics.New(config.Metrics, flags.Cluster)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	go metrics.EmitVersion(s)
	return s, func() { closer.Close() }
}

func setupGeneratorRegistry(config Config) *generator.Registry {
	return generator.New(config.Generator, config.Dedup)
}

func setupCache(config Config) cache.Cache {
	switch config.Cache.Backend {
	case "filesystem":
		return cache.NewFilesystem(config.Cache.Filesystem.Dir)
	case "redis":
		return cache.NewRedis(config.Cache.Redis)
	default:
		log.Fatalf("Unknown cache backend %q", config.Cache.Backend)
		return nil
	}
}

func setupDispatcher(config Config, registry *generator.Registry, c cache.Cache, clk clock.Clock, stats tally.Scope) *dispatcher.Dispatcher {
	return dispatcher.New(config.Dispatcher, c, registry, clk, stats.SubScope("dispatcher"))
}

func setupJobQueue(sh *shutdown.Handler, config Config) jobqueue.JobQueue {
	q := jobqueue.New(config.JobQueue)
	if closer, ok := q.(io.Closer); ok {
		sh.AddCleanup(func() error { closers.Close(closer); return nil })
	}
	return q
}

func runMonolith(sh *shutdown.Handler, g *errgroup.Group, config Config, registry *generator.Registry, c cache.Cache, clk clock.Clock, stats tally.Scope) {
	d := setupDispatcher(config, registry, c, clk, stats)
	d.Start(sh.Context())
	sh.AddCleanup(func() error { d.Wait(); return nil })

	srv := targetserver.NewMonolith(config.Server, d, registry, stats.SubScope("server"))
	startServer(sh, g, srv)
}

func runSplitServer(sh *shutdown.Handler, g *errgroup.Group, config Config, registry *generator.Registry, c cache.Cache, clk clock.Clock, stats tally.Scope) {
	q := setupJobQueue(sh, config)
	splitConfig := targetserver.SplitConfig{Config: config.Server, CacheTTL: config.SplitCacheTTL}
	srv := targetserver.NewSplit(splitConfig, c, q, registry, stats.SubScope("server"))
	startServer(sh, g, srv)
}

func runWorkerOnly(sh *shutdown.Handler, g *errgroup.Group, config Config, registry *generator.Registry, c cache.Cache, clk clock.Clock, stats tally.Scope, workerID string) {
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Fatalf("Error getting hostname: %s", err)
		}
		workerID = hostname
	}

	q := setupJobQueue(sh, config)
	pool := worker.New(config.Worker, q, c, registry, clk, stats.SubScope("worker"), workerID)
	pool.Start(sh.Context())
	sh.AddCleanup(func() error { pool.Wait(); return nil })

	if config.WorkerMetricsAddr != "" {
		ms := worker.NewMetricsServer(config.WorkerMetricsAddr)
		startServer(sh, g, ms)
	}
}

type startable interface {
	ListenAndServe() error
	Close() error
}

// startServer runs srv under g so its exit (if not a clean Close) fails
// the whole process group and unblocks Run's wait, instead of only
// being logged from an orphan goroutine.
func startServer(sh *shutdown.Handler, g *errgroup.Group, srv startable) {
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	sh.AddCleanup(srv.Close)
}

func runCheck(registry *generator.Registry) int {
	paths, err := registry.Walk()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to walk generator root: %s\n", err)
		return 1
	}
	failed := false
	for _, p := range paths {
		if _, err := registry.Load(p); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", p, err)
			failed = true
		}
	}
	if failed {
		return 1
	}
	fmt.Printf("%d generators OK\n", len(paths))
	return 0
}
