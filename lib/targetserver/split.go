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
	"net/http"
	"strconv"
	"time"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/lib/jobqueue"
	"github.com/uber/httpsd/utils/handler"
	"github.com/uber/httpsd/utils/log"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"
)

// SplitConfig adds the split deployment's cache-freshness window on
// top of the common server Config.
type SplitConfig struct {
	Config   Config        `yaml:",inline"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"nonzero"`
}

// SplitServer binds a Cache + JobQueue pair directly, with no
// Dispatcher: misses and expiries enqueue a job for the worker pool
// to pick up.
type SplitServer struct {
	base
	config   SplitConfig
	cache    cache.Cache
	queue    jobqueue.JobQueue
	registry *generator.Registry
}

// NewSplit creates a SplitServer.
func NewSplit(config SplitConfig, c cache.Cache, q jobqueue.JobQueue, registry *generator.Registry, stats tally.Scope) *SplitServer {
	s := &SplitServer{
		base:     base{config: config.Config, stats: stats},
		config:   config,
		cache:    c,
		queue:    q,
		registry: registry,
	}
	s.srv = &http.Server{Addr: config.Config.Addr, Handler: newRouter(stats, config.Config, s.mount)}
	return s
}

func (s *SplitServer) mount(r chi.Router) {
	r.Get("/", handler.Wrap(s.indexHandler))
	r.Get("/targets", handler.Wrap(s.targetsHandler))
	r.Get("/targets/*", handler.Wrap(s.targetsHandler))
	r.Get("/scrape_configs/*", handler.Wrap(s.scrapeConfigsHandler))
}

func (s *SplitServer) indexHandler(w http.ResponseWriter, r *http.Request) error {
	return renderIndex(w, s.config.Config.Root)
}

func (s *SplitServer) targetsHandler(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	path := chi.URLParam(r, "*")
	query := r.URL.Query()
	fp := core.Canonicalize(r.URL.Path, query)
	args := stripControlKeys(query)

	if query.Get("reload") == "true" {
		return s.reloadHandler(ctx, w, path, fp, args)
	}
	if query.Get("debug") == "true" {
		return s.debugHandler(ctx, w, fp)
	}

	results, err := s.getTargets(ctx, fp)
	if err == nil {
		return respondTargets(w, s.stats, path, results, nil)
	}
	// Cache miss or expiry: make sure a job is scheduled.
	s.maybeEnqueue(ctx, fp, path, args)
	return respondTargets(w, s.stats, path, nil, err)
}

func (s *SplitServer) getTargets(ctx context.Context, fp core.Fingerprint) (core.TargetGroupList, error) {
	entry, err := s.cache.Get(ctx, fp)
	if err != nil {
		return nil, err
	}
	age := nowSeconds() - entry.UpdatedTimestamp
	if age > s.config.CacheTTL.Seconds() {
		return nil, &core.CacheExpiredError{UpdatedTimestamp: entry.UpdatedTimestamp, TTLSeconds: s.config.CacheTTL.Seconds()}
	}
	return entry.Results, nil
}

func asExpired(err error) (*core.CacheExpiredError, bool) {
	e, ok := err.(*core.CacheExpiredError)
	return e, ok
}

func (s *SplitServer) maybeEnqueue(ctx context.Context, fp core.Fingerprint, path string, args map[string][]string) {
	already, err := s.queue.Contains(ctx, fp)
	if err != nil {
		log.Errorf("Failed to check queue membership for %s: %s", fp, err)
		return
	}
	if already {
		return
	}
	job := core.Job{JobID: string(fp) + ":" + nowSecondsString(), FP: fp, Path: path, Args: args}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		log.Errorf("Failed to enqueue job for %s: %s", fp, err)
	}
}

func (s *SplitServer) reloadHandler(ctx context.Context, w http.ResponseWriter, path string, fp core.Fingerprint, args map[string][]string) error {
	if err := s.cache.Delete(ctx, fp); err != nil {
		return handler.Errorf("%s", err).Status(http.StatusInternalServerError)
	}
	s.maybeEnqueue(ctx, fp, path, args)
	return writeJSON(w, http.StatusOK, map[string]string{"status": "reload_initiated"})
}

// debugHandler returns the cached error-shadow entry if present, else
// a processing/no-info status, per the split-mode debug response
// schema (SPEC_FULL.md §12 decision 2).
func (s *SplitServer) debugHandler(ctx context.Context, w http.ResponseWriter, fp core.Fingerprint) error {
	if entry, err := s.cache.GetError(ctx, fp); err == nil {
		return writeJSON(w, http.StatusOK, entry)
	}
	if inQueue, err := s.queue.Contains(ctx, fp); err == nil && inQueue {
		return writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "no_debug_info"})
}

func (s *SplitServer) scrapeConfigsHandler(w http.ResponseWriter, r *http.Request) error {
	return scrapeConfigsResponse(w, r, s.registry, s.config.Config.Root, chi.URLParam(r, "*"))
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func nowSecondsString() string {
	return strconv.FormatFloat(nowSeconds(), 'f', -1, 64)
}
