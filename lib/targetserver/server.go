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

// Package targetserver implements the HTTP adapter in front of the
// dispatch/cache core: it translates scrape requests into fingerprints
// and cache reads, and never blocks the request path on generation.
package targetserver

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/uber/httpsd/lib/middleware"
	"github.com/uber/httpsd/metrics"
	"github.com/uber/httpsd/utils/handler"
	"github.com/uber/httpsd/utils/log"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uber-go/tally"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config controls the HTTP adapter, shared by both deployment modes.
type Config struct {
	Addr   string `yaml:"addr" validate:"nonzero"`
	Prefix string `yaml:"prefix"`
	Root   string `yaml:"root" validate:"nonzero"`

	// Tracing wraps every request in an OTLP span when set; cli sets it
	// from the tracer config's enabled field. Left off by default.
	Tracing bool `yaml:"tracing"`
}

type base struct {
	config Config
	stats  tally.Scope
	srv    *http.Server
}

// newRouter builds the common middleware stack and mounts routes at
// config.Prefix + suffix via the given mount callback, which should
// register its routes on the prefixed subrouter it is given.
func newRouter(stats tally.Scope, config Config, mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StatusCounter(stats))
	r.Use(middleware.LatencyTimer(stats))
	r.Use(requestTracingMiddleware)

	metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP

	prefix := strings.TrimSuffix(config.Prefix, "/")
	if prefix == "" {
		mount(r)
		r.Get("/metrics", metricsHandler)
	} else {
		r.Route(prefix, mount)
		r.Get(prefix+"/metrics", metricsHandler)
	}

	if !config.Tracing {
		return r
	}
	return otelhttp.NewHandler(r, "httpsd")
}

// requestTracingMiddleware assigns a request ID, echoes it on the
// response, and logs request start/completion with duration.
func requestTracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := fmt.Sprintf("%d", rand.Int63())
		start := time.Now()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		log.With("request_id", requestID, "method", r.Method, "path", r.URL.Path).Info("Request started")
		defer func() {
			log.With(
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			).Info("Request completed")
		}()

		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// Addr returns the configured listen address.
func (b *base) Addr() string {
	return b.config.Addr
}

// ListenAndServe blocks serving HTTP until Close is called.
func (b *base) ListenAndServe() error {
	log.Infof("Starting target server on %s", b.config.Addr)
	err := b.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down.
func (b *base) Close() error {
	return b.srv.Close()
}

// renderIndex lists subdirectories under root, hiding any component
// that starts with "_".
func renderIndex(w http.ResponseWriter, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return handler.Errorf("%s", err).Status(http.StatusInternalServerError)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "_") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<html><body><ul>")
	for _, n := range names {
		fmt.Fprintf(w, "<li><a href=%q>%s</a></li>\n", n, n)
	}
	fmt.Fprintln(w, "</ul></body></html>")
	return nil
}
