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
	"net/http"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/dispatcher"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/utils/handler"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"
)

// MonolithServer binds a Dispatcher directly: requests register a
// Task and read straight from the in-process cache binding.
type MonolithServer struct {
	base
	dispatcher *dispatcher.Dispatcher
	registry   *generator.Registry
}

// NewMonolith creates a MonolithServer.
func NewMonolith(config Config, d *dispatcher.Dispatcher, registry *generator.Registry, stats tally.Scope) *MonolithServer {
	s := &MonolithServer{base: base{config: config, stats: stats}, dispatcher: d, registry: registry}
	s.srv = &http.Server{Addr: config.Addr, Handler: newRouter(stats, config, s.mount)}
	return s
}

func (s *MonolithServer) mount(r chi.Router) {
	r.Get("/", handler.Wrap(s.indexHandler))
	r.Get("/targets", handler.Wrap(s.targetsHandler))
	r.Get("/targets/*", handler.Wrap(s.targetsHandler))
	r.Get("/scrape_configs/*", handler.Wrap(s.scrapeConfigsHandler))
}

func (s *MonolithServer) indexHandler(w http.ResponseWriter, r *http.Request) error {
	return renderIndex(w, s.config.Root)
}

func (s *MonolithServer) targetsHandler(w http.ResponseWriter, r *http.Request) error {
	path := chi.URLParam(r, "*")
	query := r.URL.Query()
	fp := core.Canonicalize(r.URL.Path, query)

	if query.Get("debug") == "true" {
		return writeJSON(w, http.StatusOK, map[string]interface{}{
			"generator_run_seconds": s.dispatcher.GeneratorRunSeconds(),
		})
	}

	args := stripControlKeys(query)
	results, err := s.dispatcher.GetTargets(r.Context(), path, fp, args)
	return respondTargets(w, s.stats, path, results, err)
}

func (s *MonolithServer) scrapeConfigsHandler(w http.ResponseWriter, r *http.Request) error {
	return scrapeConfigsResponse(w, r, s.registry, s.config.Root, chi.URLParam(r, "*"))
}
