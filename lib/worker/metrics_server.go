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
package worker

import (
	"net/http"

	"github.com/uber/httpsd/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes /metrics on a port distinct from the main
// target-serving port, so a worker process's health can be scraped
// independently of the server that proxies client requests.
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer creates a MetricsServer bound to addr.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return &MetricsServer{srv: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks serving /metrics until Close is called.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Close shuts down the metrics listener.
func (s *MetricsServer) Close() error {
	return s.srv.Close()
}
