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
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uber-go/tally"
	tallyprom "github.com/uber-go/tally/prometheus"
)

// Registry backs the prometheus reporter created by newPrometheusScope.
// The HTTP server's /metrics route renders this registry directly via
// promhttp, so it must be reachable outside this package.
var Registry = prometheus.NewRegistry()

func newPrometheusScope(config Config, cluster string) (tally.Scope, io.Closer, error) {
	r := tallyprom.NewReporter(tallyprom.Options{
		Registerer: Registry,
	})
	s, c := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         config.Prometheus.Prefix,
		Tags:           map[string]string{"cluster": cluster},
		CachedReporter: r,
		Separator:      tallyprom.DefaultSeparator,
	}, time.Second)
	return s, c, nil
}
