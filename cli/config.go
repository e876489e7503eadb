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
package main

import (
	"time"

	"github.com/uber/httpsd/lib/cache"
	"github.com/uber/httpsd/lib/dedup"
	"github.com/uber/httpsd/lib/dispatcher"
	"github.com/uber/httpsd/lib/generator"
	"github.com/uber/httpsd/lib/jobqueue"
	"github.com/uber/httpsd/lib/targetserver"
	"github.com/uber/httpsd/lib/worker"
	"github.com/uber/httpsd/metrics"
	"github.com/uber/httpsd/utils/log"
	"github.com/uber/httpsd/utils/tracing"
)

// Config is the top-level configuration loaded via configutil.Load,
// supporting the base/extends chaining convention (see
// utils/configutil) so a "dev.yaml" can extend a shared "base.yaml".
type Config struct {
	ZapLogging log.Config `yaml:"logging"`
	Metrics    metrics.Config `yaml:"metrics"`

	Generator  generator.Config  `yaml:"generator"`
	Dedup      dedup.Config      `yaml:"dedup"`
	Dispatcher dispatcher.Config `yaml:"dispatcher"`
	Worker     worker.Config     `yaml:"worker"`

	Server         targetserver.Config `yaml:"server"`
	SplitCacheTTL  time.Duration       `yaml:"split_cache_ttl"`
	Tracer         tracing.Config      `yaml:"tracer"`

	// Cache selects exactly one binding. Backend is "filesystem" or
	// "redis"; the corresponding nested struct is read.
	Cache struct {
		Backend    string            `yaml:"backend" validate:"nonzero"`
		Filesystem FilesystemConfig  `yaml:"filesystem"`
		Redis      cache.RedisConfig `yaml:"redis"`
	} `yaml:"cache"`

	// JobQueue is only read in split deployments.
	JobQueue jobqueue.Config `yaml:"job_queue"`

	// WorkerMetricsAddr is the dedicated metrics listener address for
	// worker-only processes, distinct from Server.Addr.
	WorkerMetricsAddr string `yaml:"worker_metrics_addr"`
}

// FilesystemConfig configures the filesystem cache binding.
type FilesystemConfig struct {
	Dir string `yaml:"dir" validate:"nonzero"`
}
