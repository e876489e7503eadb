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

// Package generator loads and runs target generators from a directory
// tree: static JSON/YAML files, or compiled Go plugins for generators
// that need to compute targets dynamically.
package generator

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"time"

	"github.com/uber/httpsd/core"
	"github.com/uber/httpsd/lib/dedup"

	"github.com/andres-erbsen/clock"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v2"
)

// Generator produces a list of target groups for a given set of query
// arguments. JSON/YAML generators ignore args entirely; plugin
// generators may use them to compute results dynamically.
type Generator interface {
	Run(ctx context.Context, args map[string][]string) (core.TargetGroupList, error)
}

// Config controls the registry's behavior.
type Config struct {
	Root                   string `yaml:"root" validate:"nonzero"`
	MaxGeneratorOutputSize datasize.ByteSize `yaml:"max_generator_output_size"`
}

func (c Config) applyDefaults() Config {
	if c.MaxGeneratorOutputSize == 0 {
		c.MaxGeneratorOutputSize = 10 * datasize.MB
	}
	return c
}

// Registry loads Generators from files under a root directory and
// deduplicates concurrent runs of the same (path, args) pair.
type Registry struct {
	config  Config
	loaders map[string]func(path string) (Generator, error)
	dedup   *dedup.Cache
}

// New creates a Registry rooted at config.Root.
func New(config Config, dedupCfg dedup.Config) *Registry {
	config = config.applyDefaults()
	r := &Registry{
		config: config,
		dedup:  dedup.New(dedupCfg, clock.New()),
	}
	r.loaders = map[string]func(path string) (Generator, error){
		".json": r.loadJSON,
		".yaml": r.loadYAML,
		".yml":  r.loadYAML,
		".so":   r.loadPlugin,
	}
	return r
}

// Walk enumerates every file under the registry root, skipping any
// path component that starts with "_" or ".".
func (r *Registry) Walk() ([]string, error) {
	var paths []string
	err := filepath.Walk(r.config.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(r.config.Root, path)
		if rerr != nil {
			return rerr
		}
		if rel != "." && shouldIgnore(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func shouldIgnore(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// Load dispatches on path's extension to build a Generator. Unknown
// extensions yield core.ErrUnknownFileType.
func (r *Registry) Load(path string) (Generator, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := r.loaders[ext]
	if !ok {
		return nil, core.ErrUnknownFileType
	}
	return loader(path)
}

// Run loads and executes the generator at path, deduplicating
// concurrent calls that share the same path and args.
func (r *Registry) Run(ctx context.Context, path string, args map[string][]string, timeout time.Duration) (core.TargetGroupList, error) {
	key := string(core.Canonicalize(path, url.Values(args)))
	v, err := r.dedup.Get(key, timeout, func() (interface{}, error) {
		gen, err := r.Load(path)
		if err != nil {
			return nil, err
		}
		return gen.Run(ctx, args)
	})
	if err != nil {
		return nil, err
	}
	results, ok := v.(core.TargetGroupList)
	if !ok || results == nil {
		// A generator that produced JSON/YAML `null`, or a plugin that
		// returned a nil slice, is a failure, not an empty result set
		// (§3 invariant 4). A generator returning `[]` explicitly is
		// unaffected: json.Unmarshal leaves that non-nil.
		return nil, core.ErrGeneratorFailure
	}
	return results, nil
}

// staticGenerator serves a fixed TargetGroupList decoded once at load
// time, used for both JSON and YAML files.
type staticGenerator struct {
	results core.TargetGroupList
}

func (g *staticGenerator) Run(ctx context.Context, args map[string][]string) (core.TargetGroupList, error) {
	return g.results, nil
}

func (r *Registry) loadJSON(path string) (Generator, error) {
	data, err := r.readBounded(path)
	if err != nil {
		return nil, err
	}
	var results core.TargetGroupList
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, core.ErrGeneratorFailure
	}
	return &staticGenerator{results: results}, nil
}

func (r *Registry) loadYAML(path string) (Generator, error) {
	data, err := r.readBounded(path)
	if err != nil {
		return nil, err
	}
	var results core.TargetGroupList
	if err := yaml.Unmarshal(data, &results); err != nil {
		return nil, core.ErrGeneratorFailure
	}
	return &staticGenerator{results: results}, nil
}

// loadPlugin loads a compiled Go plugin exposing a
// `Generate(args map[string][]string) (core.TargetGroupList, error)`
// symbol. This is the Go-native substitute for the dynamic script
// loading the request flow models: Go cannot exec arbitrary source at
// runtime, so a generator that needs to compute targets dynamically
// ships as a pre-compiled .so instead of a .py file.
func (r *Registry) loadPlugin(path string) (Generator, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, core.ErrGeneratorFailure
	}
	sym, err := p.Lookup("Generate")
	if err != nil {
		return nil, core.ErrGeneratorFailure
	}
	fn, ok := sym.(func(args map[string][]string) (core.TargetGroupList, error))
	if !ok {
		return nil, core.ErrGeneratorFailure
	}
	return &pluginGenerator{fn: fn}, nil
}

type pluginGenerator struct {
	fn func(args map[string][]string) (core.TargetGroupList, error)
}

func (g *pluginGenerator) Run(ctx context.Context, args map[string][]string) (core.TargetGroupList, error) {
	return g.fn(args)
}

func (r *Registry) readBounded(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.ErrGeneratorFailure
	}
	if datasize.ByteSize(info.Size()) > r.config.MaxGeneratorOutputSize {
		return nil, core.ErrGeneratorFailure
	}
	return os.ReadFile(path)
}
