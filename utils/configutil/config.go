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

// Package configutil loads YAML configuration into a struct, applying
// an optional chain of "extends" base files before validating the
// merged result once.
package configutil

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned when an extends chain refers back to a file
// already in the chain.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps a field-level validation failure.
type ValidationError struct {
	errs validator.ErrorMap
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return e.errs.Error()
}

// ErrForField returns the validation errors recorded for the named
// struct field, or nil if it passed validation.
func (e ValidationError) ErrForField(name string) validator.ErrorArray {
	return e.errs[name]
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// Load reads filename, follows its "extends" chain (base files first),
// unmarshals each file's YAML into config in order, and validates the
// merged result exactly once.
func Load(filename string, config interface{}) error {
	chain, err := resolveExtends(filename, readRawExtends)
	if err != nil {
		return err
	}
	return loadFiles(config, chain)
}

// readRawExtends returns the literal "extends:" field of filename's
// YAML document, unresolved against filename's directory.
func readRawExtends(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	var stub extendsStub
	if err := yaml.Unmarshal(data, &stub); err != nil {
		return "", err
	}
	return stub.Extends, nil
}

// resolveExtends walks filename's extends chain via next, resolving
// relative targets against the referring file's directory, and
// returns the ordered file list from the deepest base to filename.
func resolveExtends(filename string, next func(string) (string, error)) ([]string, error) {
	visited := map[string]bool{filename: true}
	chain := []string{filename}
	cur := filename
	for {
		raw, err := next(cur)
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		parent := raw
		if !filepath.IsAbs(parent) {
			parent = filepath.Join(filepath.Dir(cur), parent)
		}
		if visited[parent] {
			return nil, ErrCycleRef
		}
		visited[parent] = true
		chain = append(chain, parent)
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// loadFiles unmarshals each file in filenames into config, in order,
// so later files only override fields present in their own document,
// then validates the merged result once.
func loadFiles(config interface{}, filenames []string) error {
	for _, fn := range filenames {
		data, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return err
		}
	}
	if err := validator.Validate(config); err != nil {
		if verrs, ok := err.(validator.ErrorMap); ok {
			return ValidationError{verrs}
		}
		return err
	}
	return nil
}
