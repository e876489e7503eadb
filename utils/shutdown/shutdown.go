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

// Package shutdown provides a cancelable root context paired with a
// LIFO cleanup stack, so every setupX wiring step can register its
// own teardown without the orchestrator needing to know the order.
package shutdown

import (
	"context"
	"sync"

	"github.com/uber/httpsd/utils/errutil"
	"github.com/uber/httpsd/utils/log"
)

// Handler owns the process's root context and cleanup stack.
type Handler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	cleanups []func() error
	once     sync.Once
}

// New creates a Handler deriving its context from parent.
func New(parent context.Context) *Handler {
	ctx, cancel := context.WithCancel(parent)
	return &Handler{ctx: ctx, cancel: cancel}
}

// Context returns the handler's root context, cancelled on Shutdown.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers f to run on Shutdown. Cleanups run LIFO, mirroring
// the order dependent resources were constructed in.
func (h *Handler) AddCleanup(f func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, f)
}

// Shutdown cancels the context and runs all registered cleanups in
// LIFO order. Safe to call multiple times; only the first call acts.
func (h *Handler) Shutdown() {
	if err := h.ShutdownErr(); err != nil {
		log.Errorf("Cleanup error: %s", err)
	}
}

// ShutdownErr behaves like Shutdown but returns every cleanup error
// joined into one, instead of only logging them. Subsequent calls
// return nil, since only the first call runs any cleanup.
func (h *Handler) ShutdownErr() error {
	var joined error
	h.once.Do(func() {
		h.cancel()
		h.mu.Lock()
		defer h.mu.Unlock()
		var errs []error
		for i := len(h.cleanups) - 1; i >= 0; i-- {
			errs = append(errs, h.cleanups[i]())
		}
		joined = errutil.Join(errs)
	})
	return joined
}
