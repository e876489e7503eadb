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

// Package handler adapts fallible HTTP handlers into standard
// http.HandlerFuncs, translating a returned error into a structured
// JSON response with the appropriate status code.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/uber/httpsd/utils/log"
)

// Error is an error carrying an HTTP status code. An Error built by
// Errorf carries 500 until Status is called.
type Error struct {
	status  int
	message string
}

// Errorf creates an Error from a format string, defaulting to 500.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{status: http.StatusInternalServerError, message: fmt.Sprintf(format, args...)}
}

// ErrorStatus creates a status-only Error using the standard text for
// that status code as its message.
func ErrorStatus(status int) *Error {
	return &Error{status: status, message: http.StatusText(status)}
}

// Status sets e's status code and returns e for chaining.
func (e *Error) Status(status int) *Error {
	e.status = status
	return e
}

// GetStatus returns e's HTTP status code.
func (e *Error) GetStatus() int {
	return e.status
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.message
}

// Wrap adapts f into an http.HandlerFunc. If f returns an *Error, its
// status and message are written as a JSON body; any other error is
// logged and surfaced as 500.
func Wrap(f func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			status := http.StatusInternalServerError
			message := err.Error()
			if herr, ok := err.(*Error); ok {
				status = herr.status
				message = herr.message
			} else {
				log.With("method", r.Method, "path", r.URL.Path).Errorf("Unhandled handler error: %s", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": message})
		}
	}
}
