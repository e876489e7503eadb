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

// Package log provides a process-wide structured logger built on
// zap, so every component can log through the same sink without
// threading a *zap.SugaredLogger through every constructor.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global = newProductionDefault()
)

func newProductionDefault() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		// Should never happen with the production preset; fall back to a
		// no-op logger rather than panic during package init.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Config controls the global logger's behavior.
type Config struct {
	Level string `yaml:"level" default:"info"`
}

// ConfigureLogger rebuilds the global logger from config. Call once at
// startup after flags/config are parsed.
func ConfigureLogger(config Config) error {
	var lvl zapcore.Level
	if config.Level == "" {
		lvl = zapcore.InfoLevel
	} else if err := lvl.UnmarshalText([]byte(config.Level)); err != nil {
		return err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return err
	}
	SetGlobalLogger(logger.Sugar())
	return nil
}

// Default returns the current global logger.
func Default() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// SetGlobalLogger replaces the global logger. Tests use this to
// capture output or restore the default afterward.
func SetGlobalLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// With returns a child logger with the given structured key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger {
	return Default().With(args...)
}

// Infof logs at info level through the global logger.
func Infof(format string, args ...interface{}) { Default().Infof(format, args...) }

// Errorf logs at error level through the global logger.
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }

// Warnf logs at warn level through the global logger.
func Warnf(format string, args ...interface{}) { Default().Warnf(format, args...) }

// Debugf logs at debug level through the global logger.
func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }

// Fatalf logs at fatal level through the global logger and exits.
func Fatalf(format string, args ...interface{}) { Default().Fatalf(format, args...) }

// Info logs its arguments at info level.
func Info(args ...interface{}) { Default().Info(args...) }

// Error logs its arguments at error level.
func Error(args ...interface{}) { Default().Error(args...) }

// Fatal logs its arguments at fatal level and exits.
func Fatal(args ...interface{}) { Default().Fatal(args...) }
