// Copyright 2026 AgentV Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log holds the process-wide zap logger shared by the CLI and
// the dispatcher.
package log

import (
	"fmt"

	"go.uber.org/zap"
)

var logger = zap.NewNop()

// Init builds and installs the global logger. Format is "console" or
// "json"; level is any zap level name.
func Init(level, format string) error {
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = parsed

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = built
	return nil
}

// Logger returns the global logger, a no-op logger until Init runs.
func Logger() *zap.Logger {
	return logger
}

// SetLogger replaces the global logger, mainly for tests.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Sync flushes buffered log entries; call before process exit.
func Sync() {
	_ = logger.Sync()
}
