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

// Package writer streams evaluation results to output files. Writers are
// not required to be thread-safe; the dispatcher serializes appends.
package writer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentv-ai/agentv/pkg/eval"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("writer is closed")

// Writer receives evaluation results one at a time. Close flushes any
// buffered state and is idempotent.
type Writer interface {
	Append(result *eval.EvaluationResult) error
	Close() error
}

// New constructs a writer for one output path based on its extension.
func New(path string) (Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return NewJSONL(path)
	case ".json":
		return NewJSON(path)
	case ".yaml", ".yml":
		return NewYAML(path)
	case ".xml":
		return NewJUnit(path)
	default:
		return nil, fmt.Errorf("unsupported output extension %q", filepath.Ext(path))
	}
}

// Multi fans every append to an ordered list of writers.
type Multi struct {
	writers []Writer
	closed  bool
}

// NewMulti builds one writer per path. Any unknown extension fails the
// whole construction; writers already opened are closed again.
func NewMulti(paths []string) (*Multi, error) {
	m := &Multi{}
	for _, path := range paths {
		w, err := New(path)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.writers = append(m.writers, w)
	}
	return m, nil
}

// Append fans the result to every writer. The first error aborts the fan.
func (m *Multi) Append(result *eval.EvaluationResult) error {
	if m.closed {
		return ErrClosed
	}
	for _, w := range m.writers {
		if err := w.Append(result); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer in reverse construction order, returning the
// first error. Idempotent.
func (m *Multi) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for i := len(m.writers) - 1; i >= 0; i-- {
		if err := m.writers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
