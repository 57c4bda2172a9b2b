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

package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentv-ai/agentv/pkg/eval"
)

// JSONL appends one JSON object per line, flushed on every append so a
// crashed run still leaves usable partial output.
type JSONL struct {
	file   *os.File
	buf    *bufio.Writer
	closed bool
}

func NewJSONL(path string) (*JSONL, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &JSONL{file: file, buf: bufio.NewWriter(file)}, nil
}

func (w *JSONL) Append(result *eval.EvaluationResult) error {
	if w.closed {
		return ErrClosed
	}
	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize result %s: %w", result.TestID, err)
	}
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *JSONL) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
