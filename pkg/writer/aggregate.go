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
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentv-ai/agentv/pkg/eval"
	"gopkg.in/yaml.v3"
)

// Stats summarize a run for the aggregate output formats.
type Stats struct {
	Total    int     `json:"total" yaml:"total"`
	Passed   int     `json:"passed" yaml:"passed"`
	Failed   int     `json:"failed" yaml:"failed"`
	PassRate float64 `json:"pass_rate" yaml:"pass_rate"`
}

type aggregateDoc struct {
	Stats   Stats                    `json:"stats" yaml:"stats"`
	Results []*eval.EvaluationResult `json:"results" yaml:"results"`
}

func computeStats(results []*eval.EvaluationResult) Stats {
	stats := Stats{Total: len(results)}
	for _, r := range results {
		if r.Verdict == eval.VerdictPass {
			stats.Passed++
		} else {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.PassRate = float64(stats.Passed) / float64(stats.Total)
	}
	return stats
}

// JSON buffers results and writes a single aggregate document with run
// stats on close.
type JSON struct {
	path    string
	results []*eval.EvaluationResult
	closed  bool
}

func NewJSON(path string) (*JSON, error) {
	return &JSON{path: path}, nil
}

func (w *JSON) Append(result *eval.EvaluationResult) error {
	if w.closed {
		return ErrClosed
	}
	w.results = append(w.results, result)
	return nil
}

func (w *JSON) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	doc := aggregateDoc{Stats: computeStats(w.results), Results: w.results}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	return os.WriteFile(w.path, append(data, '\n'), 0o644)
}

// YAML is the aggregate document in YAML form.
type YAML struct {
	path    string
	results []*eval.EvaluationResult
	closed  bool
}

func NewYAML(path string) (*YAML, error) {
	return &YAML{path: path}, nil
}

func (w *YAML) Append(result *eval.EvaluationResult) error {
	if w.closed {
		return ErrClosed
	}
	w.results = append(w.results, result)
	return nil
}

func (w *YAML) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	doc := aggregateDoc{Stats: computeStats(w.results), Results: w.results}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	return os.WriteFile(w.path, data, 0o644)
}
