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

// Package suite loads evaluation cases from YAML and JSONL files and
// normalizes their aliased field spellings into the core case model.
package suite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentv-ai/agentv/pkg/eval"
	"gopkg.in/yaml.v3"
)

// Suite is an ordered collection of cases plus file-level defaults.
type Suite struct {
	Name      string
	Path      string
	Cases     []eval.EvalCase
	Workspace *eval.WorkspaceConfig
}

// caseDoc accepts the aliased field spellings a suite file may use.
type caseDoc struct {
	ID               string                 `json:"id" yaml:"id"`
	Dataset          string                 `json:"dataset" yaml:"dataset"`
	Criteria         string                 `json:"criteria" yaml:"criteria"`
	ExpectedOutcome  string                 `json:"expected_outcome" yaml:"expected_outcome"`
	InputMessages    []eval.Message         `json:"input_messages" yaml:"input_messages"`
	Input            string                 `json:"input" yaml:"input"`
	ExpectedMessages []eval.Message         `json:"expected_messages" yaml:"expected_messages"`
	ExpectedOutput   string                 `json:"expected_output" yaml:"expected_output"`
	Evaluator        *eval.EvaluatorConfig  `json:"evaluator" yaml:"evaluator"`
	Evaluators       []eval.EvaluatorConfig `json:"evaluators" yaml:"evaluators"`
	Rubrics          []eval.Rubric          `json:"rubrics" yaml:"rubrics"`
	Workspace        *eval.WorkspaceConfig  `json:"workspace" yaml:"workspace"`
	Metadata         map[string]any         `json:"metadata" yaml:"metadata"`
}

// suiteDoc is the wrapped YAML form with file-level settings.
type suiteDoc struct {
	Name      string                `yaml:"name"`
	Workspace *eval.WorkspaceConfig `yaml:"workspace"`
	Cases     []caseDoc             `yaml:"cases"`
}

// Load reads a suite from a YAML (.yaml/.yml) or JSONL (.jsonl) file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file %s: %w", path, err)
	}
	expanded := os.Expand(string(data), os.Getenv)

	var suite *Suite
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		suite, err = parseYAML(expanded)
	case ".jsonl":
		suite, err = parseJSONL(expanded)
	default:
		return nil, fmt.Errorf("unsupported suite format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
	}

	suite.Path = path
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := validate(suite); err != nil {
		return nil, fmt.Errorf("invalid suite %s: %w", path, err)
	}
	resolvePaths(suite, filepath.Dir(path))
	return suite, nil
}

// parseYAML accepts either a bare case list or a wrapped document with a
// cases key.
func parseYAML(content string) (*Suite, error) {
	var docs []caseDoc
	if err := yaml.Unmarshal([]byte(content), &docs); err == nil {
		return buildSuite("", nil, docs)
	}

	var wrapped suiteDoc
	if err := yaml.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, err
	}
	return buildSuite(wrapped.Name, wrapped.Workspace, wrapped.Cases)
}

// parseJSONL reads one case object per non-empty line.
func parseJSONL(content string) (*Suite, error) {
	var docs []caseDoc
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var doc caseDoc
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buildSuite("", nil, docs)
}

func buildSuite(name string, workspace *eval.WorkspaceConfig, docs []caseDoc) (*Suite, error) {
	suite := &Suite{Name: name, Workspace: workspace}
	for i, doc := range docs {
		c, err := normalizeCase(doc)
		if err != nil {
			return nil, fmt.Errorf("case %d (%s): %w", i, doc.ID, err)
		}
		suite.Cases = append(suite.Cases, c)
	}
	return suite, nil
}

// normalizeCase folds the aliased spellings into the canonical case shape.
func normalizeCase(doc caseDoc) (eval.EvalCase, error) {
	c := eval.EvalCase{
		ID:               doc.ID,
		Dataset:          doc.Dataset,
		Criteria:         doc.Criteria,
		InputMessages:    doc.InputMessages,
		ExpectedMessages: doc.ExpectedMessages,
		Workspace:        doc.Workspace,
		Metadata:         doc.Metadata,
	}

	if c.Criteria == "" {
		c.Criteria = doc.ExpectedOutcome
	}
	if len(c.InputMessages) == 0 && doc.Input != "" {
		c.InputMessages = []eval.Message{{Role: eval.RoleUser, Content: doc.Input}}
	}
	if len(c.ExpectedMessages) == 0 && doc.ExpectedOutput != "" {
		c.ExpectedMessages = []eval.Message{{Role: eval.RoleAssistant, Content: doc.ExpectedOutput}}
	}

	switch {
	case doc.Evaluator != nil && len(doc.Evaluators) > 0:
		return c, fmt.Errorf("evaluator and evaluators are mutually exclusive")
	case doc.Evaluator != nil:
		c.Evaluators = []eval.EvaluatorConfig{*doc.Evaluator}
	case len(doc.Evaluators) > 0:
		c.Evaluators = doc.Evaluators
	case len(doc.Rubrics) > 0:
		// Bare rubric lists are shorthand for a single LLM judge.
		c.Evaluators = []eval.EvaluatorConfig{{Kind: eval.KindLLMJudge, Rubrics: doc.Rubrics}}
	default:
		c.Evaluators = []eval.EvaluatorConfig{{Kind: eval.KindLLMJudge}}
	}

	return c, nil
}

func validate(s *Suite) error {
	if len(s.Cases) == 0 {
		return fmt.Errorf("suite has no cases")
	}
	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.ID == "" {
			return fmt.Errorf("case %d has no id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		if len(c.InputMessages) == 0 {
			return fmt.Errorf("case %q has no input", c.ID)
		}
		if c.Criteria == "" && len(c.ExpectedMessages) == 0 {
			return fmt.Errorf("case %q has neither criteria nor expected messages", c.ID)
		}
	}
	return nil
}

// resolvePaths makes file references absolute relative to the suite file,
// falling back to a repo root marked by go.mod or .git.
func resolvePaths(s *Suite, suiteDir string) {
	root := repoRoot(suiteDir)
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Workspace != nil {
			c.Workspace.Template = resolvePath(c.Workspace.Template, suiteDir, root)
			c.Workspace.SetupScript = resolvePath(c.Workspace.SetupScript, suiteDir, root)
			c.Workspace.TeardownScript = resolvePath(c.Workspace.TeardownScript, suiteDir, root)
		}
		for j := range c.Evaluators {
			resolveEvaluatorPaths(&c.Evaluators[j], suiteDir, root)
		}
	}
	if s.Workspace != nil {
		s.Workspace.Template = resolvePath(s.Workspace.Template, suiteDir, root)
		s.Workspace.SetupScript = resolvePath(s.Workspace.SetupScript, suiteDir, root)
		s.Workspace.TeardownScript = resolvePath(s.Workspace.TeardownScript, suiteDir, root)
	}
}

func resolveEvaluatorPaths(cfg *eval.EvaluatorConfig, suiteDir, root string) {
	for i, f := range cfg.GuidelineFiles {
		cfg.GuidelineFiles[i] = resolvePath(f, suiteDir, root)
	}
	for i := range cfg.Members {
		resolveEvaluatorPaths(&cfg.Members[i], suiteDir, root)
	}
}

// resolvePath tries the suite directory first, then the repo root, and
// keeps the suite-relative form when neither exists yet.
func resolvePath(path, suiteDir, root string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	local := filepath.Join(suiteDir, path)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if root != "" {
		rooted := filepath.Join(root, path)
		if _, err := os.Stat(rooted); err == nil {
			return rooted
		}
	}
	return local
}

// repoRoot walks up from dir looking for go.mod or .git.
func repoRoot(dir string) string {
	current, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}
