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

package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLList(t *testing.T) {
	path := writeSuite(t, "cases.yaml", `
- id: capital
  criteria: names the capital of France
  input_messages:
    - role: user
      content: What is the capital of France?
  expected_messages:
    - role: assistant
      content: Paris
- id: tooling
  criteria: uses the search tool
  input: find the weather
  evaluators:
    - kind: tool_trajectory
      mode: in_order
      expected:
        - tool: search
          args: any
`)

	suite, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cases", suite.Name)
	require.Len(t, suite.Cases, 2)

	first := suite.Cases[0]
	assert.Equal(t, "capital", first.ID)
	assert.Equal(t, "What is the capital of France?", first.Question())
	assert.Equal(t, "Paris", first.ReferenceAnswer())
	// Cases without explicit evaluators default to the LLM judge.
	require.Len(t, first.Evaluators, 1)
	assert.Equal(t, eval.KindLLMJudge, first.Evaluators[0].Kind)

	second := suite.Cases[1]
	require.Len(t, second.InputMessages, 1)
	assert.Equal(t, eval.RoleUser, second.InputMessages[0].Role)
	require.Len(t, second.Evaluators, 1)
	assert.Equal(t, eval.KindToolTrajectory, second.Evaluators[0].Kind)
	require.Len(t, second.Evaluators[0].Expected, 1)
	assert.Equal(t, "any", second.Evaluators[0].Expected[0].Args)
}

func TestLoadWrappedYAML(t *testing.T) {
	path := writeSuite(t, "wrapped.yaml", `
name: regression
workspace:
  template: templates/base
cases:
  - id: one
    criteria: does the thing
    input: do it
`)

	suite, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "regression", suite.Name)
	require.NotNil(t, suite.Workspace)
	require.Len(t, suite.Cases, 1)
}

func TestLoadJSONL(t *testing.T) {
	path := writeSuite(t, "cases.jsonl", `
{"id": "a", "expected_outcome": "says yes", "input": "say yes"}

{"id": "b", "criteria": "says no", "input": "say no", "rubrics": [{"id": "r1", "description": "refuses"}]}
`)

	suite, err := Load(path)
	require.NoError(t, err)
	require.Len(t, suite.Cases, 2)

	// expected_outcome aliases criteria.
	assert.Equal(t, "says yes", suite.Cases[0].Criteria)

	// A bare rubric list becomes a single llm_judge evaluator.
	require.Len(t, suite.Cases[1].Evaluators, 1)
	assert.Equal(t, eval.KindLLMJudge, suite.Cases[1].Evaluators[0].Kind)
	require.Len(t, suite.Cases[1].Evaluators[0].Rubrics, 1)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("SUITE_TEST_QUESTION", "what is 2+2")
	path := writeSuite(t, "env.yaml", `
- id: env
  criteria: answers four
  input: $SUITE_TEST_QUESTION
`)

	suite, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "what is 2+2", suite.Cases[0].Question())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty suite",
			content: `[]`,
			wantErr: "no cases",
		},
		{
			name: "missing id",
			content: `
- criteria: x
  input: y
`,
			wantErr: "no id",
		},
		{
			name: "duplicate ids",
			content: `
- id: dup
  criteria: x
  input: y
- id: dup
  criteria: x
  input: y
`,
			wantErr: "duplicate",
		},
		{
			name: "no input",
			content: `
- id: empty
  criteria: x
`,
			wantErr: "no input",
		},
		{
			name: "evaluator and evaluators together",
			content: `
- id: both
  criteria: x
  input: y
  evaluator:
    kind: llm_judge
  evaluators:
    - kind: llm_judge
`,
			wantErr: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSuite(t, "bad.yaml", tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeSuite(t, "cases.toml", `nope`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported suite format")
}

func TestResolvePathsPrefersSuiteDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	script := filepath.Join(dir, "scripts", "judge.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: guided
  criteria: follows the guide
  input: go
  evaluators:
    - kind: agent_judge
      guideline_files:
        - scripts/judge.sh
`), 0o644))

	suite, err := Load(path)
	require.NoError(t, err)
	require.Len(t, suite.Cases[0].Evaluators, 1)
	assert.Equal(t, script, suite.Cases[0].Evaluators[0].GuidelineFiles[0])
}
