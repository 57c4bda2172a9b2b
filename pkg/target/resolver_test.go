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

package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadResolverInterpolatesEnv(t *testing.T) {
	dir := t.TempDir()
	tracePath := writeFile(t, dir, "traces.yaml", `
case-1:
  output_messages:
    - role: assistant
      content: "hello"
`)

	targetsPath := writeFile(t, dir, "targets.yaml", `
targets:
  replay:
    kind: static
    config:
      trace_file: ${{ TRACE_FILE }}
`)

	r, err := LoadResolver(targetsPath, map[string]string{"TRACE_FILE": tracePath})
	require.NoError(t, err)

	resolved, err := r.Resolve("replay")
	require.NoError(t, err)
	assert.Equal(t, "static", resolved.Kind)
	assert.Equal(t, "static", resolved.Provider.Name())
}

func TestLoadResolverUnresolvedEnvReference(t *testing.T) {
	dir := t.TempDir()
	targetsPath := writeFile(t, dir, "targets.yaml", `
targets:
  api:
    kind: anthropic
    config:
      api_key: ${{ MISSING_KEY }}
`)

	_, err := LoadResolver(targetsPath, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_KEY")
}

func TestLoadResolverRejectsInvalidShape(t *testing.T) {
	dir := t.TempDir()
	targetsPath := writeFile(t, dir, "targets.yaml", `
targets:
  bad:
    kind: static
    workers: -3
`)

	_, err := LoadResolver(targetsPath, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid targets file")
}

func TestNewResolverValidation(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{
			name:    "missing kind",
			def:     Definition{},
			wantErr: "kind is required",
		},
		{
			name: "template and cwd both set on agent CLI",
			def: Definition{
				Kind:              "claude-code",
				WorkspaceTemplate: "/tmp/tpl",
				Cwd:               "/tmp/cwd",
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "negative workers",
			def:     Definition{Kind: "static", Workers: -1},
			wantErr: "workers must be non-negative",
		},
		{
			name: "batching enabled without size",
			def: Definition{
				Kind:     "static",
				Batching: &BatchingConfig{Enabled: true},
			},
			wantErr: "size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(map[string]Definition{"t": tt.def})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveCachesInstances(t *testing.T) {
	r, err := NewResolver(map[string]Definition{
		"replay": {Kind: "static"},
	})
	require.NoError(t, err)

	first, err := r.Resolve("replay")
	require.NoError(t, err)
	second, err := r.Resolve("replay")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestResolveUnknownTarget(t *testing.T) {
	r, err := NewResolver(map[string]Definition{"replay": {Kind: "static"}})
	require.NoError(t, err)

	_, err = r.Resolve("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown target "nope"`)
}

func TestResolveJudge(t *testing.T) {
	r, err := NewResolver(map[string]Definition{
		"agent": {Kind: "static", JudgeTarget: "grader"},
		"plain": {Kind: "static"},
		"grader": {Kind: "anthropic", Config: map[string]string{
			"model": "claude-sonnet-4-5",
		}},
	})
	require.NoError(t, err)

	judge, err := r.ResolveJudge("agent")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", judge.Name())

	self, err := r.ResolveJudge("plain")
	require.NoError(t, err)
	assert.Equal(t, "static", self.Name())
}

func TestEffectiveWorkers(t *testing.T) {
	tests := []struct {
		name string
		r    Resolved
		want int
	}{
		{name: "configured count", r: Resolved{Kind: "static", Workers: 4}, want: 4},
		{name: "defaults to one", r: Resolved{Kind: "static"}, want: 1},
		{name: "focused window forces one", r: Resolved{Kind: "vscode", Workers: 8}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.EffectiveWorkers())
		})
	}
}

func TestInjectedCase(t *testing.T) {
	r := &Resolved{Kind: "claude-code", WorkspaceTemplate: "/tpl/project"}

	bare := &eval.EvalCase{ID: "c1"}
	injected := r.InjectedCase(bare)
	require.NotSame(t, bare, injected)
	require.NotNil(t, injected.Workspace)
	assert.Equal(t, "/tpl/project", injected.Workspace.Template)
	assert.Nil(t, bare.Workspace)

	own := &eval.EvalCase{ID: "c2", Workspace: &eval.WorkspaceConfig{Template: "/mine"}}
	assert.Same(t, own, r.InjectedCase(own))
}

func TestNormalizeAzureVersion(t *testing.T) {
	assert.Equal(t, "2024-06-01", NormalizeAzureVersion("api-version=2024-06-01"))
	assert.Equal(t, "2024-06-01", NormalizeAzureVersion("2024-06-01"))
}
