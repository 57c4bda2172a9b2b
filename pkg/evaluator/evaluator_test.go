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

package evaluator

import (
	"errors"
	"testing"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryUnknownKind(t *testing.T) {
	_, err := New(eval.EvaluatorConfig{Kind: "telepathy"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestFactoryBuildsEveryKind(t *testing.T) {
	configs := []eval.EvaluatorConfig{
		{Kind: eval.KindToolTrajectory, Minimums: map[string]int{"read": 1}},
		{Kind: eval.KindFieldAccuracy, Fields: []eval.FieldSpec{{Path: "a"}}},
		{Kind: eval.KindLLMJudge},
		{Kind: eval.KindRubric, Rubrics: []eval.Rubric{{ID: "r1", Description: "d"}}},
		{Kind: eval.KindAgentJudge},
		{Kind: eval.KindCodeJudge, Command: []string{"true"}},
		{Kind: eval.KindComposite, Members: []eval.EvaluatorConfig{{Kind: eval.KindLLMJudge}}},
		{Kind: eval.KindLatency, MaxLatencyMs: 1000},
		{Kind: eval.KindCost, MaxCostUSD: 1},
		{Kind: eval.KindTokenUsage, MaxTokens: 1000},
		{Kind: eval.KindExecutionMetrics},
	}

	evaluators, err := BuildAll(configs)
	require.NoError(t, err)
	assert.Len(t, evaluators, len(configs))
}

func TestBuildAllFailsOnFirstBadConfig(t *testing.T) {
	_, err := BuildAll([]eval.EvaluatorConfig{
		{Kind: eval.KindLLMJudge},
		{Kind: "bogus"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluator 1")
}

func TestRequiresJudge(t *testing.T) {
	tests := []struct {
		name    string
		configs []eval.EvaluatorConfig
		want    bool
	}{
		{
			name:    "trajectory only",
			configs: []eval.EvaluatorConfig{{Kind: eval.KindToolTrajectory}},
			want:    false,
		},
		{
			name:    "llm judge",
			configs: []eval.EvaluatorConfig{{Kind: eval.KindLLMJudge}},
			want:    true,
		},
		{
			name:    "code judge without target",
			configs: []eval.EvaluatorConfig{{Kind: eval.KindCodeJudge, Command: []string{"true"}}},
			want:    false,
		},
		{
			name: "code judge with proxy target",
			configs: []eval.EvaluatorConfig{
				{Kind: eval.KindCodeJudge, Command: []string{"true"}, Target: &eval.ProxyTarget{Name: "judge"}},
			},
			want: true,
		},
		{
			name: "composite with judge member",
			configs: []eval.EvaluatorConfig{
				{Kind: eval.KindComposite, Members: []eval.EvaluatorConfig{{Kind: eval.KindRubric}}},
			},
			want: true,
		},
		{
			name: "composite with llm aggregator",
			configs: []eval.EvaluatorConfig{
				{
					Kind:       eval.KindComposite,
					Aggregator: AggregatorLLMJudge,
					Members:    []eval.EvaluatorConfig{{Kind: eval.KindToolTrajectory}},
				},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresJudge(tt.configs))
		})
	}
}

func TestDeepEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"numbers across types", 10, 10.0, true},
		{"strings", "a", "a", true},
		{"string vs number", "10", 10, false},
		{"nested maps", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": map[string]any{"b": 1.0}}, true},
		{"yaml style map", map[any]any{"k": 1}, map[string]any{"k": 1}, true},
		{"slices", []any{1, "two"}, []any{1.0, "two"}, true},
		{"slice length mismatch", []any{1}, []any{1, 2}, false},
		{"nils", nil, nil, true},
		{"nil vs value", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deepEqual(tt.a, tt.b))
		})
	}
}

func TestResolvePath(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{
			"b": []any{
				map[string]any{"c": "found"},
			},
		},
		"top": 1,
	}

	got, ok := resolvePath(doc, "a.b[0].c")
	require.True(t, ok)
	assert.Equal(t, "found", got)

	got, ok = resolvePath(doc, "top")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = resolvePath(doc, "a.b[5].c")
	assert.False(t, ok)

	_, ok = resolvePath(doc, "a.missing")
	assert.False(t, ok)
}
