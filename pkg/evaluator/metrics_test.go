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
	"context"
	"testing"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 {
	return &v
}

func TestLatencyGate(t *testing.T) {
	evaluator, err := newLatencyGate(eval.EvaluatorConfig{
		Kind:         eval.KindLatency,
		MaxLatencyMs: 1000,
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		duration int64
		want     float64
	}{
		{"under limit", 500, 1.0},
		{"over limit", 5000, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := &Context{
				Case:         &eval.EvalCase{ID: "latency"},
				TraceSummary: &eval.TraceSummary{DurationMs: tt.duration},
			}
			score, err := evaluator.Evaluate(context.Background(), ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, score.Score)
		})
	}
}

func TestLatencyGateMissingDuration(t *testing.T) {
	evaluator, err := newLatencyGate(eval.EvaluatorConfig{
		Kind:         eval.KindLatency,
		MaxLatencyMs: 1000,
	})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), &Context{Case: &eval.EvalCase{ID: "x"}})
	require.NoError(t, err)
	assert.Equal(t, eval.VerdictFail, score.Verdict)
}

func TestCostGate(t *testing.T) {
	evaluator, err := newCostGate(eval.EvaluatorConfig{
		Kind:       eval.KindCost,
		MaxCostUSD: 0.10,
	})
	require.NoError(t, err)

	cheap := &Context{
		Case:         &eval.EvalCase{ID: "cost"},
		TraceSummary: &eval.TraceSummary{CostUSD: float64Ptr(0.05)},
	}
	score, err := evaluator.Evaluate(context.Background(), cheap)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score.Score)

	expensive := &Context{
		Case:         &eval.EvalCase{ID: "cost"},
		TraceSummary: &eval.TraceSummary{CostUSD: float64Ptr(0.50)},
	}
	score, err = evaluator.Evaluate(context.Background(), expensive)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Score)
}

func TestCostGateUnknownCostSkips(t *testing.T) {
	evaluator, err := newCostGate(eval.EvaluatorConfig{
		Kind:       eval.KindCost,
		MaxCostUSD: 0.10,
	})
	require.NoError(t, err)

	ec := &Context{
		Case:         &eval.EvalCase{ID: "cost"},
		TraceSummary: &eval.TraceSummary{},
	}
	score, err := evaluator.Evaluate(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score.Score)
	require.Len(t, score.Hits, 1)
	assert.Contains(t, score.Hits[0], "skipped")
}

func TestTokenUsageGateReportedUsage(t *testing.T) {
	evaluator, err := newTokenUsageGate(eval.EvaluatorConfig{
		Kind:      eval.KindTokenUsage,
		MaxTokens: 1000,
	})
	require.NoError(t, err)

	under := &Context{
		Case: &eval.EvalCase{ID: "tokens"},
		TraceSummary: &eval.TraceSummary{
			TokenUsage: &eval.TokenUsage{Input: 300, Output: 400},
		},
	}
	score, err := evaluator.Evaluate(context.Background(), under)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score.Score)

	over := &Context{
		Case: &eval.EvalCase{ID: "tokens"},
		TraceSummary: &eval.TraceSummary{
			TokenUsage: &eval.TokenUsage{Input: 900, Output: 400},
		},
	}
	score, err = evaluator.Evaluate(context.Background(), over)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Score)
}

func TestTokenUsageGateEstimatesWhenUnreported(t *testing.T) {
	evaluator, err := newTokenUsageGate(eval.EvaluatorConfig{
		Kind:      eval.KindTokenUsage,
		MaxTokens: 5,
	})
	require.NoError(t, err)

	ec := &Context{
		Case: &eval.EvalCase{ID: "tokens"},
		OutputMessages: []eval.Message{
			{Role: eval.RoleAssistant, Content: "This answer is long enough to exceed a five token budget easily."},
		},
	}
	score, err := evaluator.Evaluate(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Score)
	require.Len(t, score.Misses, 1)
	assert.Contains(t, score.Misses[0], "estimated")
}

func TestExecutionMetrics(t *testing.T) {
	evaluator, err := newExecutionMetrics(eval.EvaluatorConfig{Kind: eval.KindExecutionMetrics})
	require.NoError(t, err)

	clean := &Context{
		Case:         &eval.EvalCase{ID: "metrics"},
		TraceSummary: &eval.TraceSummary{EventCount: 4},
	}
	score, err := evaluator.Evaluate(context.Background(), clean)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score.Score)

	errored := &Context{
		Case:         &eval.EvalCase{ID: "metrics"},
		TraceSummary: &eval.TraceSummary{EventCount: 4, ErrorCount: 1},
	}
	score, err = evaluator.Evaluate(context.Background(), errored)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, score.Score, 1e-9)
	require.Len(t, score.Misses, 1)
}

func TestGateConfigValidation(t *testing.T) {
	_, err := newLatencyGate(eval.EvaluatorConfig{Kind: eval.KindLatency})
	assert.Error(t, err)

	_, err = newCostGate(eval.EvaluatorConfig{Kind: eval.KindCost})
	assert.Error(t, err)

	_, err = newTokenUsageGate(eval.EvaluatorConfig{Kind: eval.KindTokenUsage})
	assert.Error(t, err)
}
