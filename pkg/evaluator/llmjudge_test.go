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

func judgeContext(judge *scriptedJudge) *Context {
	return &Context{
		Case: &eval.EvalCase{
			ID:       "judge-case",
			Criteria: "answer must name the capital of France",
			InputMessages: []eval.Message{
				{Role: eval.RoleUser, Content: "What is the capital of France?"},
			},
			ExpectedMessages: []eval.Message{
				{Role: eval.RoleAssistant, Content: "Paris"},
			},
		},
		Candidate:     "The capital of France is Paris.",
		JudgeProvider: judge,
	}
}

func TestFreeformJudge(t *testing.T) {
	judge := &scriptedJudge{replies: []string{
		`{"score": 0.9, "hits": ["names Paris"], "misses": [], "reasoning": "correct"}`,
	}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{Kind: eval.KindLLMJudge})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, score.Score, 1e-9)
	assert.Equal(t, eval.VerdictPass, score.Verdict)
	assert.Equal(t, []string{"names Paris"}, score.Hits)
	assert.Equal(t, "correct", score.Reasoning)
}

func TestFreeformJudgeRetriesOnGarbage(t *testing.T) {
	judge := &scriptedJudge{replies: []string{
		"definitely not json",
		"still not json",
		`{"score": 1.0, "hits": [], "misses": [], "reasoning": "third time lucky"}`,
	}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{Kind: eval.KindLLMJudge})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.Equal(t, 1.0, score.Score)
	assert.Equal(t, int64(3), judge.calls.Load())
}

func TestFreeformJudgeFailsAfterRetries(t *testing.T) {
	judge := &scriptedJudge{replies: []string{"garbage"}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{Kind: eval.KindLLMJudge})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, eval.VerdictFail, score.Verdict)
	assert.Equal(t, int64(judgeParseRetries), judge.calls.Load())
}

func TestFreeformJudgeExtractsFencedJSON(t *testing.T) {
	judge := &scriptedJudge{replies: []string{
		"Here is my verdict:\n```json\n{\"score\": 0.85, \"hits\": [\"ok\"], \"misses\": [], \"reasoning\": \"fine\"}\n```",
	}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{Kind: eval.KindLLMJudge})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, score.Score, 1e-9)
}

func TestChecklistJudgeRequiredForcesFail(t *testing.T) {
	judge := &scriptedJudge{replies: []string{
		`{"rubrics": [
			{"id": "r1", "satisfied": true, "reasoning": "good"},
			{"id": "r2", "satisfied": true, "reasoning": "good"},
			{"id": "r3", "satisfied": false, "reasoning": "cites no source"}
		]}`,
	}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{
		Kind: eval.KindLLMJudge,
		Rubrics: []eval.Rubric{
			{ID: "r1", Description: "names the capital", Weight: 1},
			{ID: "r2", Description: "complete sentence", Weight: 1},
			{ID: "r3", Description: "cites a source", Weight: 1, Required: true},
		},
	})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, score.Score, 1e-9)
	assert.Equal(t, eval.VerdictFail, score.Verdict)
	assert.Len(t, score.Misses, 1)
}

func TestScoreRangeJudge(t *testing.T) {
	judge := &scriptedJudge{replies: []string{
		`{"rubrics": [
			{"id": "clarity", "score": 8, "reasoning": "clear"},
			{"id": "depth", "score": 4, "reasoning": "shallow"}
		]}`,
	}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{
		Kind: eval.KindLLMJudge,
		Rubrics: []eval.Rubric{
			{
				ID: "clarity", Description: "writing clarity", Weight: 1,
				ScoreRanges: []eval.ScoreRange{
					{Range: [2]int{0, 5}, Description: "unclear"},
					{Range: [2]int{6, 10}, Description: "clear and well structured"},
				},
			},
			{
				ID: "depth", Description: "analysis depth", Weight: 1,
				ScoreRanges: []eval.ScoreRange{
					{Range: [2]int{0, 5}, Description: "surface level"},
					{Range: [2]int{6, 10}, Description: "thorough"},
				},
			},
		},
	})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.InDelta(t, 0.6, score.Score, 1e-9)
	require.Len(t, score.Hits, 1)
	assert.Contains(t, score.Hits[0], "clear and well structured")
	require.Len(t, score.Misses, 1)
	assert.Contains(t, score.Misses[0], "surface level")
}

func TestScoreRangeRequiredMinScoreGate(t *testing.T) {
	gate := 9
	judge := &scriptedJudge{replies: []string{
		`{"rubrics": [{"id": "safety", "score": 8, "reasoning": "mostly safe"}]}`,
	}}

	evaluator, err := newLLMJudge(eval.EvaluatorConfig{
		Kind: eval.KindLLMJudge,
		Rubrics: []eval.Rubric{
			{
				ID: "safety", Description: "safe output", RequiredMinScore: &gate,
				ScoreRanges: []eval.ScoreRange{{Range: [2]int{0, 10}, Description: "safety band"}},
			},
		},
	})
	require.NoError(t, err)

	score, err := evaluator.Evaluate(context.Background(), judgeContext(judge))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, score.Score, 1e-9)
	assert.Equal(t, eval.VerdictFail, score.Verdict)
}

func TestRenderTemplateSubstitutions(t *testing.T) {
	j := &llmJudge{name: "test"}
	ec := judgeContext(nil)
	ec.PromptInputs = map[string]string{"extra": "bonus"}

	rendered := j.renderTemplate(ec, "Q={question} C={criteria} A={candidate_answer} R={reference_answer} X={extra}")
	assert.Equal(t,
		"Q=What is the capital of France? C=answer must name the capital of France A=The capital of France is Paris. R=Paris X=bonus",
		rendered)
}
