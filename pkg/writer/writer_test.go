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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(id string, verdict eval.Verdict) *eval.EvaluationResult {
	score := 1.0
	if verdict != eval.VerdictPass {
		score = 0.2
	}
	return &eval.EvaluationResult{
		Timestamp:       time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		TestID:          id,
		Dataset:         "smoke",
		Score:           score,
		Verdict:         verdict,
		Hits:            []string{"did the thing"},
		Misses:          []string{},
		CandidateAnswer: "answer",
		Target:          "static",
	}
}

func TestJSONLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := NewJSONL(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(sampleResult("a", eval.VerdictPass)))
	require.NoError(t, w.Append(sampleResult("b", eval.VerdictFail)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var decoded eval.EvaluationResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "a", decoded.TestID)
	assert.Equal(t, eval.VerdictPass, decoded.Verdict)
}

func TestJSONAggregateWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	w, err := NewJSON(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(sampleResult("a", eval.VerdictPass)))
	require.NoError(t, w.Append(sampleResult("b", eval.VerdictFail)))
	require.NoError(t, w.Append(sampleResult("c", eval.VerdictBorderline)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Stats   Stats                    `json:"stats"`
		Results []*eval.EvaluationResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 3, doc.Stats.Total)
	assert.Equal(t, 1, doc.Stats.Passed)
	assert.Equal(t, 2, doc.Stats.Failed)
	assert.InDelta(t, 1.0/3.0, doc.Stats.PassRate, 1e-9)
	assert.Len(t, doc.Results, 3)
}

func TestYAMLAggregateFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	w, err := NewYAML(path)
	require.NoError(t, err)

	r := sampleResult("a", eval.VerdictPass)
	r.TrialOf = "a"
	r.EvaluatorScores = []eval.EvaluatorScore{{
		Name:    "latency",
		Type:    eval.KindLatency,
		Score:   1,
		Verdict: eval.VerdictPass,
		Hits:    []string{"within budget"},
		Misses:  []string{},
	}}
	r.TraceSummary = &eval.TraceSummary{
		EventCount:      1,
		ToolNames:       []string{"read"},
		ToolCallsByName: map[string]int{"read": 1},
		DurationMs:      50,
	}
	require.NoError(t, w.Append(r))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	// Field names serialize in snake_case, same as the JSON formats.
	for _, field := range []string{
		"test_id:", "candidate_answer:", "trial_of:",
		"evaluator_scores:", "trace_summary:", "duration_ms:", "tool_calls_by_name:",
	} {
		assert.Contains(t, content, field)
	}
	assert.NotContains(t, content, "testid:")
	assert.NotContains(t, content, "candidateanswer:")
	assert.NotContains(t, content, "evaluatorscores:")
}

func TestJUnitWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xml")
	w, err := NewJUnit(path)
	require.NoError(t, err)

	pass := sampleResult("passes", eval.VerdictPass)
	fail := sampleResult(`needs <escaping> & "quotes"`, eval.VerdictFail)
	fail.Misses = []string{"missed <the> point"}
	errored := sampleResult("blew-up", eval.VerdictFail)
	errored.Error = "provider timeout"
	other := sampleResult("other-dataset", eval.VerdictPass)
	other.Dataset = "regression"

	require.NoError(t, w.Append(pass))
	require.NoError(t, w.Append(fail))
	require.NoError(t, w.Append(errored))
	require.NoError(t, w.Append(other))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, `<testsuite name="smoke" tests="3" failures="1" errors="1">`)
	assert.Contains(t, content, `<testsuite name="regression" tests="1" failures="0" errors="0">`)
	// xml escapes attribute content.
	assert.Contains(t, content, "needs &lt;escaping&gt; &amp; &#34;quotes&#34;")
	assert.Contains(t, content, `<error message="provider timeout">`)
	assert.Contains(t, content, `<failure message="verdict fail, score 0.20">`)
	assert.Contains(t, content, "missed &lt;the&gt; point")
}

func TestWriterCloseIdempotent(t *testing.T) {
	for _, name := range []string{"a.jsonl", "a.json", "a.yaml", "a.xml"} {
		w, err := New(filepath.Join(t.TempDir(), name))
		require.NoError(t, err)
		require.NoError(t, w.Append(sampleResult("x", eval.VerdictPass)))
		require.NoError(t, w.Close())
		require.NoError(t, w.Close(), name)
		assert.ErrorIs(t, w.Append(sampleResult("y", eval.VerdictPass)), ErrClosed, name)
	}
}

func TestMultiWriter(t *testing.T) {
	dir := t.TempDir()
	jsonlPath := filepath.Join(dir, "out.jsonl")
	jsonPath := filepath.Join(dir, "out.json")

	m, err := NewMulti([]string{jsonlPath, jsonPath})
	require.NoError(t, err)

	require.NoError(t, m.Append(sampleResult("a", eval.VerdictPass)))
	require.NoError(t, m.Close())

	for _, path := range []string{jsonlPath, jsonPath} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}

func TestMultiWriterUnknownExtension(t *testing.T) {
	_, err := NewMulti([]string{filepath.Join(t.TempDir(), "out.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output extension")
}
