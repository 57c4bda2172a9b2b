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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResults() []*eval.EvaluationResult {
	return []*eval.EvaluationResult{
		{
			Timestamp: time.Now().UTC(),
			TestID:    "case-1",
			Score:     1.0,
			Verdict:   eval.VerdictPass,
			Hits:      []string{"all good"},
			Misses:    []string{},
			Target:    "static",
		},
		{
			Timestamp: time.Now().UTC(),
			TestID:    "case-2",
			Attempt:   1,
			Score:     0.3,
			Verdict:   eval.VerdictFail,
			Hits:      []string{},
			Misses:    []string{"wrong answer"},
			Target:    "static",
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	id, err := s.SaveRun(ctx, "smoke", "static", started, sampleResults())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, results, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "smoke", run.Suite)
	assert.Equal(t, "static", run.Target)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 1, run.Passed)
	assert.Equal(t, 1, run.Failed)
	assert.InDelta(t, 0.5, run.PassRate, 1e-9)

	require.Len(t, results, 2)
	assert.Equal(t, "case-1", results[0].TestID)
	assert.Equal(t, eval.VerdictFail, results[1].Verdict)
	assert.Equal(t, []string{"wrong answer"}, results[1].Misses)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	_, err := s.SaveRun(ctx, "old-suite", "static", older, sampleResults())
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, "new-suite", "static", newer, sampleResults())
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new-suite", runs[0].Suite)
	assert.Equal(t, "old-suite", runs[1].Suite)
}

func TestListRunsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.SaveRun(ctx, "suite", "static",
			time.Date(2026, 8, 20+i, 10, 0, 0, 0, time.UTC), sampleResults())
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRun(ctx, "old", "static",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), sampleResults())
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, "recent", "static",
		time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), sampleResults())
	require.NoError(t, err)

	deleted, err := s.DeleteOlderThan(ctx, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "recent", runs[0].Suite)
}
