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

package eval

import (
	"time"
)

// ProviderResponse is what a provider returns for one invocation. The
// OutputMessages slice is the authoritative, append-only tool-call record.
// TokenUsage and CostUSD stay nil when the backend does not report them, to
// keep "unknown" distinct from "free".
type ProviderResponse struct {
	OutputMessages []Message   `json:"output_messages"`
	TokenUsage     *TokenUsage `json:"token_usage,omitempty"`
	CostUSD        *float64    `json:"cost_usd,omitempty"`
	DurationMs     int64       `json:"duration_ms"`
	StartTime      time.Time   `json:"start_time,omitzero"`
	EndTime        time.Time   `json:"end_time,omitzero"`
	Raw            any         `json:"raw,omitempty"`
	LogFile        string      `json:"log_file,omitempty"`
}

// EvaluationResult is the record streamed to writers for one (case, attempt)
// work item. Field names serialize in snake_case.
type EvaluationResult struct {
	Timestamp       time.Time        `json:"timestamp" yaml:"timestamp"`
	TestID          string           `json:"test_id" yaml:"test_id"`
	Dataset         string           `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Score           float64          `json:"score" yaml:"score"`
	Verdict         Verdict          `json:"verdict" yaml:"verdict"`
	Hits            []string         `json:"hits" yaml:"hits"`
	Misses          []string         `json:"misses" yaml:"misses"`
	Reasoning       string           `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	CandidateAnswer string           `json:"candidate_answer" yaml:"candidate_answer"`
	Target          string           `json:"target" yaml:"target"`
	Attempt         int              `json:"attempt" yaml:"attempt"`
	TrialOf         string           `json:"trial_of,omitempty" yaml:"trial_of,omitempty"`
	EvaluatorScores []EvaluatorScore `json:"evaluator_scores" yaml:"evaluator_scores"`
	Error           string           `json:"error,omitempty" yaml:"error,omitempty"`
	TraceSummary    *TraceSummary    `json:"trace_summary,omitempty" yaml:"trace_summary,omitempty"`
	OutputMessages  []Message        `json:"output_messages,omitempty" yaml:"output_messages,omitempty"`
}
