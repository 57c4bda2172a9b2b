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
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// EvalCase is a single test: inputs, the desired outcome, and the ordered
// evaluator chain that scores it. Cases are immutable once loaded.
type EvalCase struct {
	ID               string            `json:"id" yaml:"id"`
	Dataset          string            `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	InputMessages    []Message         `json:"input_messages" yaml:"input_messages"`
	ExpectedMessages []Message         `json:"expected_messages,omitempty" yaml:"expected_messages,omitempty"`
	Criteria         string            `json:"criteria" yaml:"criteria"`
	Metadata         map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Evaluators       []EvaluatorConfig `json:"evaluators,omitempty" yaml:"evaluators,omitempty"`
	Workspace        *WorkspaceConfig  `json:"workspace,omitempty" yaml:"workspace,omitempty"`
}

// ReferenceAnswer derives the reference answer from the last expected
// message: its textual content, or its tool calls serialized as JSON.
func (c *EvalCase) ReferenceAnswer() string {
	if len(c.ExpectedMessages) == 0 {
		return ""
	}
	last := c.ExpectedMessages[len(c.ExpectedMessages)-1]
	if s := last.Text(); s != "" {
		return s
	}
	return serializeToolCalls(last.ToolCalls)
}

// Question returns the textual content of the last user input message.
func (c *EvalCase) Question() string {
	for i := len(c.InputMessages) - 1; i >= 0; i-- {
		if c.InputMessages[i].Role == RoleUser {
			if s := c.InputMessages[i].Text(); s != "" {
				return s
			}
		}
	}
	return ""
}

// WorkspaceConfig describes the per-case scratch directory: an optional
// template to clone and scripts run around the provider call.
type WorkspaceConfig struct {
	Template       string            `json:"template,omitempty" yaml:"template,omitempty"`
	SetupScript    string            `json:"setup_script,omitempty" yaml:"setup_script,omitempty"`
	TeardownScript string            `json:"teardown_script,omitempty" yaml:"teardown_script,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Evaluator kind tags accepted by the factory.
const (
	KindLLMJudge         = "llm_judge"
	KindCodeJudge        = "code_judge"
	KindComposite        = "composite"
	KindToolTrajectory   = "tool_trajectory"
	KindFieldAccuracy    = "field_accuracy"
	KindLatency          = "latency"
	KindCost             = "cost"
	KindTokenUsage       = "token_usage"
	KindExecutionMetrics = "execution_metrics"
	KindRubric           = "rubric"
	KindAgentJudge       = "agent_judge"
)

// EvaluatorConfig is the tagged record from which the factory constructs an
// evaluator. Kind selects the variant; the remaining fields are read by the
// variants that use them and ignored otherwise.
type EvaluatorConfig struct {
	Kind   string  `json:"kind" yaml:"kind"`
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`

	// llm_judge, agent_judge, rubric
	Template string   `json:"template,omitempty" yaml:"template,omitempty"`
	Rubrics  []Rubric `json:"rubrics,omitempty" yaml:"rubrics,omitempty"`

	// code_judge and composite code aggregation
	Command        []string     `json:"command,omitempty" yaml:"command,omitempty"`
	Shell          string       `json:"shell,omitempty" yaml:"shell,omitempty"`
	TimeoutMs      int64        `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	GuidelineFiles []string     `json:"guideline_files,omitempty" yaml:"guideline_files,omitempty"`
	Target         *ProxyTarget `json:"target,omitempty" yaml:"target,omitempty"`

	// tool_trajectory
	Expected         []ExpectedToolCall `json:"expected,omitempty" yaml:"expected,omitempty"`
	Minimums         map[string]int     `json:"minimums,omitempty" yaml:"minimums,omitempty"`
	Mode             string             `json:"mode,omitempty" yaml:"mode,omitempty"`
	DefaultArgsMatch *ArgsMatch         `json:"default_args_match,omitempty" yaml:"default_args_match,omitempty"`

	// field_accuracy
	Fields      []FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
	Aggregation string      `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`

	// latency, cost, token_usage, execution_metrics
	MaxLatencyMs int64   `json:"max_latency_ms,omitempty" yaml:"max_latency_ms,omitempty"`
	MaxCostUSD   float64 `json:"max_cost_usd,omitempty" yaml:"max_cost_usd,omitempty"`
	MaxTokens    int64   `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Model        string  `json:"model,omitempty" yaml:"model,omitempty"`

	// composite
	Members    []EvaluatorConfig `json:"members,omitempty" yaml:"members,omitempty"`
	Aggregator string            `json:"aggregator,omitempty" yaml:"aggregator,omitempty"`

	// extra kind-specific settings not modeled above
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// DisplayName returns the configured name, falling back to the kind tag.
func (c EvaluatorConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Kind
}

// ProxyTarget names the judge target a code-judge subprocess may call
// through the judge proxy, and bounds how many calls it may make.
type ProxyTarget struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	MaxCalls int    `json:"max_calls,omitempty" yaml:"max_calls,omitempty"`
}

// Rubric is a named criterion for the LLM judge. Checklist rubrics carry
// Required and Weight; score-range rubrics carry ScoreRanges and an optional
// RequiredMinScore gate (legacy required:true means required_min_score: 10).
type Rubric struct {
	ID               string       `json:"id" yaml:"id"`
	Description      string       `json:"description" yaml:"description"`
	Weight           float64      `json:"weight,omitempty" yaml:"weight,omitempty"`
	Required         bool         `json:"required,omitempty" yaml:"required,omitempty"`
	ScoreRanges      []ScoreRange `json:"score_ranges,omitempty" yaml:"score_ranges,omitempty"`
	RequiredMinScore *int         `json:"required_min_score,omitempty" yaml:"required_min_score,omitempty"`
}

// EffectiveWeight returns the rubric weight, defaulting to 1.
func (r Rubric) EffectiveWeight() float64 {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

// MinScoreGate returns the minimum 0-10 score this rubric must reach, or
// -1 when the rubric is ungated. Legacy required:true maps to 10.
func (r Rubric) MinScoreGate() int {
	if r.RequiredMinScore != nil {
		return *r.RequiredMinScore
	}
	if r.Required {
		return 10
	}
	return -1
}

// ScoreRange is one band of a score-range rubric.
type ScoreRange struct {
	Range       [2]int `json:"score_range" yaml:"score_range"`
	Description string `json:"description" yaml:"description"`
}

// Argument match modes for tool-trajectory expectations.
const (
	ArgsExact    = "exact"
	ArgsSuperset = "superset"
	ArgsSubset   = "subset"
	ArgsIgnore   = "ignore"
	ArgsFields   = "fields"
)

// ArgsMatch selects how expected tool arguments are compared: one of the
// named modes, or a list of dotted field paths. In YAML/JSON it is either a
// scalar string or a string sequence.
type ArgsMatch struct {
	Mode   string   `json:"mode,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// UnmarshalYAML accepts "exact" style scalars or ["a.b", "c"] field lists.
func (a *ArgsMatch) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var mode string
		if err := value.Decode(&mode); err != nil {
			return err
		}
		*a = ArgsMatch{Mode: mode}
		return nil
	case yaml.SequenceNode:
		var fields []string
		if err := value.Decode(&fields); err != nil {
			return err
		}
		*a = ArgsMatch{Mode: ArgsFields, Fields: fields}
		return nil
	default:
		return fmt.Errorf("args_match must be a string or a list of field paths")
	}
}

// UnmarshalJSON mirrors UnmarshalYAML for JSON suite files.
func (a *ArgsMatch) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		*a = ArgsMatch{Mode: mode}
		return nil
	}
	var fields []string
	if err := json.Unmarshal(data, &fields); err == nil {
		*a = ArgsMatch{Mode: ArgsFields, Fields: fields}
		return nil
	}
	// Allow the object form produced by MarshalJSON round-trips.
	type plain ArgsMatch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("args_match must be a string or a list of field paths")
	}
	*a = ArgsMatch(p)
	return nil
}

// ExpectedToolCall is one expected item for the tool-trajectory evaluator.
// Args nil or the literal "any" passes the argument check unconditionally.
type ExpectedToolCall struct {
	Tool          string     `json:"tool" yaml:"tool"`
	Args          any        `json:"args,omitempty" yaml:"args,omitempty"`
	ArgsMatch     *ArgsMatch `json:"args_match,omitempty" yaml:"args_match,omitempty"`
	MaxDurationMs int64      `json:"max_duration_ms,omitempty" yaml:"max_duration_ms,omitempty"`
}

// Field match kinds for the field-accuracy evaluator.
const (
	MatchExact            = "exact"
	MatchNumericTolerance = "numeric_tolerance"
	MatchDate             = "date"
)

// FieldSpec configures one field comparison by dot-bracket path.
type FieldSpec struct {
	Path      string   `json:"path" yaml:"path"`
	Match     string   `json:"match,omitempty" yaml:"match,omitempty"`
	Tolerance float64  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Relative  bool     `json:"relative,omitempty" yaml:"relative,omitempty"`
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Weight    float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
	Formats   []string `json:"formats,omitempty" yaml:"formats,omitempty"`
}

// EffectiveWeight returns the field weight, defaulting to 1.
func (f FieldSpec) EffectiveWeight() float64 {
	if f.Weight <= 0 {
		return 1
	}
	return f.Weight
}
