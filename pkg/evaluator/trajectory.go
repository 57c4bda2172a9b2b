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
	"fmt"
	"sort"

	"github.com/agentv-ai/agentv/pkg/eval"
	"go.uber.org/zap"
)

// Trajectory sequence modes.
const (
	ModeAnyOrder = "any_order"
	ModeInOrder  = "in_order"
	ModeExact    = "exact"
	ModeSuperset = "superset"
	ModeSubset   = "subset"
)

// toolTrajectory compares the agent's actual tool-call sequence against an
// expected sequence under one of five ordering/containment modes, with
// partial argument matching and per-tool latency assertions.
type toolTrajectory struct {
	name             string
	expected         []eval.ExpectedToolCall
	minimums         map[string]int
	mode             string
	defaultArgsMatch *eval.ArgsMatch
}

func newToolTrajectory(cfg eval.EvaluatorConfig) (Evaluator, error) {
	mode := cfg.Mode
	if mode == "" {
		if len(cfg.Minimums) > 0 && len(cfg.Expected) == 0 {
			mode = ModeAnyOrder
		} else {
			mode = ModeInOrder
		}
	}
	switch mode {
	case ModeAnyOrder, ModeInOrder, ModeExact, ModeSuperset, ModeSubset:
	default:
		return nil, fmt.Errorf("tool_trajectory: unknown mode %q", mode)
	}
	if mode == ModeAnyOrder && len(cfg.Minimums) == 0 && len(cfg.Expected) > 0 {
		return nil, fmt.Errorf("tool_trajectory: any_order requires minimums")
	}

	return &toolTrajectory{
		name:             cfg.DisplayName(),
		expected:         cfg.Expected,
		minimums:         cfg.Minimums,
		mode:             mode,
		defaultArgsMatch: cfg.DefaultArgsMatch,
	}, nil
}

func (t *toolTrajectory) Name() string {
	return t.name
}

func (t *toolTrajectory) Evaluate(_ context.Context, ec *Context) (eval.Score, error) {
	actual := eval.CollectToolCalls(ec.OutputMessages)

	if t.mode == ModeAnyOrder {
		return t.evaluateAnyOrder(actual), nil
	}
	return t.evaluateSequence(ec.logger(), actual), nil
}

// evaluateAnyOrder checks per-tool minimum call counts against the trace's
// count map. Argument matching does not apply.
func (t *toolTrajectory) evaluateAnyOrder(actual []eval.ToolCall) eval.Score {
	counts := make(map[string]int)
	for _, call := range actual {
		counts[call.Tool]++
	}

	tools := make([]string, 0, len(t.minimums))
	for tool := range t.minimums {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	var hits, misses []string
	passes := 0
	for _, tool := range tools {
		required := t.minimums[tool]
		if counts[tool] >= required {
			passes++
			hits = append(hits, fmt.Sprintf("%s called %d time(s), required >= %d", tool, counts[tool], required))
		} else {
			misses = append(misses, fmt.Sprintf("%s called %d time(s), required >= %d", tool, counts[tool], required))
		}
	}

	score := eval.Score{
		Hits:                eval.CapFindings(hits),
		Misses:              eval.CapFindings(misses),
		ExpectedAspectCount: len(tools),
	}
	if len(tools) == 0 {
		score.Score = 1
	} else {
		score.Score = float64(passes) / float64(len(tools))
	}
	score.Normalize()
	return score
}

// sequenceOutcome accumulates hits and assertion counts across the
// sequence walk and its latency checks.
type sequenceOutcome struct {
	hits              []string
	misses            []string
	sequenceHits      int
	latencyHits       int
	latencyAssertions int
}

func (t *toolTrajectory) evaluateSequence(logger *zap.Logger, actual []eval.ToolCall) eval.Score {
	var out sequenceOutcome

	if t.mode == ModeSubset {
		return t.evaluateSubset(actual)
	}

	// Empty expected passes against anything in the sequence modes.
	if len(t.expected) == 0 {
		s := eval.Score{Score: 1, ExpectedAspectCount: 1, Hits: []string{"no expected tool calls"}}
		s.Normalize()
		return s
	}

	switch t.mode {
	case ModeInOrder:
		t.walkInOrder(logger, actual, &out)
	case ModeExact:
		t.walkExact(logger, actual, &out)
	case ModeSuperset:
		t.walkSuperset(logger, actual, &out)
	}

	assertions := len(t.expected) + out.latencyAssertions
	score := eval.Score{
		Hits:                eval.CapFindings(out.hits),
		Misses:              eval.CapFindings(out.misses),
		ExpectedAspectCount: assertions,
		Score:               float64(out.sequenceHits+out.latencyHits) / float64(assertions),
	}
	score.Normalize()
	return score
}

// walkInOrder advances a monotone cursor over the actual calls. A name
// match consumes the call whether or not the arguments also match.
func (t *toolTrajectory) walkInOrder(logger *zap.Logger, actual []eval.ToolCall, out *sequenceOutcome) {
	cursor := 0
	for i, exp := range t.expected {
		found := -1
		for j := cursor; j < len(actual); j++ {
			if actual[j].Tool == exp.Tool {
				found = j
				break
			}
		}
		if found < 0 {
			out.misses = append(out.misses, fmt.Sprintf("expected call %d (%s) not found after position %d", i, exp.Tool, cursor))
			continue
		}

		cursor = found + 1
		if t.argsMatch(exp, actual[found]) {
			out.sequenceHits++
			out.hits = append(out.hits, fmt.Sprintf("%s matched at position %d", exp.Tool, found))
			t.checkLatency(logger, exp, actual[found], out)
		} else {
			out.misses = append(out.misses, fmt.Sprintf("%s found at position %d but arguments did not match", exp.Tool, found))
		}
	}
}

// walkExact compares by position; a length mismatch is itself a miss.
func (t *toolTrajectory) walkExact(logger *zap.Logger, actual []eval.ToolCall, out *sequenceOutcome) {
	if len(actual) != len(t.expected) {
		out.misses = append(out.misses, fmt.Sprintf("expected %d tool call(s), got %d", len(t.expected), len(actual)))
	}

	for i, exp := range t.expected {
		if i >= len(actual) {
			out.misses = append(out.misses, fmt.Sprintf("Position %d: expected %s, got nothing", i, exp.Tool))
			continue
		}
		got := actual[i]
		if got.Tool != exp.Tool {
			out.misses = append(out.misses, fmt.Sprintf("Position %d: expected %s, got %s", i, exp.Tool, got.Tool))
			continue
		}
		if !t.argsMatch(exp, got) {
			out.misses = append(out.misses, fmt.Sprintf("Position %d: %s arguments did not match", i, exp.Tool))
			continue
		}
		out.sequenceHits++
		out.hits = append(out.hits, fmt.Sprintf("Position %d: %s matched", i, exp.Tool))
		t.checkLatency(logger, exp, got, out)
	}
}

// walkSuperset consumes expected items greedily against the first
// unconsumed actual call whose name and arguments match; extra actual
// calls are ignored.
func (t *toolTrajectory) walkSuperset(logger *zap.Logger, actual []eval.ToolCall, out *sequenceOutcome) {
	consumed := make([]bool, len(actual))
	for _, exp := range t.expected {
		matched := -1
		for j, got := range actual {
			if consumed[j] || got.Tool != exp.Tool {
				continue
			}
			if t.argsMatch(exp, got) {
				matched = j
				break
			}
		}
		if matched < 0 {
			out.misses = append(out.misses, fmt.Sprintf("expected call to %s not found", exp.Tool))
			continue
		}
		consumed[matched] = true
		out.sequenceHits++
		out.hits = append(out.hits, fmt.Sprintf("%s matched", exp.Tool))
		t.checkLatency(logger, exp, actual[matched], out)
	}
}

// evaluateSubset treats the expected items as a reusable allowed set:
// every actual call must match at least one of them.
func (t *toolTrajectory) evaluateSubset(actual []eval.ToolCall) eval.Score {
	// Empty actual always passes; empty allowed set fails any actual call.
	if len(actual) == 0 {
		s := eval.Score{Score: 1, ExpectedAspectCount: 1, Hits: []string{"no tool calls made"}}
		s.Normalize()
		return s
	}

	var hits, misses []string
	matched := 0
	for i, got := range actual {
		allowed := false
		for _, exp := range t.expected {
			if got.Tool == exp.Tool && t.argsMatch(exp, got) {
				allowed = true
				break
			}
		}
		if allowed {
			matched++
			hits = append(hits, fmt.Sprintf("call %d (%s) allowed", i, got.Tool))
		} else {
			misses = append(misses, fmt.Sprintf("call %d (%s) not in allowed set", i, got.Tool))
		}
	}

	score := eval.Score{
		Hits:                eval.CapFindings(hits),
		Misses:              eval.CapFindings(misses),
		ExpectedAspectCount: len(actual),
		Score:               float64(matched) / float64(len(actual)),
	}
	score.Normalize()
	return score
}

// checkLatency applies a max_duration_ms assertion against the matched
// call. Calls without a recorded duration skip the assertion entirely and
// do not count toward the denominator.
func (t *toolTrajectory) checkLatency(logger *zap.Logger, exp eval.ExpectedToolCall, got eval.ToolCall, out *sequenceOutcome) {
	if exp.MaxDurationMs <= 0 {
		return
	}
	if got.DurationMs == nil {
		logger.Warn("latency assertion skipped: no duration recorded",
			zap.String("tool", exp.Tool),
			zap.Int64("max_duration_ms", exp.MaxDurationMs),
		)
		return
	}

	out.latencyAssertions++
	if *got.DurationMs <= exp.MaxDurationMs {
		out.latencyHits++
		out.hits = append(out.hits, fmt.Sprintf("%s finished in %dms (limit %dms)", exp.Tool, *got.DurationMs, exp.MaxDurationMs))
	} else {
		out.misses = append(out.misses, fmt.Sprintf("%s took %dms, limit %dms", exp.Tool, *got.DurationMs, exp.MaxDurationMs))
	}
}

// argsMatch applies the item's argument matching mode. An item whose args
// are absent or the literal "any" passes unconditionally.
func (t *toolTrajectory) argsMatch(exp eval.ExpectedToolCall, got eval.ToolCall) bool {
	if exp.Args == nil {
		return true
	}
	if s, ok := exp.Args.(string); ok && s == "any" {
		return true
	}

	match := exp.ArgsMatch
	if match == nil {
		match = t.defaultArgsMatch
	}
	mode := eval.ArgsExact
	if match != nil {
		mode = match.Mode
	}

	switch mode {
	case eval.ArgsIgnore:
		return true
	case eval.ArgsExact:
		return deepEqual(exp.Args, got.Input)
	case eval.ArgsSuperset:
		return keysSubsumed(exp.Args, got.Input)
	case eval.ArgsSubset:
		return keysSubsumed(got.Input, exp.Args)
	case eval.ArgsFields:
		return fieldsMatch(match.Fields, exp.Args, got.Input)
	default:
		return deepEqual(exp.Args, got.Input)
	}
}

// keysSubsumed reports whether every key of inner exists in outer with a
// deep-equal value. Non-map values fall back to deep equality.
func keysSubsumed(inner, outer any) bool {
	innerMap, ok := toStringMap(inner)
	if !ok {
		return deepEqual(inner, outer)
	}
	outerMap, ok := toStringMap(outer)
	if !ok {
		return false
	}
	for k, v := range innerMap {
		ov, present := outerMap[k]
		if !present || !deepEqual(v, ov) {
			return false
		}
	}
	return true
}

// fieldsMatch compares only the listed dotted paths. A path missing from
// the expected args is skipped; a path present in expected must resolve in
// actual with a deep-equal value.
func fieldsMatch(fields []string, expected, actual any) bool {
	for _, path := range fields {
		want, ok := resolvePath(expected, path)
		if !ok {
			continue
		}
		got, ok := resolvePath(actual, path)
		if !ok || !deepEqual(want, got) {
			return false
		}
	}
	return true
}
