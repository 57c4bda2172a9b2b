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

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// fallbackEncoding estimates token counts when the configured model has no
// registered encoding.
const fallbackEncoding = "cl100k_base"

// latencyGate passes when the observed wall-clock duration stays under the
// configured ceiling.
type latencyGate struct {
	name  string
	maxMs int64
}

func newLatencyGate(cfg eval.EvaluatorConfig) (Evaluator, error) {
	if cfg.MaxLatencyMs <= 0 {
		return nil, fmt.Errorf("latency: max_latency_ms must be positive")
	}
	return &latencyGate{name: cfg.DisplayName(), maxMs: cfg.MaxLatencyMs}, nil
}

func (g *latencyGate) Name() string {
	return g.name
}

func (g *latencyGate) Evaluate(_ context.Context, ec *Context) (eval.Score, error) {
	var duration int64
	if ec.TraceSummary != nil {
		duration = ec.TraceSummary.DurationMs
	}
	if duration <= 0 {
		return eval.FailScore("no duration recorded for this attempt"), nil
	}

	if duration <= g.maxMs {
		s := eval.Score{
			Score:               1,
			Hits:                []string{fmt.Sprintf("completed in %dms (limit %dms)", duration, g.maxMs)},
			ExpectedAspectCount: 1,
		}
		s.Normalize()
		return s, nil
	}
	return eval.FailScore(fmt.Sprintf("took %dms, limit %dms", duration, g.maxMs)), nil
}

// costGate passes when the provider-reported cost stays under the ceiling.
// Unknown cost skips the gate: the core never reconciles costs it did not
// observe.
type costGate struct {
	name    string
	maxCost float64
}

func newCostGate(cfg eval.EvaluatorConfig) (Evaluator, error) {
	if cfg.MaxCostUSD <= 0 {
		return nil, fmt.Errorf("cost: max_cost_usd must be positive")
	}
	return &costGate{name: cfg.DisplayName(), maxCost: cfg.MaxCostUSD}, nil
}

func (g *costGate) Name() string {
	return g.name
}

func (g *costGate) Evaluate(_ context.Context, ec *Context) (eval.Score, error) {
	var cost *float64
	if ec.TraceSummary != nil {
		cost = ec.TraceSummary.CostUSD
	}
	if cost == nil {
		ec.logger().Warn("cost gate skipped: provider reported no cost",
			zap.String("evaluator", g.name))
		s := eval.Score{
			Score:               1,
			Hits:                []string{"cost unknown, gate skipped"},
			ExpectedAspectCount: 1,
		}
		s.Normalize()
		return s, nil
	}

	if *cost <= g.maxCost {
		s := eval.Score{
			Score:               1,
			Hits:                []string{fmt.Sprintf("cost $%.4f (limit $%.4f)", *cost, g.maxCost)},
			ExpectedAspectCount: 1,
		}
		s.Normalize()
		return s, nil
	}
	return eval.FailScore(fmt.Sprintf("cost $%.4f exceeds limit $%.4f", *cost, g.maxCost)), nil
}

// tokenUsageGate passes when total token usage stays under the ceiling.
// When the provider reports no usage, the gate estimates from the output
// messages with the model's tokenizer.
type tokenUsageGate struct {
	name      string
	maxTokens int64
	model     string
}

func newTokenUsageGate(cfg eval.EvaluatorConfig) (Evaluator, error) {
	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("token_usage: max_tokens must be positive")
	}
	return &tokenUsageGate{
		name:      cfg.DisplayName(),
		maxTokens: cfg.MaxTokens,
		model:     cfg.Model,
	}, nil
}

func (g *tokenUsageGate) Name() string {
	return g.name
}

func (g *tokenUsageGate) Evaluate(_ context.Context, ec *Context) (eval.Score, error) {
	total, estimated := g.totalTokens(ec)

	detail := fmt.Sprintf("%d tokens (limit %d)", total, g.maxTokens)
	if estimated {
		detail = fmt.Sprintf("~%d tokens estimated (limit %d)", total, g.maxTokens)
	}

	if total <= g.maxTokens {
		s := eval.Score{
			Score:               1,
			Hits:                []string{detail},
			ExpectedAspectCount: 1,
		}
		s.Normalize()
		return s, nil
	}
	return eval.FailScore(detail), nil
}

// totalTokens returns the reported usage total, or an estimate over the
// message texts when the provider reported none.
func (g *tokenUsageGate) totalTokens(ec *Context) (int64, bool) {
	if ec.TraceSummary != nil && ec.TraceSummary.TokenUsage != nil {
		return ec.TraceSummary.TokenUsage.Total(), false
	}
	return g.estimateTokens(ec), true
}

func (g *tokenUsageGate) estimateTokens(ec *Context) int64 {
	encoder, err := tiktoken.EncodingForModel(g.model)
	if err != nil {
		encoder, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			ec.logger().Warn("token estimation unavailable", zap.Error(err))
			return 0
		}
	}

	var total int64
	for _, msg := range ec.OutputMessages {
		if text := msg.Text(); text != "" {
			total += int64(len(encoder.Encode(text, nil, nil)))
		}
	}
	return total
}

// executionMetrics surfaces the trace summary as a score: clean executions
// pass, tool errors shave the score proportionally.
type executionMetrics struct {
	name string
}

func newExecutionMetrics(cfg eval.EvaluatorConfig) (Evaluator, error) {
	return &executionMetrics{name: cfg.DisplayName()}, nil
}

func (g *executionMetrics) Name() string {
	return g.name
}

func (g *executionMetrics) Evaluate(_ context.Context, ec *Context) (eval.Score, error) {
	summary := ec.TraceSummary
	if summary == nil {
		return eval.FailScore("no trace summary available"), nil
	}

	details := map[string]any{
		"event_count":        summary.EventCount,
		"tool_calls_by_name": summary.ToolCallsByName,
		"error_count":        summary.ErrorCount,
		"duration_ms":        summary.DurationMs,
	}

	score := eval.Score{
		Score:               1,
		ExpectedAspectCount: 1,
		Details:             details,
	}
	if summary.ErrorCount > 0 && summary.EventCount > 0 {
		score.Score = float64(summary.EventCount-summary.ErrorCount) / float64(summary.EventCount)
		score.Misses = []string{fmt.Sprintf("%d of %d events errored", summary.ErrorCount, summary.EventCount)}
	} else {
		score.Hits = []string{fmt.Sprintf("%d events, no errors", summary.EventCount)}
	}
	score.Normalize()
	return score, nil
}
