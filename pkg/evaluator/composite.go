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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
	"go.uber.org/zap"
)

// Composite aggregator modes.
const (
	AggregatorWeightedAverage = "weighted_average"
	AggregatorCodeJudge       = "code_judge"
	AggregatorLLMJudge        = "llm_judge"
)

// resultsPlaceholder is replaced with the member results JSON in an
// llm_judge aggregation prompt.
const resultsPlaceholder = "{{EVALUATOR_RESULTS_JSON}}"

const defaultAggregationTemplate = `Member evaluators produced the results below. Weigh them into a single
overall judgement of the candidate answer.

` + resultsPlaceholder + `

Respond with ONLY a JSON object, no markdown fences, of the shape:
{"score": <float 0.0-1.0>, "hits": [...], "misses": [...], "reasoning": "<one paragraph>"}`

// composite runs member evaluators concurrently and folds their scores
// into one via the configured aggregator.
type composite struct {
	name        string
	memberIDs   []string
	memberKinds []string
	weights     []float64
	members     []Evaluator
	aggregator  string

	// code_judge aggregation
	command []string
	shell   string
	timeout time.Duration

	// llm_judge aggregation
	template string
}

func newComposite(cfg eval.EvaluatorConfig) (Evaluator, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("composite: at least one member is required")
	}

	aggregator := cfg.Aggregator
	if aggregator == "" {
		aggregator = AggregatorWeightedAverage
	}
	switch aggregator {
	case AggregatorWeightedAverage, AggregatorLLMJudge:
	case AggregatorCodeJudge:
		if len(cfg.Command) == 0 && cfg.Shell == "" {
			return nil, fmt.Errorf("composite: code_judge aggregation needs a command or shell")
		}
	default:
		return nil, fmt.Errorf("composite: unknown aggregator %q", aggregator)
	}

	members := make([]Evaluator, 0, len(cfg.Members))
	ids := make([]string, 0, len(cfg.Members))
	kinds := make([]string, 0, len(cfg.Members))
	weights := make([]float64, 0, len(cfg.Members))
	seen := make(map[string]int)
	for i, memberCfg := range cfg.Members {
		member, err := New(memberCfg)
		if err != nil {
			return nil, fmt.Errorf("composite member %d: %w", i, err)
		}
		id := memberCfg.DisplayName()
		if n := seen[id]; n > 0 {
			id = fmt.Sprintf("%s_%d", id, n+1)
		}
		seen[memberCfg.DisplayName()]++

		weight := memberCfg.Weight
		if weight <= 0 {
			weight = 1
		}
		members = append(members, member)
		ids = append(ids, id)
		kinds = append(kinds, memberCfg.Kind)
		weights = append(weights, weight)
	}

	var timeout time.Duration
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	return &composite{
		name:        cfg.DisplayName(),
		memberIDs:   ids,
		memberKinds: kinds,
		weights:     weights,
		members:     members,
		aggregator:  aggregator,
		command:     cfg.Command,
		shell:       cfg.Shell,
		timeout:     timeout,
		template:    cfg.Template,
	}, nil
}

func (c *composite) Name() string {
	return c.name
}

func (c *composite) Evaluate(ctx context.Context, ec *Context) (eval.Score, error) {
	memberScores := c.runMembers(ctx, ec)

	if err := ctx.Err(); err != nil {
		return eval.Score{}, err
	}

	var score eval.Score
	var err error
	switch c.aggregator {
	case AggregatorCodeJudge:
		score, err = c.aggregateCode(ctx, ec, memberScores)
	case AggregatorLLMJudge:
		score, err = c.aggregateLLM(ctx, ec, memberScores)
	default:
		score = c.aggregateWeighted(memberScores)
	}
	if err != nil {
		ec.logger().Warn("composite aggregation failed",
			zap.String("evaluator", c.name), zap.Error(err))
		score = eval.FailScore(fmt.Sprintf("aggregation failed: %v", err))
	}

	score.ChildScores = c.childScores(memberScores)
	return score, nil
}

// runMembers evaluates every member concurrently. A member error becomes
// that member's zero score.
func (c *composite) runMembers(ctx context.Context, ec *Context) []eval.Score {
	scores := make([]eval.Score, len(c.members))
	var wg sync.WaitGroup
	for i, member := range c.members {
		wg.Add(1)
		go func(i int, member Evaluator) {
			defer wg.Done()
			s, err := member.Evaluate(ctx, ec)
			if err != nil {
				ec.logger().Warn("composite member failed",
					zap.String("member", c.memberIDs[i]), zap.Error(err))
				s = eval.FailScore(fmt.Sprintf("member %s failed: %v", c.memberIDs[i], err))
			}
			s.Normalize()
			scores[i] = s
		}(i, member)
	}
	wg.Wait()
	return scores
}

func (c *composite) aggregateWeighted(memberScores []eval.Score) eval.Score {
	var totalWeight, weightedSum float64
	var hits, misses []string
	aspects := 0
	forcedFail := false
	for i, s := range memberScores {
		totalWeight += c.weights[i]
		weightedSum += s.Score * c.weights[i]
		aspects += s.ExpectedAspectCount
		for _, h := range s.Hits {
			hits = append(hits, c.memberIDs[i]+": "+h)
		}
		for _, m := range s.Misses {
			misses = append(misses, c.memberIDs[i]+": "+m)
		}
		if s.Verdict == eval.VerdictFail && s.Score >= eval.BorderlineThreshold {
			forcedFail = true
		}
	}

	score := eval.Score{
		Score:               weightedSum / totalWeight,
		Hits:                eval.CapFindings(hits),
		Misses:              eval.CapFindings(misses),
		ExpectedAspectCount: aspects,
	}
	score.Normalize()
	if forcedFail {
		score.Verdict = eval.VerdictFail
	}
	return score
}

func (c *composite) aggregateCode(ctx context.Context, ec *Context, memberScores []eval.Score) (eval.Score, error) {
	results := make(map[string]eval.Score, len(memberScores))
	for i, s := range memberScores {
		results[c.memberIDs[i]] = s
	}
	payload, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return eval.Score{}, fmt.Errorf("failed to serialize member results: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if c.shell != "" {
		cmd = exec.CommandContext(runCtx, "sh", "-c", c.shell)
	} else {
		cmd = exec.CommandContext(runCtx, c.command[0], c.command[1:]...)
	}
	cmd.Env = os.Environ()
	if ec.WorkspacePath != "" {
		cmd.Dir = ec.WorkspacePath
	}

	stdout, stderr, runErr := runScript(cmd, payload)
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return eval.Score{}, fmt.Errorf("aggregation script exceeded %s: %w", c.timeout, ErrScriptTimeout)
	}
	if runErr != nil {
		return eval.Score{}, fmt.Errorf("aggregation script failed: %v; stderr: %s", runErr, tail(stderr, stderrTailBytes))
	}

	var reply scriptReply
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &reply); err != nil {
		return eval.Score{}, fmt.Errorf("aggregation script output is not valid JSON: %w", err)
	}

	score := eval.Score{
		Score:               reply.Score,
		Verdict:             eval.Verdict(reply.Verdict),
		Hits:                eval.CapFindings(reply.Hits),
		Misses:              eval.CapFindings(reply.Misses),
		Reasoning:           reply.Reasoning,
		Details:             reply.Details,
		ExpectedAspectCount: len(memberScores),
	}
	score.Normalize()
	return score, nil
}

func (c *composite) aggregateLLM(ctx context.Context, ec *Context, memberScores []eval.Score) (eval.Score, error) {
	judge := ec.JudgeProvider
	if judge == nil {
		judge = ec.Provider
	}
	if judge == nil {
		return eval.Score{}, fmt.Errorf("no judge provider available")
	}

	results := make(map[string]eval.Score, len(memberScores))
	for i, s := range memberScores {
		results[c.memberIDs[i]] = s
	}
	resultsJSON, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return eval.Score{}, fmt.Errorf("failed to serialize member results: %w", err)
	}

	template := c.template
	if template == "" {
		template = defaultAggregationTemplate
	}
	prompt := strings.ReplaceAll(template, resultsPlaceholder, string(resultsJSON))

	model := provider.AsLanguageModel(judge)
	var lastErr error
	for attempt := 0; attempt < judgeParseRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return eval.Score{}, err
		}
		resp, err := model.Complete(ctx, freeformSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		payload := eval.LastAssistantText(resp.OutputMessages)
		if extracted := extractJSONBlock(payload); extracted != "" {
			payload = extracted
		}
		var reply freeformReply
		if err := json.Unmarshal([]byte(payload), &reply); err != nil {
			lastErr = fmt.Errorf("aggregation reply is not valid JSON: %w", err)
			continue
		}

		score := eval.Score{
			Score:               reply.Score,
			Hits:                eval.CapFindings(reply.Hits),
			Misses:              eval.CapFindings(reply.Misses),
			Reasoning:           reply.Reasoning,
			ExpectedAspectCount: len(memberScores),
			EvaluatorRawRequest: map[string]any{"prompt": prompt},
		}
		score.Normalize()
		return score, nil
	}
	return eval.Score{}, fmt.Errorf("aggregation judge failed after %d attempts: %w", judgeParseRetries, lastErr)
}

func (c *composite) childScores(memberScores []eval.Score) []eval.EvaluatorScore {
	children := make([]eval.EvaluatorScore, 0, len(memberScores))
	for i, s := range memberScores {
		children = append(children, eval.EvaluatorScore{
			Name:      c.memberIDs[i],
			Type:      c.memberKinds[i],
			Score:     s.Score,
			Verdict:   s.Verdict,
			Hits:      s.Hits,
			Misses:    s.Misses,
			Weight:    c.weights[i],
			Reasoning: s.Reasoning,
			Details:   s.Details,
		})
	}
	return children
}
