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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
	"go.uber.org/zap"
)

const judgeParseRetries = 3

// freeformSystemPrompt pins the response schema for freeform judging.
const freeformSystemPrompt = `You are an expert evaluator. Assess the candidate answer against the criteria.
Respond with ONLY a JSON object, no markdown fences, of the shape:
{"score": <float 0.0-1.0>, "hits": [<aspects satisfied>], "misses": [<aspects missed>], "reasoning": "<one paragraph>"}`

// checklistSystemPrompt pins the response schema for checklist rubrics.
const checklistSystemPrompt = `You are an expert evaluator. Judge each rubric item independently.
Respond with ONLY a JSON object, no markdown fences, of the shape:
{"rubrics": [{"id": "<rubric id>", "satisfied": <bool>, "reasoning": "<short>"}]}`

// scoreRangeSystemPrompt pins the response schema for score-range rubrics.
const scoreRangeSystemPrompt = `You are an expert evaluator. Score each rubric item on an integer scale from 0 to 10 using its scoring bands.
Respond with ONLY a JSON object, no markdown fences, of the shape:
{"rubrics": [{"id": "<rubric id>", "score": <int 0-10>, "reasoning": "<short>"}]}`

const defaultFreeformTemplate = `Evaluate the candidate answer below.

## Question
{question}

## Criteria
{criteria}

## Reference answer
{reference_answer}

## Candidate answer
{candidate_answer}`

// llmJudge scores a candidate via the judge provider. The rubric shape
// selects one of three sub-modes: freeform, checklist, or score-range.
type llmJudge struct {
	name     string
	template string
	rubrics  []eval.Rubric

	// agentMode includes guideline files and file changes in the prompt and
	// routes through the judge's full Invoke path so agent backends see the
	// workspace.
	agentMode      bool
	guidelineFiles []string
}

func newLLMJudge(cfg eval.EvaluatorConfig) (Evaluator, error) {
	return &llmJudge{
		name:     cfg.DisplayName(),
		template: cfg.Template,
		rubrics:  cfg.Rubrics,
	}, nil
}

func newAgentJudge(cfg eval.EvaluatorConfig) (Evaluator, error) {
	return &llmJudge{
		name:           cfg.DisplayName(),
		template:       cfg.Template,
		rubrics:        cfg.Rubrics,
		agentMode:      true,
		guidelineFiles: cfg.GuidelineFiles,
	}, nil
}

func (j *llmJudge) Name() string {
	return j.name
}

func (j *llmJudge) Evaluate(ctx context.Context, ec *Context) (eval.Score, error) {
	judge := ec.JudgeProvider
	if judge == nil {
		judge = ec.Provider
	}
	if judge == nil {
		return eval.Score{}, fmt.Errorf("llm judge %q: no judge provider available", j.name)
	}

	switch {
	case j.hasScoreRanges():
		return j.evaluateScoreRange(ctx, ec, judge)
	case len(j.rubrics) > 0:
		return j.evaluateChecklist(ctx, ec, judge)
	default:
		return j.evaluateFreeform(ctx, ec, judge)
	}
}

func (j *llmJudge) hasScoreRanges() bool {
	for _, r := range j.rubrics {
		if len(r.ScoreRanges) > 0 {
			return true
		}
	}
	return false
}

// freeformReply is the JSON shape a freeform judge must return.
type freeformReply struct {
	Score     float64  `json:"score"`
	Hits      []string `json:"hits"`
	Misses    []string `json:"misses"`
	Reasoning string   `json:"reasoning"`
}

func (j *llmJudge) evaluateFreeform(ctx context.Context, ec *Context, judge provider.Provider) (eval.Score, error) {
	prompt := j.renderTemplate(ec, j.templateOr(defaultFreeformTemplate))

	var reply freeformReply
	raw, err := j.completeJSON(ctx, ec, judge, freeformSystemPrompt, prompt, &reply)
	if err != nil {
		ec.logger().Warn("freeform judge failed to produce parsable output",
			zap.String("evaluator", j.name), zap.Error(err))
		return failedJudgeScore(raw, err), nil
	}

	score := eval.Score{
		Score:               reply.Score,
		Hits:                eval.CapFindings(reply.Hits),
		Misses:              eval.CapFindings(reply.Misses),
		Reasoning:           reply.Reasoning,
		ExpectedAspectCount: maxInt(len(reply.Hits)+len(reply.Misses), 1),
		EvaluatorRawRequest: map[string]any{"prompt": prompt},
	}
	score.Normalize()
	return score, nil
}

// checklistReply is the JSON shape a checklist judge must return.
type checklistReply struct {
	Rubrics []struct {
		ID        string `json:"id"`
		Satisfied bool   `json:"satisfied"`
		Reasoning string `json:"reasoning"`
	} `json:"rubrics"`
}

func (j *llmJudge) evaluateChecklist(ctx context.Context, ec *Context, judge provider.Provider) (eval.Score, error) {
	var listing strings.Builder
	for _, r := range j.rubrics {
		flag := ""
		if r.Required {
			flag = ", REQUIRED"
		}
		fmt.Fprintf(&listing, "[%s] %s (weight=%g%s)\n", r.ID, r.Description, r.EffectiveWeight(), flag)
	}

	prompt := j.renderTemplate(ec, j.templateOr(defaultFreeformTemplate)) + "\n\n## Rubrics\n" + listing.String()

	var reply checklistReply
	raw, err := j.completeJSON(ctx, ec, judge, checklistSystemPrompt, prompt, &reply)
	if err != nil {
		ec.logger().Warn("checklist judge failed to produce parsable output",
			zap.String("evaluator", j.name), zap.Error(err))
		return failedJudgeScore(raw, err), nil
	}

	satisfied := make(map[string]bool, len(reply.Rubrics))
	reasons := make(map[string]string, len(reply.Rubrics))
	for _, r := range reply.Rubrics {
		satisfied[r.ID] = r.Satisfied
		reasons[r.ID] = r.Reasoning
	}

	var hits, misses []string
	var totalWeight, earnedWeight float64
	requiredFailed := false
	for _, r := range j.rubrics {
		totalWeight += r.EffectiveWeight()
		if satisfied[r.ID] {
			earnedWeight += r.EffectiveWeight()
			hits = append(hits, fmt.Sprintf("[%s] %s", r.ID, r.Description))
		} else {
			misses = append(misses, fmt.Sprintf("[%s] %s: %s", r.ID, r.Description, reasons[r.ID]))
			if r.Required {
				requiredFailed = true
			}
		}
	}

	score := eval.Score{
		Hits:                eval.CapFindings(hits),
		Misses:              eval.CapFindings(misses),
		ExpectedAspectCount: len(j.rubrics),
		EvaluatorRawRequest: map[string]any{"prompt": prompt},
	}
	if totalWeight > 0 {
		score.Score = earnedWeight / totalWeight
	}
	score.Normalize()
	if requiredFailed {
		score.Verdict = eval.VerdictFail
	}
	return score, nil
}

// scoreRangeReply is the JSON shape a score-range judge must return.
type scoreRangeReply struct {
	Rubrics []struct {
		ID        string `json:"id"`
		Score     int    `json:"score"`
		Reasoning string `json:"reasoning"`
	} `json:"rubrics"`
}

func (j *llmJudge) evaluateScoreRange(ctx context.Context, ec *Context, judge provider.Provider) (eval.Score, error) {
	var listing strings.Builder
	for _, r := range j.rubrics {
		fmt.Fprintf(&listing, "[%s] %s (weight=%g)\n", r.ID, r.Description, r.EffectiveWeight())
		for _, band := range r.ScoreRanges {
			fmt.Fprintf(&listing, "  %d-%d: %s\n", band.Range[0], band.Range[1], band.Description)
		}
	}

	prompt := j.renderTemplate(ec, j.templateOr(defaultFreeformTemplate)) + "\n\n## Rubrics\n" + listing.String()

	var reply scoreRangeReply
	raw, err := j.completeJSON(ctx, ec, judge, scoreRangeSystemPrompt, prompt, &reply)
	if err != nil {
		ec.logger().Warn("score-range judge failed to produce parsable output",
			zap.String("evaluator", j.name), zap.Error(err))
		return failedJudgeScore(raw, err), nil
	}

	scores := make(map[string]int, len(reply.Rubrics))
	for _, r := range reply.Rubrics {
		scores[r.ID] = clampInt(r.Score, 0, 10)
	}

	var hits, misses []string
	var totalWeight, earnedWeight float64
	gateFailed := false
	for _, r := range j.rubrics {
		got := scores[r.ID]
		totalWeight += r.EffectiveWeight()
		earnedWeight += r.EffectiveWeight() * float64(got) / 10

		band := bandForScore(r.ScoreRanges, got)
		finding := fmt.Sprintf("[%s] scored %d/10", r.ID, got)
		if band != "" {
			finding += ": " + band
		}
		if got >= 7 {
			hits = append(hits, finding)
		} else {
			misses = append(misses, finding)
		}

		if gate := r.MinScoreGate(); gate >= 0 && got < gate {
			gateFailed = true
		}
	}

	score := eval.Score{
		Hits:                eval.CapFindings(hits),
		Misses:              eval.CapFindings(misses),
		ExpectedAspectCount: len(j.rubrics),
		EvaluatorRawRequest: map[string]any{"prompt": prompt},
	}
	if totalWeight > 0 {
		score.Score = earnedWeight / totalWeight
	}
	score.Normalize()
	if gateFailed {
		score.Verdict = eval.VerdictFail
	}
	return score, nil
}

// bandForScore returns the description of the range containing score.
func bandForScore(ranges []eval.ScoreRange, score int) string {
	for _, band := range ranges {
		if score >= band.Range[0] && score <= band.Range[1] {
			return band.Description
		}
	}
	return ""
}

// completeJSON sends the prompt and parses the reply into out, retrying on
// parse failures. Returns the last raw text alongside any definitive error.
func (j *llmJudge) completeJSON(ctx context.Context, ec *Context, judge provider.Provider, system, prompt string, out any) (string, error) {
	model := provider.AsLanguageModel(judge)

	var lastRaw string
	var lastErr error
	for attempt := 0; attempt < judgeParseRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastRaw, err
		}

		var resp *eval.ProviderResponse
		var err error
		if j.agentMode {
			resp, err = judge.Invoke(ctx, provider.Request{
				Question:      prompt,
				SystemPrompt:  system,
				WorkspacePath: ec.WorkspacePath,
			})
		} else {
			resp, err = model.Complete(ctx, system, prompt)
		}
		if err != nil {
			lastErr = err
			continue
		}

		lastRaw = eval.LastAssistantText(resp.OutputMessages)
		payload := lastRaw
		if extracted := extractJSONBlock(payload); extracted != "" {
			payload = extracted
		}
		if err := json.Unmarshal([]byte(payload), out); err != nil {
			lastErr = fmt.Errorf("judge reply is not valid JSON: %w", err)
			continue
		}
		return lastRaw, nil
	}
	return lastRaw, fmt.Errorf("judge failed after %d attempts: %w", judgeParseRetries, lastErr)
}

// renderTemplate substitutes the case variables into a prompt template.
func (j *llmJudge) renderTemplate(ec *Context, template string) string {
	vars := map[string]string{
		"question":          ec.Case.Question(),
		"criteria":          ec.Case.Criteria,
		"candidate_answer":  ec.Candidate,
		"reference_answer":  ec.Case.ReferenceAnswer(),
		"expected_messages": marshalMessages(ec.Case.ExpectedMessages),
		"input_messages":    marshalMessages(ec.Case.InputMessages),
		"output_messages":   marshalMessages(ec.OutputMessages),
		"file_changes":      strings.Join(ec.FileChanges, "\n"),
	}
	for k, v := range ec.PromptInputs {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rendered := template
	for _, k := range keys {
		rendered = strings.ReplaceAll(rendered, "{"+k+"}", vars[k])
	}

	if j.agentMode {
		rendered = j.appendGuidelines(ec, rendered)
	}
	return rendered
}

// appendGuidelines inlines the configured guideline files into the prompt.
// Unreadable files are skipped with a warning.
func (j *llmJudge) appendGuidelines(ec *Context, prompt string) string {
	if len(j.guidelineFiles) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## Guidelines\n")
	for _, path := range j.guidelineFiles {
		content, err := os.ReadFile(path)
		if err != nil {
			ec.logger().Warn("skipping unreadable guideline file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", path, content)
	}
	return b.String()
}

func (j *llmJudge) templateOr(fallback string) string {
	if j.template != "" {
		return j.template
	}
	return fallback
}

// failedJudgeScore is the zero score produced when the judge never yields
// parsable output.
func failedJudgeScore(raw string, err error) eval.Score {
	s := eval.FailScore(fmt.Sprintf("judge did not return a parsable verdict: %v", err))
	if raw != "" {
		s.Details = map[string]any{"last_raw_reply": raw}
	}
	return s
}

func marshalMessages(messages []eval.Message) string {
	if len(messages) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
