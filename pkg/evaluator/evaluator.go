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

// Package evaluator scores candidate answers and execution traces against
// evaluation cases. The factory constructs evaluators from declarative
// tagged configs; every evaluator normalizes its output into an eval.Score.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
	"github.com/agentv-ai/agentv/pkg/target"
	"go.uber.org/zap"
)

// ErrUnknownKind is returned when a config names an evaluator kind the
// factory does not know.
var ErrUnknownKind = errors.New("unknown evaluator kind")

// ErrScriptTimeout is returned when a code-judge subprocess exceeds its
// configured lifetime.
var ErrScriptTimeout = errors.New("evaluator script timeout")

// Context carries everything an evaluator may inspect for one
// (case, attempt) work item. It is created right before the case's
// evaluators run and discarded after the last one returns.
type Context struct {
	Case           *eval.EvalCase
	Candidate      string
	Target         string
	Provider       provider.Provider
	Attempt        int
	PromptInputs   map[string]string
	JudgeProvider  provider.Provider
	OutputMessages []eval.Message
	TraceSummary   *eval.TraceSummary
	FileChanges    []string
	WorkspacePath  string
	Resolver       *target.Resolver
	Logger         *zap.Logger
}

// logger returns the context logger, never nil.
func (c *Context) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Evaluator scores one case. Implementations may open subprocesses or HTTP
// connections but must release them on every exit path.
type Evaluator interface {
	// Name identifies the evaluator on result records.
	Name() string

	// Evaluate scores the candidate in ec and returns a normalized Score.
	// An error means the evaluator itself could not run; scoring failures
	// are expressed as a zero score, not an error.
	Evaluate(ctx context.Context, ec *Context) (eval.Score, error)
}

type constructor func(cfg eval.EvaluatorConfig) (Evaluator, error)

var constructors map[string]constructor

// Assigned in init rather than declared: newComposite builds members
// through New, which reads the map back.
func init() {
	constructors = map[string]constructor{
		eval.KindToolTrajectory:   newToolTrajectory,
		eval.KindFieldAccuracy:    newFieldAccuracy,
		eval.KindLLMJudge:         newLLMJudge,
		eval.KindRubric:           newLLMJudge,
		eval.KindAgentJudge:       newAgentJudge,
		eval.KindCodeJudge:        newCodeJudge,
		eval.KindComposite:        newComposite,
		eval.KindLatency:          newLatencyGate,
		eval.KindCost:             newCostGate,
		eval.KindTokenUsage:       newTokenUsageGate,
		eval.KindExecutionMetrics: newExecutionMetrics,
	}
}

// New constructs an evaluator from a tagged config.
func New(cfg eval.EvaluatorConfig) (Evaluator, error) {
	build, ok := constructors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	return build(cfg)
}

// BuildAll constructs the full evaluator chain of a case. The first
// unknown kind fails the whole chain.
func BuildAll(configs []eval.EvaluatorConfig) ([]Evaluator, error) {
	evaluators := make([]Evaluator, 0, len(configs))
	for i, cfg := range configs {
		e, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("evaluator %d: %w", i, err)
		}
		evaluators = append(evaluators, e)
	}
	return evaluators, nil
}

// RequiresJudge reports whether any config in the chain needs a judge
// provider resolved before evaluation.
func RequiresJudge(configs []eval.EvaluatorConfig) bool {
	for _, cfg := range configs {
		switch cfg.Kind {
		case eval.KindLLMJudge, eval.KindRubric, eval.KindAgentJudge:
			return true
		case eval.KindCodeJudge:
			if cfg.Target != nil {
				return true
			}
		case eval.KindComposite:
			if cfg.Aggregator == "llm_judge" || RequiresJudge(cfg.Members) {
				return true
			}
		}
	}
	return false
}
