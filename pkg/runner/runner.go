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

// Package runner schedules evaluation work items over a bounded worker
// pool: it flattens cases x trials into a queue, drives the resolved
// provider (batched when the target opts in), runs each case's evaluator
// chain, and streams merged results to the output writer.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/evaluator"
	"github.com/agentv-ai/agentv/pkg/provider"
	"github.com/agentv-ai/agentv/pkg/suite"
	"github.com/agentv-ai/agentv/pkg/target"
	"github.com/agentv-ai/agentv/pkg/writer"
	"go.uber.org/zap"
)

const (
	// Providers get this long to unwind after a cancellation.
	cancelGrace = 5 * time.Second

	// Exponential retry backoff starts here and doubles per attempt.
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second

	// Retry budget for providers that advertise RetrySafe when the caller
	// did not set one.
	defaultSafeRetries = 2
)

// Options tune one dispatcher run.
type Options struct {
	// Trials is the number of independent attempts per case, at least 1.
	Trials int

	// FailFast cancels the run on the first fail verdict.
	FailFast bool

	// Workers overrides the target's configured worker count when positive.
	// Focused-window targets stay at one worker regardless.
	Workers int

	// AttemptTimeout bounds one work item's invocation and evaluation
	// together. Zero means no per-attempt bound beyond the run context.
	AttemptTimeout time.Duration

	// MaxRetries bounds provider-level retries on retryable errors. The
	// value -1 requests the default policy: no retries unless the provider
	// advertises RetrySafe.
	MaxRetries int

	// PromptInputs are extra template variables passed through to judge
	// evaluators.
	PromptInputs map[string]string
}

func (o Options) normalized() Options {
	if o.Trials < 1 {
		o.Trials = 1
	}
	return o
}

// Summary is the aggregate outcome of one run.
type Summary struct {
	Total      int
	Passed     int
	Failed     int
	Borderline int
	Results    []*eval.EvaluationResult
	Duration   time.Duration
}

// ExitCode maps the summary onto the CLI exit contract: 0 when no result
// failed, 1 when at least one did. Borderline results do not fail the run.
// Execution errors exit 2 at the call site.
func (s *Summary) ExitCode() int {
	if s.Failed == 0 {
		return 0
	}
	return 1
}

// Dispatcher drives suites against resolved targets.
type Dispatcher struct {
	resolver *target.Resolver
	out      writer.Writer
	logger   *zap.Logger
}

// New builds a dispatcher. A nil logger falls back to a no-op logger; a
// nil writer discards results.
func New(resolver *target.Resolver, out writer.Writer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{resolver: resolver, out: out, logger: logger}
}

// workItem is one (case, attempt) unit. Attempts of the same case are
// independent units, not retries of each other.
type workItem struct {
	c       *eval.EvalCase
	attempt int
}

// Run executes the suite against the named target and streams every
// result to the writer as it completes. The returned summary covers the
// results actually emitted; a non-nil error means the run itself could
// not proceed or aborted mid-way.
func (d *Dispatcher) Run(ctx context.Context, s *suite.Suite, targetName string, opts Options) (*Summary, error) {
	opts = opts.normalized()
	started := time.Now()

	resolved, err := d.resolver.Resolve(targetName)
	if err != nil {
		return nil, err
	}
	if len(s.Cases) == 0 {
		return nil, fmt.Errorf("suite %s has no cases", s.Name)
	}

	items := d.buildQueue(s, resolved, opts.Trials)
	workers := resolved.EffectiveWorkers()
	if opts.Workers > 0 && !resolved.SingleWorker() {
		workers = opts.Workers
	}
	if workers > len(items) {
		workers = len(items)
	}

	d.logger.Info("starting run",
		zap.String("suite", s.Name),
		zap.String("target", targetName),
		zap.Int("cases", len(s.Cases)),
		zap.Int("trials", opts.Trials),
		zap.Int("workers", workers))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Providers keep a context that outlives the run context by the grace
	// period, so cancellation lets in-flight invocations unwind.
	graceCtx, graceCancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			select {
			case <-time.After(cancelGrace):
			case <-runDone:
			}
		case <-runDone:
		}
		graceCancel()
	}()
	defer close(runDone)

	summary := &Summary{}
	emit := make(chan *eval.EvaluationResult, workers)
	var writeErr error
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for result := range emit {
			summary.Total++
			switch result.Verdict {
			case eval.VerdictPass:
				summary.Passed++
			case eval.VerdictBorderline:
				summary.Borderline++
			default:
				summary.Failed++
			}
			summary.Results = append(summary.Results, result)

			if d.out != nil {
				err := d.out.Append(result)
				if err != nil {
					// One retry before aborting the run.
					d.logger.Warn("retrying result write",
						zap.String("test_id", result.TestID), zap.Error(err))
					err = d.out.Append(result)
				}
				if err != nil {
					if writeErr == nil {
						writeErr = fmt.Errorf("failed to write result %s: %w", result.TestID, err)
					}
					cancel()
					continue
				}
			}
			if opts.FailFast && result.Verdict == eval.VerdictFail {
				d.logger.Warn("fail-fast triggered", zap.String("test_id", result.TestID))
				cancel()
			}
		}
	}()

	if batcher, ok := batchingProvider(resolved); ok {
		d.runBatched(runCtx, graceCtx, resolved, batcher, items, workers, opts, emit)
	} else {
		d.runPooled(runCtx, graceCtx, resolved, items, workers, opts, emit)
	}

	close(emit)
	<-consumerDone

	summary.Duration = time.Since(started)
	d.logger.Info("run complete",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration))

	if writeErr != nil {
		return summary, writeErr
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run cancelled: %w", err)
	}
	return summary, nil
}

// buildQueue flattens cases x trials, applying the target's workspace
// template to cases without one of their own.
func (d *Dispatcher) buildQueue(s *suite.Suite, resolved *target.Resolved, trials int) []workItem {
	items := make([]workItem, 0, len(s.Cases)*trials)
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Workspace == nil && s.Workspace != nil {
			clone := *c
			clone.Workspace = s.Workspace
			c = &clone
		}
		c = resolved.InjectedCase(c)
		for attempt := 0; attempt < trials; attempt++ {
			items = append(items, workItem{c: c, attempt: attempt})
		}
	}
	return items
}

// runPooled drains the queue with a fixed pool of workers.
func (d *Dispatcher) runPooled(runCtx, graceCtx context.Context, resolved *target.Resolved, items []workItem, workers int, opts Options, emit chan<- *eval.EvaluationResult) {
	queue := make(chan workItem)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				emit <- d.runItem(graceCtx, resolved, item, opts)
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case queue <- item:
		case <-runCtx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
}

// batchingProvider reports whether the target opts into provider-side
// batching and its provider supports it.
func batchingProvider(resolved *target.Resolved) (provider.BatchProvider, bool) {
	if resolved.Batching == nil || !resolved.Batching.Enabled {
		return nil, false
	}
	bp, ok := resolved.Provider.(provider.BatchProvider)
	return bp, ok
}

// runBatched groups ready work items into InvokeBatch calls. Each worker
// takes a whole chunk: one backend call, then per-item evaluation.
func (d *Dispatcher) runBatched(runCtx, graceCtx context.Context, resolved *target.Resolved, bp provider.BatchProvider, items []workItem, workers int, opts Options, emit chan<- *eval.EvaluationResult) {
	size := resolved.Batching.Size
	if size <= 0 || size > bp.BatchSize() {
		size = bp.BatchSize()
	}
	if size < 1 {
		size = 1
	}

	chunks := make(chan []workItem)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				d.runChunk(graceCtx, resolved, bp, chunk, opts, emit)
			}
		}()
	}

feed:
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		select {
		case chunks <- items[start:end]:
		case <-runCtx.Done():
			break feed
		}
	}
	close(chunks)
	wg.Wait()
}

// runChunk invokes one batch and evaluates each response. A batch-level
// invocation failure fails every item in the chunk.
func (d *Dispatcher) runChunk(ctx context.Context, resolved *target.Resolved, bp provider.BatchProvider, chunk []workItem, opts Options, emit chan<- *eval.EvaluationResult) {
	type prepared struct {
		item workItem
		ws   *workspace
		req  provider.Request
	}

	ready := make([]prepared, 0, len(chunk))
	reqs := make([]provider.Request, 0, len(chunk))
	for _, item := range chunk {
		ws, wsPath, err := d.setupItemWorkspace(ctx, resolved, item)
		if err != nil {
			emit <- d.errorResult(resolved, item, err)
			continue
		}
		req := buildRequest(item, wsPath)
		ready = append(ready, prepared{item: item, ws: ws, req: req})
		reqs = append(reqs, req)
	}
	if len(ready) == 0 {
		return
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if opts.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()
	}
	responses, err := bp.InvokeBatch(attemptCtx, reqs)
	if err == nil && len(responses) != len(reqs) {
		err = fmt.Errorf("%w: batch returned %d responses for %d requests",
			provider.ErrInvalidOutput, len(responses), len(reqs))
	}
	if err == nil {
		for i, resp := range responses {
			if resp == nil {
				err = fmt.Errorf("%w: no response for case %s", provider.ErrInvalidOutput, reqs[i].EvalCaseID)
				break
			}
		}
	}

	for i, p := range ready {
		if err != nil {
			emit <- d.errorResult(resolved, p.item, fmt.Errorf("batch invocation failed: %w", err))
		} else {
			emit <- d.evaluateItem(attemptCtx, resolved, p.item, responses[i], p.req.WorkspacePath, opts)
		}
		if p.ws != nil {
			p.ws.teardown(ctx)
		}
	}
}

// runItem is the full per-work-item pipeline for the unbatched path. The
// attempt timeout spans invocation and evaluation together.
func (d *Dispatcher) runItem(ctx context.Context, resolved *target.Resolved, item workItem, opts Options) *eval.EvaluationResult {
	ws, wsPath, err := d.setupItemWorkspace(ctx, resolved, item)
	if err != nil {
		return d.errorResult(resolved, item, err)
	}
	if ws != nil {
		defer ws.teardown(ctx)
	}

	attemptCtx := ctx
	if opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()
	}

	resp, err := d.invokeWithRetry(attemptCtx, resolved.Provider, buildRequest(item, wsPath), opts)
	if err != nil {
		return d.errorResult(resolved, item, fmt.Errorf("provider invocation failed: %w", err))
	}
	return d.evaluateItem(attemptCtx, resolved, item, resp, wsPath, opts)
}

// setupItemWorkspace materializes the case workspace when one is declared.
// Without a workspace the target's fixed cwd, if any, stands in as the
// working path.
func (d *Dispatcher) setupItemWorkspace(ctx context.Context, resolved *target.Resolved, item workItem) (*workspace, string, error) {
	if item.c.Workspace == nil {
		return nil, resolved.Cwd, nil
	}
	ws, err := setupWorkspace(ctx, item.c.Workspace, item.c.ID, item.attempt, d.logger)
	if err != nil {
		return nil, "", err
	}
	return ws, ws.path, nil
}

func buildRequest(item workItem, wsPath string) provider.Request {
	return provider.Request{
		Question:      item.c.Question(),
		Context:       item.c.InputMessages,
		InputFiles:    metadataStrings(item.c.Metadata, "input_files"),
		EvalCaseID:    item.c.ID,
		Attempt:       item.attempt,
		WorkspacePath: wsPath,
	}
}

// invokeWithRetry calls the provider, retrying retryable failures with
// exponential backoff. The caller bounds ctx with the attempt timeout.
func (d *Dispatcher) invokeWithRetry(ctx context.Context, p provider.Provider, req provider.Request, opts Options) (*eval.ProviderResponse, error) {
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
		if p.RetrySafe() {
			maxRetries = defaultSafeRetries
		}
	}

	var lastErr error
	for try := 0; try <= maxRetries; try++ {
		if try > 0 {
			shift := try - 1
			if shift > 5 {
				shift = 5
			}
			delay := retryBaseDelay << shift
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			d.logger.Warn("retrying provider invocation",
				zap.String("case", req.EvalCaseID),
				zap.Int("retry", try),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !provider.Retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// evaluateItem runs the case's evaluator chain sequentially and merges
// the per-evaluator scores into one result record.
func (d *Dispatcher) evaluateItem(ctx context.Context, resolved *target.Resolved, item workItem, resp *eval.ProviderResponse, wsPath string, opts Options) *eval.EvaluationResult {
	c := item.c
	result := d.newResult(resolved, item)
	result.CandidateAnswer = eval.LastAssistantText(resp.OutputMessages)
	result.OutputMessages = resp.OutputMessages
	result.TraceSummary = eval.Summarize(resp)

	evaluators, err := evaluator.BuildAll(c.Evaluators)
	if err != nil {
		result.Error = err.Error()
		result.Verdict = eval.VerdictFail
		result.Misses = []string{fmt.Sprintf("failed to build evaluators: %v", err)}
		return result
	}

	var judge provider.Provider
	if evaluator.RequiresJudge(c.Evaluators) {
		judge, err = d.resolver.ResolveJudge(resolved.Name)
		if err != nil {
			result.Error = err.Error()
			result.Verdict = eval.VerdictFail
			result.Misses = []string{fmt.Sprintf("failed to resolve judge: %v", err)}
			return result
		}
	}

	ec := &evaluator.Context{
		Case:           c,
		Candidate:      result.CandidateAnswer,
		Target:         resolved.Name,
		Provider:       resolved.Provider,
		Attempt:        item.attempt,
		PromptInputs:   opts.PromptInputs,
		JudgeProvider:  judge,
		OutputMessages: resp.OutputMessages,
		TraceSummary:   result.TraceSummary,
		FileChanges:    collectFileChanges(wsPath, resp.StartTime),
		WorkspacePath:  wsPath,
		Resolver:       d.resolver,
		Logger:         d.logger,
	}

	scores := make([]eval.Score, 0, len(evaluators))
	for i, e := range evaluators {
		score, err := e.Evaluate(ctx, ec)
		if err != nil {
			d.logger.Warn("evaluator failed",
				zap.String("case", c.ID),
				zap.String("evaluator", e.Name()),
				zap.Error(err))
			score = eval.FailScore(fmt.Sprintf("%s could not run: %v", e.Name(), err))
		}
		score.Normalize()
		scores = append(scores, score)

		entry := eval.EvaluatorScore{
			Name:      e.Name(),
			Type:      c.Evaluators[i].Kind,
			Score:     score.Score,
			Verdict:   score.Verdict,
			Hits:      score.Hits,
			Misses:    score.Misses,
			Weight:    float64(score.ExpectedAspectCount),
			Reasoning: score.Reasoning,
			Details:   score.Details,
		}
		if len(score.ChildScores) > 0 {
			entry.EvaluatorResults = score.ChildScores
		} else if score.EvaluatorRawRequest != nil {
			entry.EvaluatorResults = score.EvaluatorRawRequest
		}
		result.EvaluatorScores = append(result.EvaluatorScores, entry)

		result.Hits = append(result.Hits, score.Hits...)
		result.Misses = append(result.Misses, score.Misses...)
		if result.Reasoning == "" && score.Reasoning != "" {
			result.Reasoning = score.Reasoning
		}
	}

	result.Score, result.Verdict = eval.MergeScores(scores)
	return result
}

func (d *Dispatcher) newResult(resolved *target.Resolved, item workItem) *eval.EvaluationResult {
	result := &eval.EvaluationResult{
		Timestamp: time.Now().UTC(),
		TestID:    item.c.ID,
		Dataset:   item.c.Dataset,
		Target:    resolved.Name,
		Attempt:   item.attempt,
		Hits:      []string{},
		Misses:    []string{},
	}
	if item.attempt > 0 {
		result.TrialOf = item.c.ID
	}
	return result
}

// errorResult records an infrastructure failure for one work item. These
// are execution errors, not scoring outcomes.
func (d *Dispatcher) errorResult(resolved *target.Resolved, item workItem, err error) *eval.EvaluationResult {
	d.logger.Error("work item failed",
		zap.String("case", item.c.ID),
		zap.Int("attempt", item.attempt),
		zap.Error(err))

	result := d.newResult(resolved, item)
	result.Verdict = eval.VerdictFail
	result.Error = err.Error()
	result.Misses = []string{err.Error()}
	return result
}

// collectFileChanges lists workspace files modified at or after the
// provider's start time, relative to the workspace root.
func collectFileChanges(wsPath string, since time.Time) []string {
	if wsPath == "" || since.IsZero() {
		return nil
	}
	var changed []string
	_ = filepath.Walk(wsPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !info.ModTime().Before(since) {
			if rel, relErr := filepath.Rel(wsPath, path); relErr == nil {
				changed = append(changed, rel)
			}
		}
		return nil
	})
	return changed
}

// metadataStrings reads a []string-valued metadata key, accepting the
// []any shape YAML decoding produces.
func metadataStrings(meta map[string]any, key string) []string {
	raw, ok := meta[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
