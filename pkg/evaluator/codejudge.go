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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/judgeproxy"
	"github.com/agentv-ai/agentv/pkg/provider"
	"go.uber.org/zap"
)

const (
	// outputSpillBytes is the serialized size above which output_messages
	// moves to a temp file referenced as {output_path}.
	outputSpillBytes = 50000

	// stderrTailBytes bounds the stderr excerpt surfaced on failure.
	stderrTailBytes = 2000

	// Environment the judge proxy is published through.
	proxyURLEnv   = "AGENTV_TARGET_PROXY_URL"
	proxyTokenEnv = "AGENTV_TARGET_PROXY_TOKEN"

	// workspaceEnv carries the materialized workspace path to the child.
	workspaceEnv = "AGENTV_WORKSPACE_PATH"
)

// codeJudge runs a user-supplied script as a child process, feeding it the
// case payload on stdin and reading a score object from stdout.
type codeJudge struct {
	name           string
	command        []string
	shell          string
	timeout        time.Duration
	guidelineFiles []string
	proxyTarget    *eval.ProxyTarget
	options        map[string]any
}

func newCodeJudge(cfg eval.EvaluatorConfig) (Evaluator, error) {
	if len(cfg.Command) == 0 && cfg.Shell == "" {
		return nil, fmt.Errorf("code_judge: command or shell is required")
	}
	if len(cfg.Command) > 0 && cfg.Shell != "" {
		return nil, fmt.Errorf("code_judge: command and shell are mutually exclusive")
	}

	var timeout time.Duration
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	return &codeJudge{
		name:           cfg.DisplayName(),
		command:        cfg.Command,
		shell:          cfg.Shell,
		timeout:        timeout,
		guidelineFiles: cfg.GuidelineFiles,
		proxyTarget:    cfg.Target,
		options:        cfg.Options,
	}, nil
}

func (c *codeJudge) Name() string {
	return c.name
}

// scriptReply is the JSON object the child writes to stdout.
type scriptReply struct {
	Score     float64        `json:"score"`
	Hits      []string       `json:"hits"`
	Misses    []string       `json:"misses"`
	Reasoning string         `json:"reasoning"`
	Verdict   string         `json:"verdict"`
	Details   map[string]any `json:"details"`
}

func (c *codeJudge) Evaluate(ctx context.Context, ec *Context) (eval.Score, error) {
	payload, cleanupPayload, err := c.buildPayload(ec)
	if err != nil {
		return eval.Score{}, fmt.Errorf("code judge %q: %w", c.name, err)
	}
	defer cleanupPayload()

	proxy, err := c.startProxy(ec)
	if err != nil {
		return eval.Score{}, fmt.Errorf("code judge %q: %w", c.name, err)
	}
	defer func() {
		if proxy != nil {
			if err := proxy.Shutdown(); err != nil {
				ec.logger().Warn("judge proxy shutdown failed", zap.Error(err))
			}
		}
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := c.buildCommand(runCtx, ec)
	if proxy != nil {
		cmd.Env = append(cmd.Env,
			proxyURLEnv+"="+proxy.URL(),
			proxyTokenEnv+"="+proxy.Token(),
		)
	}

	stdout, stderr, runErr := runScript(cmd, payload)

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return eval.Score{}, fmt.Errorf("code judge %q exceeded %s: %w", c.name, c.timeout, ErrScriptTimeout)
	}
	if ctx.Err() != nil {
		return eval.Score{}, ctx.Err()
	}

	if runErr != nil {
		score := eval.FailScore(fmt.Sprintf("script failed: %v; stderr: %s", runErr, tail(stderr, stderrTailBytes)))
		c.attachProxyUsage(&score, proxy)
		return score, nil
	}

	var reply scriptReply
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &reply); err != nil {
		score := eval.FailScore(fmt.Sprintf("script output is not valid JSON: %v", err))
		c.attachProxyUsage(&score, proxy)
		return score, nil
	}

	score := eval.Score{
		Score:               reply.Score,
		Verdict:             eval.Verdict(reply.Verdict),
		Hits:                eval.CapFindings(reply.Hits),
		Misses:              eval.CapFindings(reply.Misses),
		Reasoning:           reply.Reasoning,
		Details:             reply.Details,
		ExpectedAspectCount: maxInt(len(reply.Hits)+len(reply.Misses), 1),
	}
	score.Normalize()
	c.attachProxyUsage(&score, proxy)
	return score, nil
}

// buildPayload assembles the snake_case stdin document. Oversized
// output_messages spill to a temp file; the returned cleanup removes it.
func (c *codeJudge) buildPayload(ec *Context) ([]byte, func(), error) {
	cleanup := func() {}

	doc := map[string]any{
		"question":          ec.Case.Question(),
		"criteria":          ec.Case.Criteria,
		"expected_messages": ec.Case.ExpectedMessages,
		"reference_answer":  ec.Case.ReferenceAnswer(),
		"candidate_answer":  ec.Candidate,
		"trace_summary":     ec.TraceSummary,
		"guideline_files":   c.guidelineFiles,
		"input_files":       inputFiles(ec),
		"input_messages":    ec.Case.InputMessages,
		"config":            c.options,
	}
	if ec.WorkspacePath != "" {
		doc["workspace_path"] = ec.WorkspacePath
	}

	serialized, err := json.Marshal(ec.OutputMessages)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to serialize output messages: %w", err)
	}
	if len(serialized) > outputSpillBytes {
		spill, err := os.CreateTemp("", "agentv-output-*.json")
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create output spill file: %w", err)
		}
		if _, err := spill.Write(serialized); err != nil {
			spill.Close()
			os.Remove(spill.Name())
			return nil, cleanup, fmt.Errorf("failed to write output spill file: %w", err)
		}
		spill.Close()
		doc["output_messages"] = map[string]any{"output_path": spill.Name()}
		cleanup = func() { os.Remove(spill.Name()) }
	} else {
		doc["output_messages"] = ec.OutputMessages
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return payload, cleanup, nil
}

// inputFiles pulls the input file list out of the case metadata when the
// suite declared one.
func inputFiles(ec *Context) []string {
	raw, ok := ec.Case.Metadata["input_files"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	files := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			files = append(files, s)
		}
	}
	return files
}

// startProxy brings up the judge proxy when the config names a target.
func (c *codeJudge) startProxy(ec *Context) (*judgeproxy.Proxy, error) {
	if c.proxyTarget == nil {
		return nil, nil
	}

	judge := ec.JudgeProvider
	if c.proxyTarget.Name != "" && ec.Resolver != nil {
		resolved, err := ec.Resolver.Resolve(c.proxyTarget.Name)
		if err != nil {
			return nil, fmt.Errorf("proxy target %q: %w", c.proxyTarget.Name, err)
		}
		judge = resolved.Provider
	}
	if judge == nil {
		return nil, fmt.Errorf("proxy requested but no judge provider available")
	}

	var lookup judgeproxy.TargetLookup
	if ec.Resolver != nil {
		resolver := ec.Resolver
		lookup = func(name string) (provider.Provider, error) {
			resolved, err := resolver.Resolve(name)
			if err != nil {
				return nil, err
			}
			return resolved.Provider, nil
		}
	}

	proxy, err := judgeproxy.New(judgeproxy.Config{
		Judge:    judge,
		Lookup:   lookup,
		MaxCalls: c.proxyTarget.MaxCalls,
		Logger:   ec.logger(),
	})
	if err != nil {
		return nil, err
	}
	if err := proxy.Start(); err != nil {
		return nil, err
	}
	return proxy, nil
}

// attachProxyUsage records the proxy call counter on the score's
// raw-request blob.
func (c *codeJudge) attachProxyUsage(score *eval.Score, proxy *judgeproxy.Proxy) {
	if proxy == nil {
		return
	}
	score.EvaluatorRawRequest = map[string]any{
		"target_proxy": map[string]any{
			"call_count": proxy.CallCount(),
		},
	}
}

func (c *codeJudge) buildCommand(ctx context.Context, ec *Context) *exec.Cmd {
	var cmd *exec.Cmd
	if c.shell != "" {
		cmd = exec.CommandContext(ctx, "sh", "-c", c.shell)
	} else {
		cmd = exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	}
	cmd.Env = os.Environ()
	if ec.WorkspacePath != "" {
		cmd.Dir = ec.WorkspacePath
		cmd.Env = append(cmd.Env, workspaceEnv+"="+ec.WorkspacePath)
	}
	return cmd
}

func runScript(cmd *exec.Cmd, stdin []byte) (stdout, stderr []byte, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = fmt.Errorf("exit code %d", exitErr.ExitCode())
	}
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// tail returns the last n bytes of b as a string.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[len(b)-n:]))
}
