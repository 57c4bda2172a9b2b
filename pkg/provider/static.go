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

package provider

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"gopkg.in/yaml.v3"
)

// StaticProvider replays recorded traces keyed by eval case id. It backs
// the "static" target kind and lets suites score pre-captured agent runs
// without touching a live backend.
type StaticProvider struct {
	traces map[string]*eval.ProviderResponse
}

// staticTrace is the on-disk shape of one recorded case.
type staticTrace struct {
	OutputMessages []eval.Message   `yaml:"output_messages" json:"output_messages"`
	TokenUsage     *eval.TokenUsage `yaml:"token_usage,omitempty" json:"token_usage,omitempty"`
	CostUSD        *float64         `yaml:"cost_usd,omitempty" json:"cost_usd,omitempty"`
	DurationMs     int64            `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
}

// NewStaticProvider builds a provider from an in-memory trace map.
func NewStaticProvider(traces map[string]*eval.ProviderResponse) *StaticProvider {
	if traces == nil {
		traces = make(map[string]*eval.ProviderResponse)
	}
	return &StaticProvider{traces: traces}
}

// LoadStaticProvider reads a YAML trace file mapping case ids to recorded
// responses.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file %s: %w", path, err)
	}

	var raw map[string]staticTrace
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse trace file %s: %w", path, err)
	}

	traces := make(map[string]*eval.ProviderResponse, len(raw))
	for id, t := range raw {
		traces[id] = &eval.ProviderResponse{
			OutputMessages: t.OutputMessages,
			TokenUsage:     t.TokenUsage,
			CostUSD:        t.CostUSD,
			DurationMs:     t.DurationMs,
		}
	}
	return &StaticProvider{traces: traces}, nil
}

// Name returns the provider kind.
func (p *StaticProvider) Name() string {
	return "static"
}

// RetrySafe reports that replays have no side effects.
func (p *StaticProvider) RetrySafe() bool {
	return true
}

// Invoke returns the recorded response for the request's case id.
func (p *StaticProvider) Invoke(ctx context.Context, req Request) (*eval.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trace, ok := p.traces[req.EvalCaseID]
	if !ok {
		return nil, fmt.Errorf("no recorded trace for case %s: %w", req.EvalCaseID, ErrInvalidOutput)
	}

	resp := *trace
	if resp.StartTime.IsZero() {
		now := time.Now()
		resp.StartTime = now
		resp.EndTime = now.Add(time.Duration(resp.DurationMs) * time.Millisecond)
	}
	return &resp, nil
}

// InvokeBatch replays several cases in one call. A request whose case id
// has no recorded trace fails the whole batch.
func (p *StaticProvider) InvokeBatch(ctx context.Context, reqs []Request) ([]*eval.ProviderResponse, error) {
	responses := make([]*eval.ProviderResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := p.Invoke(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("batch replay failed: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// BatchSize returns the replay batch limit.
func (p *StaticProvider) BatchSize() int {
	return 16
}
