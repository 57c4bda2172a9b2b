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
	"sort"
	"strings"
)

// TraceSummary is the normalized view of what a provider did: event and
// error counts, tool usage, token totals, cost and duration.
type TraceSummary struct {
	EventCount      int            `json:"event_count" yaml:"event_count"`
	ToolNames       []string       `json:"tool_names" yaml:"tool_names"`
	ToolCallsByName map[string]int `json:"tool_calls_by_name" yaml:"tool_calls_by_name"`
	ErrorCount      int            `json:"error_count" yaml:"error_count"`
	LLMCallCount    *int           `json:"llm_call_count,omitempty" yaml:"llm_call_count,omitempty"`
	TokenUsage      *TokenUsage    `json:"token_usage,omitempty" yaml:"token_usage,omitempty"`
	CostUSD         *float64       `json:"cost_usd,omitempty" yaml:"cost_usd,omitempty"`
	DurationMs      int64          `json:"duration_ms" yaml:"duration_ms"`
}

// Summarize derives a TraceSummary from a provider response. Every message
// counts as one event; tool outputs whose text contains an error marker
// count toward ErrorCount.
func Summarize(resp *ProviderResponse) *TraceSummary {
	summary := &TraceSummary{
		ToolCallsByName: make(map[string]int),
		DurationMs:      resp.DurationMs,
		TokenUsage:      resp.TokenUsage,
		CostUSD:         resp.CostUSD,
	}

	for _, msg := range resp.OutputMessages {
		summary.EventCount++
		for _, call := range msg.ToolCalls {
			summary.ToolCallsByName[call.Tool]++
			if isToolError(call.Output) {
				summary.ErrorCount++
			}
		}
	}

	summary.ToolNames = make([]string, 0, len(summary.ToolCallsByName))
	for name := range summary.ToolCallsByName {
		summary.ToolNames = append(summary.ToolNames, name)
	}
	sort.Strings(summary.ToolNames)

	return summary
}

// TotalToolCalls returns the number of tool calls across all tools.
func (t *TraceSummary) TotalToolCalls() int {
	total := 0
	for _, n := range t.ToolCallsByName {
		total += n
	}
	return total
}

func isToolError(output any) bool {
	m, ok := output.(map[string]any)
	if !ok {
		return false
	}
	if v, ok := m["is_error"].(bool); ok && v {
		return true
	}
	if v, ok := m["error"]; ok && v != nil {
		if s, ok := v.(string); !ok || strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}
