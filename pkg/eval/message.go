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

// Package eval defines the core data model shared by the dispatcher,
// providers, evaluators and writers: cases, messages, tool calls, scores,
// results and trace summaries.
package eval

import (
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall records a single tool invocation by the agent.
type ToolCall struct {
	Tool       string `json:"tool" yaml:"tool"`
	Input      any    `json:"input,omitempty" yaml:"input,omitempty"`
	Output     any    `json:"output,omitempty" yaml:"output,omitempty"`
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// Message is one turn of a conversation. Content may be a string, a
// structured object, or nil when the message carries only tool calls.
type Message struct {
	Role      Role       `json:"role" yaml:"role"`
	Content   any        `json:"content,omitempty" yaml:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
}

// Text returns the message content when it is a plain string, "" otherwise.
func (m Message) Text() string {
	if s, ok := m.Content.(string); ok {
		return s
	}
	return ""
}

// LastAssistantText returns the textual content of the last assistant
// message, the candidate answer an evaluator scores.
func LastAssistantText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleAssistant {
			continue
		}
		if s := messages[i].Text(); s != "" {
			return s
		}
	}
	return ""
}

// CollectToolCalls flattens the ordered tool calls of every message.
// Order follows message order, then call order within a message.
func CollectToolCalls(messages []Message) []ToolCall {
	var calls []ToolCall
	for _, m := range messages {
		calls = append(calls, m.ToolCalls...)
	}
	return calls
}

// TokenUsage reports token counts for one provider or judge call.
// Cached is nil when the backend does not report cache hits.
type TokenUsage struct {
	Input  int64  `json:"input" yaml:"input"`
	Output int64  `json:"output" yaml:"output"`
	Cached *int64 `json:"cached,omitempty" yaml:"cached,omitempty"`
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output
}

// Add accumulates another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	if other.Cached != nil {
		cached := other.Cached
		if u.Cached != nil {
			sum := *u.Cached + *cached
			u.Cached = &sum
		} else {
			v := *cached
			u.Cached = &v
		}
	}
}

// serializeToolCalls renders tool calls as compact JSON for use as a
// reference answer when the expected message has no textual content.
func serializeToolCalls(calls []ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(data)
}
