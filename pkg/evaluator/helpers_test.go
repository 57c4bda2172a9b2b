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
	"sync/atomic"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
)

// scriptedJudge replays canned replies in order, repeating the last one
// once the script runs out.
type scriptedJudge struct {
	replies []string
	err     error
	calls   atomic.Int64
}

func (s *scriptedJudge) Name() string {
	return "scripted"
}

func (s *scriptedJudge) RetrySafe() bool {
	return true
}

func (s *scriptedJudge) Invoke(_ context.Context, _ provider.Request) (*eval.ProviderResponse, error) {
	call := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	idx := int(call) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return &eval.ProviderResponse{
		OutputMessages: []eval.Message{
			{Role: eval.RoleAssistant, Content: s.replies[idx]},
		},
		DurationMs: 1,
	}, nil
}
