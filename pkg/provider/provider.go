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

// Package provider defines the uniform request/response contract over
// heterogeneous agent backends, and the concrete adapters the core ships
// with.
package provider

import (
	"context"
	"errors"

	"github.com/agentv-ai/agentv/pkg/eval"
)

// Error kinds a provider may fail with. Implementations wrap these so the
// dispatcher can classify failures with errors.Is.
var (
	ErrBackendUnavailable = errors.New("provider backend unavailable")
	ErrTimeout            = errors.New("provider timeout")
	ErrInvalidOutput      = errors.New("provider returned invalid output")
	ErrQuotaExceeded      = errors.New("provider quota exceeded")
)

// Retryable reports whether an invocation error is safe to retry at the
// dispatcher level.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrBackendUnavailable)
}

// Request is one provider invocation: the rendered question plus everything
// the backend needs to reproduce the case.
type Request struct {
	Question        string
	SystemPrompt    string
	InputFiles      []string
	Context         []eval.Message
	EvalCaseID      string
	Attempt         int
	MaxOutputTokens int
	Temperature     float64
	WorkspacePath   string
}

// Provider adapts one backend to the uniform contract. Implementations must
// fill DurationMs even when the backend reports no timing of its own, and
// must leave token/cost fields nil when unknown. Providers may be called
// from any dispatcher worker; implementations that are not thread-safe must
// serialize internally.
type Provider interface {
	// Name returns the provider kind, e.g. "static" or "anthropic".
	Name() string

	// Invoke runs one request and returns the assistant output with the
	// full message trace.
	Invoke(ctx context.Context, req Request) (*eval.ProviderResponse, error)

	// RetrySafe reports whether failed invocations may be retried without
	// side effects.
	RetrySafe() bool
}

// BatchProvider is implemented by providers that accept several requests in
// one backend call. The returned slice aligns with the requests by
// EvalCaseID; a missing id fails the whole batch.
type BatchProvider interface {
	Provider

	// InvokeBatch runs up to BatchSize requests in one call.
	InvokeBatch(ctx context.Context, reqs []Request) ([]*eval.ProviderResponse, error)

	// BatchSize returns the largest batch the backend accepts.
	BatchSize() int
}

// LanguageModel is a direct completion handle that judge evaluators drive,
// bypassing the generic Invoke path.
type LanguageModel interface {
	Complete(ctx context.Context, system, prompt string) (*eval.ProviderResponse, error)
}

// ModelProvider is implemented by providers that can expose a LanguageModel.
type ModelProvider interface {
	Provider
	AsLanguageModel() LanguageModel
}

// AsLanguageModel returns the provider's direct model handle when it has
// one, or an adapter that routes completions through Invoke.
func AsLanguageModel(p Provider) LanguageModel {
	if mp, ok := p.(ModelProvider); ok {
		return mp.AsLanguageModel()
	}
	return invokeModel{p: p}
}

type invokeModel struct {
	p Provider
}

func (m invokeModel) Complete(ctx context.Context, system, prompt string) (*eval.ProviderResponse, error) {
	return m.p.Invoke(ctx, Request{Question: prompt, SystemPrompt: system})
}
