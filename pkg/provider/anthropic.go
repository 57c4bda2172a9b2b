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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
)

const (
	// DefaultAnthropicModel is the default Claude model.
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	// DefaultAnthropicEndpoint is the default Anthropic API endpoint.
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second
)

// AnthropicClient implements the Provider interface against Anthropic's
// Messages API. It is the stock judge provider.
type AnthropicClient struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey      string
	Model       string // Default: claude-sonnet-4-5-20250929
	Endpoint    string // Default: https://api.anthropic.com/v1/messages
	APIVersion  string // Azure compatibility mode: sent as ?api-version=
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultAnthropicModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultAnthropicEndpoint
		}
	}
	if config.APIVersion != "" {
		sep := "?"
		if strings.Contains(config.Endpoint, "?") {
			sep = "&"
		}
		config.Endpoint += sep + "api-version=" + url.QueryEscape(config.APIVersion)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}

	return &AnthropicClient{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider kind.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// RetrySafe reports that message requests are idempotent.
func (c *AnthropicClient) RetrySafe() bool {
	return true
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the subset of the Messages API response we read.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends the request conversation to Claude and returns the reply.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (*eval.ProviderResponse, error) {
	body := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      req.SystemPrompt,
	}
	if req.MaxOutputTokens > 0 {
		body.MaxTokens = req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		body.Temperature = req.Temperature
	}

	for _, msg := range req.Context {
		role := string(msg.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: msg.Text()})
	}
	body.Messages = append(body.Messages, anthropicMessage{Role: "user", Content: req.Question})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("anthropic request timed out: %w", ErrTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic request failed: %v: %w", err, ErrBackendUnavailable)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v: %w", err, ErrBackendUnavailable)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("anthropic rate limited: %w", ErrQuotaExceeded)
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("anthropic server error %d: %w", httpResp.StatusCode, ErrBackendUnavailable)
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("anthropic error %d: %s: %w", httpResp.StatusCode, string(raw), ErrInvalidOutput)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %v: %w", err, ErrInvalidOutput)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error %s: %s: %w", apiResp.Error.Type, apiResp.Error.Message, ErrInvalidOutput)
	}

	var text string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	end := time.Now()
	usage := &eval.TokenUsage{
		Input:  apiResp.Usage.InputTokens,
		Output: apiResp.Usage.OutputTokens,
	}

	return &eval.ProviderResponse{
		OutputMessages: []eval.Message{{Role: eval.RoleAssistant, Content: text}},
		TokenUsage:     usage,
		DurationMs:     end.Sub(start).Milliseconds(),
		StartTime:      start,
		EndTime:        end,
		Raw:            json.RawMessage(raw),
	}, nil
}

// AsLanguageModel exposes the client as a direct completion handle.
func (c *AnthropicClient) AsLanguageModel() LanguageModel {
	return anthropicModel{c: c}
}

type anthropicModel struct {
	c *AnthropicClient
}

func (m anthropicModel) Complete(ctx context.Context, system, prompt string) (*eval.ProviderResponse, error) {
	return m.c.Invoke(ctx, Request{Question: prompt, SystemPrompt: system})
}
