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

// Package judgeproxy runs the loopback HTTP service that gives code-judge
// subprocesses controlled, call-limited access to the judge provider.
package judgeproxy

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
	"go.uber.org/zap"
)

// DefaultMaxCalls bounds how many judge calls one subprocess may make.
const DefaultMaxCalls = 50

const shutdownGrace = 5 * time.Second

// TargetLookup resolves an alternate judge target named by a proxy request.
// A nil lookup rejects every named target.
type TargetLookup func(name string) (provider.Provider, error)

// Config configures a proxy instance.
type Config struct {
	// Judge is the default provider /invoke forwards to. Required.
	Judge provider.Provider

	// Lookup resolves request-named alternate targets. Optional.
	Lookup TargetLookup

	// MaxCalls bounds the call budget; 0 means DefaultMaxCalls.
	MaxCalls int

	Logger *zap.Logger
}

// Proxy is one judge-proxy instance, scoped to a single code-judge
// invocation. Start it, hand URL and Token to the subprocess, and Shutdown
// in the evaluator's cleanup path.
type Proxy struct {
	judge    provider.Provider
	lookup   TargetLookup
	maxCalls int64
	logger   *zap.Logger

	token    string
	server   *http.Server
	listener net.Listener
	url      string

	calls        atomic.Int64
	shutdownOnce sync.Once
	shutdownErr  error
}

// InvokeRequest is the body of POST /invoke.
type InvokeRequest struct {
	Question     string `json:"question"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Target       string `json:"target,omitempty"`
}

// InvokeResponse is the body of a successful /invoke reply.
type InvokeResponse struct {
	RawText        string           `json:"rawText"`
	OutputMessages []eval.Message   `json:"outputMessages"`
	TokenUsage     *eval.TokenUsage `json:"tokenUsage,omitempty"`
	CostUSD        *float64         `json:"costUsd,omitempty"`
	DurationMs     int64            `json:"durationMs,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// New creates a proxy. Start must be called before use.
func New(config Config) (*Proxy, error) {
	if config.Judge == nil {
		return nil, fmt.Errorf("judge provider is required")
	}
	if config.MaxCalls <= 0 {
		config.MaxCalls = DefaultMaxCalls
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate proxy token: %w", err)
	}

	return &Proxy{
		judge:    config.Judge,
		lookup:   config.Lookup,
		maxCalls: int64(config.MaxCalls),
		logger:   config.Logger,
		token:    hex.EncodeToString(tokenBytes),
	}, nil
}

// Start binds the proxy to an ephemeral loopback port and begins serving.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to bind judge proxy: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", p.handleInvoke)
	mux.HandleFunc("POST /batch", p.handleBatch)

	p.listener = listener
	p.url = fmt.Sprintf("http://%s", listener.Addr().String())
	p.server = &http.Server{Handler: mux}

	go func() {
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			p.logger.Warn("judge proxy serve error", zap.Error(err))
		}
	}()

	p.logger.Debug("judge proxy started", zap.String("url", p.url))
	return nil
}

// URL returns the proxy base URL.
func (p *Proxy) URL() string {
	return p.url
}

// Token returns the bearer token the subprocess must present.
func (p *Proxy) Token() string {
	return p.token
}

// CallCount returns how many calls were accepted against the budget.
func (p *Proxy) CallCount() int64 {
	return p.calls.Load()
}

// Shutdown stops the proxy. Idempotent; safe on never-started proxies.
func (p *Proxy) Shutdown() error {
	p.shutdownOnce.Do(func() {
		if p.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		p.shutdownErr = p.server.Shutdown(ctx)
		p.logger.Debug("judge proxy stopped", zap.Int64("calls", p.calls.Load()))
	})
	return p.shutdownErr
}

func (p *Proxy) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(presented), []byte(p.token)) == 1
}

// reserveCall claims one unit of the call budget. Rejected calls do not
// consume budget.
func (p *Proxy) reserveCall() bool {
	if p.calls.Add(1) > p.maxCalls {
		p.calls.Add(-1)
		return false
	}
	return true
}

func (p *Proxy) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, status := p.invoke(r.Context(), req)
	if status != http.StatusOK {
		http.Error(w, resp.Error, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		p.logger.Warn("failed to encode proxy response", zap.Error(err))
	}
}

func (p *Proxy) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var reqs []InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	responses := make([]InvokeResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, status := p.invoke(r.Context(), req)
		if status != http.StatusOK && resp.Error == "" {
			resp.Error = http.StatusText(status)
		}
		responses = append(responses, resp)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(responses); err != nil {
		p.logger.Warn("failed to encode proxy batch response", zap.Error(err))
	}
}

// invoke forwards one request to the judge (or a named alternate target)
// and shapes the reply. The returned status follows the proxy protocol:
// 404 unknown target, 429 over budget, 500 judge error.
func (p *Proxy) invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, int) {
	judge := p.judge
	if req.Target != "" {
		if p.lookup == nil {
			return InvokeResponse{Error: fmt.Sprintf("unknown target %q", req.Target)}, http.StatusNotFound
		}
		alt, err := p.lookup(req.Target)
		if err != nil {
			return InvokeResponse{Error: fmt.Sprintf("unknown target %q: %v", req.Target, err)}, http.StatusNotFound
		}
		judge = alt
	}

	if !p.reserveCall() {
		return InvokeResponse{Error: "judge call budget exhausted"}, http.StatusTooManyRequests
	}

	resp, err := judge.Invoke(ctx, provider.Request{
		Question:     req.Question,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		p.logger.Warn("judge invocation failed via proxy", zap.Error(err))
		return InvokeResponse{Error: fmt.Sprintf("judge error: %v", err)}, http.StatusInternalServerError
	}

	return InvokeResponse{
		RawText:        eval.LastAssistantText(resp.OutputMessages),
		OutputMessages: resp.OutputMessages,
		TokenUsage:     resp.TokenUsage,
		CostUSD:        resp.CostUSD,
		DurationMs:     resp.DurationMs,
	}, http.StatusOK
}
