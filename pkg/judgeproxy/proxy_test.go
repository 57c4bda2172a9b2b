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

package judgeproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProvider struct {
	name string
}

func (e *echoProvider) Name() string {
	return e.name
}

func (e *echoProvider) RetrySafe() bool {
	return true
}

func (e *echoProvider) Invoke(_ context.Context, req provider.Request) (*eval.ProviderResponse, error) {
	return &eval.ProviderResponse{
		OutputMessages: []eval.Message{
			{Role: eval.RoleAssistant, Content: e.name + ": " + req.Question},
		},
		DurationMs: 1,
	}, nil
}

func startProxy(t *testing.T, config Config) *Proxy {
	t.Helper()
	if config.Judge == nil {
		config.Judge = &echoProvider{name: "judge"}
	}
	proxy, err := New(config)
	require.NoError(t, err)
	require.NoError(t, proxy.Start())
	t.Cleanup(func() { _ = proxy.Shutdown() })
	return proxy
}

func postInvoke(t *testing.T, proxy *Proxy, token string, body any) (*http.Response, InvokeResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, proxy.URL()+"/invoke", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded InvokeResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestProxyInvoke(t *testing.T) {
	proxy := startProxy(t, Config{})

	resp, decoded := postInvoke(t, proxy, proxy.Token(), InvokeRequest{Question: "ping"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "judge: ping", decoded.RawText)
	assert.Len(t, decoded.OutputMessages, 1)
	assert.Equal(t, int64(1), proxy.CallCount())
}

func TestProxyRejectsBadToken(t *testing.T) {
	proxy := startProxy(t, Config{})

	resp, _ := postInvoke(t, proxy, "wrong-token", InvokeRequest{Question: "ping"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int64(0), proxy.CallCount())
}

func TestProxyCallBudget(t *testing.T) {
	proxy := startProxy(t, Config{MaxCalls: 2})

	for i := 0; i < 2; i++ {
		resp, _ := postInvoke(t, proxy, proxy.Token(), InvokeRequest{Question: fmt.Sprintf("q%d", i)})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ := postInvoke(t, proxy, proxy.Token(), InvokeRequest{Question: "over budget"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// The rejected call does not consume budget.
	assert.Equal(t, int64(2), proxy.CallCount())
}

func TestProxyAlternateTarget(t *testing.T) {
	alt := &echoProvider{name: "alternate"}
	proxy := startProxy(t, Config{
		Lookup: func(name string) (provider.Provider, error) {
			if name == "alternate" {
				return alt, nil
			}
			return nil, fmt.Errorf("no such target")
		},
	})

	resp, decoded := postInvoke(t, proxy, proxy.Token(), InvokeRequest{Question: "hi", Target: "alternate"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alternate: hi", decoded.RawText)

	resp, _ = postInvoke(t, proxy, proxy.Token(), InvokeRequest{Question: "hi", Target: "nonexistent"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyBatch(t *testing.T) {
	proxy := startProxy(t, Config{})

	payload, err := json.Marshal([]InvokeRequest{
		{Question: "one"},
		{Question: "two"},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, proxy.URL()+"/batch", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+proxy.Token())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded []InvokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "judge: one", decoded[0].RawText)
	assert.Equal(t, "judge: two", decoded[1].RawText)
}

func TestProxyShutdownIdempotent(t *testing.T) {
	proxy := startProxy(t, Config{})
	require.NoError(t, proxy.Shutdown())
	require.NoError(t, proxy.Shutdown())

	neverStarted, err := New(Config{Judge: &echoProvider{name: "judge"}})
	require.NoError(t, err)
	assert.NoError(t, neverStarted.Shutdown())
}

func TestProxyRequiresJudge(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
