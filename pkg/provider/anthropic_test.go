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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messagesStub(t *testing.T, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inspect(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicAPIVersionQuery(t *testing.T) {
	var gotVersion string
	srv := messagesStub(t, func(r *http.Request) {
		gotVersion = r.URL.Query().Get("api-version")
	})

	c := NewAnthropicClient(AnthropicConfig{
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		APIVersion: "2024-06-01",
	})

	resp, err := c.Invoke(context.Background(), Request{Question: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", gotVersion)
	assert.Equal(t, "ok", resp.OutputMessages[0].Text())
	require.NotNil(t, resp.TokenUsage)
	assert.Equal(t, int64(5), resp.TokenUsage.Total())
}

func TestAnthropicNoAPIVersionByDefault(t *testing.T) {
	var hasVersion bool
	srv := messagesStub(t, func(r *http.Request) {
		hasVersion = r.URL.Query().Has("api-version")
	})

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Endpoint: srv.URL})

	_, err := c.Invoke(context.Background(), Request{Question: "hello"})
	require.NoError(t, err)
	assert.False(t, hasVersion)
}
