package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgertag/internal/common"
)

func newTestAnthropicClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewAnthropicClient(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func TestNewAnthropicClient_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient(Config{})
	require.Error(t, err)
}

func TestComplete(t *testing.T) {
	var gotRequest map[string]any
	client := newTestAnthropicClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		fmt.Fprint(w, `{"id": "msg_1", "content": [{"type": "text", "text": "{\"category_name\": \"Groceries\"}"}]}`)
	}))

	text, err := client.Complete(context.Background(), "What category is this?")
	require.NoError(t, err)
	assert.Equal(t, `{"category_name": "Groceries"}`, text)

	messages, ok := gotRequest["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
}

func TestComplete_RateLimited(t *testing.T) {
	client := newTestAnthropicClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRateLimit))

	var svcErr *common.ExternalServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 12, svcErr.RetryAfter)
}

func TestComplete_Unauthorized(t *testing.T) {
	client := newTestAnthropicClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Complete(context.Background(), "prompt")
	var svcErr *common.ExternalServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, common.KindUnauthorized, svcErr.Kind)
}

func TestComplete_EmptyContent(t *testing.T) {
	client := newTestAnthropicClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id": "msg_1", "content": []}`)
	}))

	_, err := client.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}

func TestCleanCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain json", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced with language", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"backticks inside plain text", "{\"memo\": \"uses ``` inside\"}", "{\"memo\": \"uses ``` inside\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCodeFence(tt.input))
		})
	}
}
