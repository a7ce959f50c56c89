package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, body string, check func(r *http.Request, in chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if check != nil {
			check(r, in)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okBody = `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`

func TestOpenAIClient_Bearer(t *testing.T) {
	srv := chatServer(t, http.StatusOK, okBody, func(r *http.Request, in chatRequest) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "gpt-test", in.Model)
		require.Len(t, in.Messages, 2)
		assert.Equal(t, "system", in.Messages[0].Role)
		assert.Equal(t, "sys", in.Messages[0].Content)
		assert.Equal(t, "user", in.Messages[1].Role)
		assert.Equal(t, DefaultMaxTokens, in.MaxTokens)
	})

	c, err := NewOpenAIClient(ClientConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-test"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", c.ModelName())

	out, err := c.Complete(context.Background(), "sys", "usr")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestOpenAIClient_Azure(t *testing.T) {
	srv := chatServer(t, http.StatusOK, okBody, func(r *http.Request, in chatRequest) {
		assert.Equal(t, "/openai/deployments/auto-gen/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "az-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, in.Model)
	})

	c, err := NewOpenAIClient(ClientConfig{
		BaseURL: srv.URL, APIKey: "az-key", AzureDeployment: "auto-gen", APIVersion: "2024-06-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "auto-gen", c.ModelName())

	_, err = c.Complete(context.Background(), "sys", "usr")
	require.NoError(t, err)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http status", http.StatusTooManyRequests, `{"error":"slow down"}`, "returned 429"},
		{"api error", http.StatusOK, `{"error":{"code":"content_filter","message":"blocked"}}`, "llm error [content_filter]: blocked"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices in response"},
		{"truncated", http.StatusOK, `{"choices":[{"message":{"content":"tri"},"finish_reason":"length"}]}`, "truncated"},
		{"bad json", http.StatusOK, `not json`, "unmarshal response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.body, nil)
			c, err := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
			require.NoError(t, err)

			_, err = c.Complete(context.Background(), "s", "u")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewOpenAIClient_RequiresFields(t *testing.T) {
	_, err := NewOpenAIClient(ClientConfig{APIKey: "k", Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAIClient(ClientConfig{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAIClient(ClientConfig{BaseURL: "http://x", APIKey: "k"})
	assert.Error(t, err)
}
