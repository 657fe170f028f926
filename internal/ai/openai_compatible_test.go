package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/ai"
)

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "answer", ai.StripThinking("<think>hmm\nmaybe</think>\nanswer"))
	assert.Equal(t, "answer", ai.StripThinking("dangling</think> answer"))
	assert.Equal(t, "plain", ai.StripThinking("  plain "))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ai.StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ai.StripFences(`{"a":1}`))
}

func TestCompleteSendsModelAndTemperature(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	client := ai.NewClient(srv.URL+"/v1", "key", 5*time.Second)
	out, err := client.Complete(context.Background(), ai.ChatConfig{Model: "qwen3:8b", Temperature: 0.4}, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: "sys"},
		{Role: ai.RoleUser, Content: "question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "qwen3:8b", got.Model)
	assert.InDelta(t, 0.4, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "question", got.Messages[1].Content)
}

func TestCompleteReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"model loading"}}`))
	}))
	defer srv.Close()

	client := ai.NewClient(srv.URL, "key", time.Second)
	_, err := client.Complete(context.Background(), ai.ChatConfig{Model: "m"}, []ai.ChatMessage{{Role: ai.RoleUser, Content: "q"}})
	assert.Error(t, err)
}
