package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeChatServer 返回固定回答的OpenAI兼容服务
func newFakeChatServer(t *testing.T, status int, reply string, captured *[]map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if captured != nil {
			*captured = append(*captured, body)
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body["model"],
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestOpenAIClientChat(t *testing.T) {
	var captured []map[string]interface{}
	server := newFakeChatServer(t, http.StatusOK, "Paris.", &captured)
	defer server.Close()

	client, err := NewClient("openai", WithAPIKey("key"), WithBaseURL(server.URL+"/v1/"), WithMaxTokens(64))
	require.NoError(t, err)
	assert.Equal(t, ModelGeminiFlash, client.Name())

	resp, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "capital of France?"},
	}, WithGenerateTemperature(0.5))
	require.NoError(t, err)
	assert.Equal(t, "Paris.", resp.Text)
	assert.Equal(t, 15, resp.TokenCount)
	assert.Equal(t, "stop", resp.FinishReason)

	require.Len(t, captured, 1)
	assert.Equal(t, ModelGeminiFlash, captured[0]["model"])
	assert.EqualValues(t, 64, captured[0]["max_tokens"])
	assert.InDelta(t, 0.5, captured[0]["temperature"], 1e-6)
	assert.Len(t, captured[0]["messages"], 2)

	resp, err = client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", resp.Text)

	_, err = client.Generate(context.Background(), "   ")
	var llmErr LLMError
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrCodeEmptyPrompt, llmErr.Code)
}

func TestOpenAIClientErrors(t *testing.T) {
	_, err := NewOpenAIClient()
	assert.Error(t, err)

	_, err = NewClient("unknown")
	assert.Error(t, err)

	server := newFakeChatServer(t, http.StatusTooManyRequests, "", nil)
	defer server.Close()

	client, err := NewOpenAIClient(WithAPIKey("key"), WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hello")
	var llmErr LLMError
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrCodeRateLimited, llmErr.Code)
}
