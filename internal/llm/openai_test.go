package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openAIServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openAIConfig(url string) config.AIConfig {
	return config.AIConfig{
		Provider:   "openai",
		APIKey:     "test-key",
		BaseURL:    url + "/v1",
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

const textCompletion = `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  The gate opens.  "}}]}`

func TestOpenAI_Text(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := openAIServer(t, func(w http.ResponseWriter, body map[string]any) {
		captured = body
		_, _ = io.WriteString(w, textCompletion)
	})

	gw, err := llm.NewOpenAI(openAIConfig(srv.URL), discardLogger())
	require.NoError(t, err)

	res, err := gw.Generate(context.Background(), llm.Request{Messages: []llm.Message{
		llm.System("Be a game master."),
		llm.User("Alice", "I open the gate"),
		llm.Assistant("It is locked."),
	}})
	require.NoError(t, err)
	assert.False(t, res.IsStructured())
	assert.Equal(t, "The gate opens.", res.Text)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Alice : I open the gate", msgs[1].(map[string]any)["content"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	assert.NotContains(t, captured, "tools")
}

func TestOpenAI_ToolCall(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := openAIServer(t, func(w http.ResponseWriter, body map[string]any) {
		captured = body
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"create_character","arguments":"{\"character_description\":\"A tall elf\"}"}}]}}]}`)
	})

	gw, err := llm.NewOpenAI(openAIConfig(srv.URL), discardLogger())
	require.NoError(t, err)

	tool := &llm.Tool{
		Name:        "create_character",
		Description: "Create the character",
		Fields:      []llm.Field{{Name: "character_description", Description: "Full description"}},
	}
	res, err := gw.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{llm.User("Bob", "I am a tall elf")},
		Tool:     tool,
	})
	require.NoError(t, err)
	require.True(t, res.IsStructured())
	assert.Equal(t, "A tall elf", res.Structured["character_description"])

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "create_character", fn["name"])
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, textCompletion)
	})

	gw, err := llm.NewOpenAI(openAIConfig(srv.URL), discardLogger())
	require.NoError(t, err)

	res, err := gw.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.User("A", "hi")}})
	require.NoError(t, err)
	assert.Equal(t, "The gate opens.", res.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAI_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	})

	gw, err := llm.NewOpenAI(openAIConfig(srv.URL), discardLogger())
	require.NoError(t, err)

	_, err = gw.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.User("A", "hi")}})
	require.ErrorIs(t, err, llm.ErrGateway)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAI_EmptyResponse(t *testing.T) {
	t.Parallel()

	srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]any) {
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"   "}}]}`)
	})

	gw, err := llm.NewOpenAI(openAIConfig(srv.URL), discardLogger())
	require.NoError(t, err)

	_, err = gw.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.User("A", "hi")}})
	require.ErrorIs(t, err, llm.ErrGateway)
	require.ErrorIs(t, err, llm.ErrEmptyResponse)
}
