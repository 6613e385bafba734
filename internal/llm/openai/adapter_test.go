package openai_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/llm/openai"
	"github.com/nulzo/refract/pkg/api"
)

func TestOpenAIChat(t *testing.T) {
	// Mock Server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1677652288,
			"model": "gpt-3.5-turbo-0613",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Hello there!"
				},
				"finish_reason": "stop"
			}],
			"usage": {
				"prompt_tokens": 9,
				"completion_tokens": 12,
				"total_tokens": 21
			}
		}`))

		if err != nil {
			return
		}
	}))
	defer server.Close()

	// Init Adapter
	adapter, err := openai.NewAdapter(config.ProviderConfig{
		ID:      "openai-test",
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	assert.NoError(t, err)

	// Execute
	resp, err := adapter.Chat(context.Background(), &api.ChatRequest{
		Model: "gpt-3.5-turbo",
		Messages: []api.ChatMessage{
			{Role: "user", Content: api.Content{Text: "Hi"}},
		},
	})

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, "Hello there!", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, "openai-test", adapter.Name())
}

func TestOpenAIChat_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	adapter, _ := openai.NewAdapter(config.ProviderConfig{
		ID: "openai-test", Type: "openai", APIKey: "bad-key", BaseURL: server.URL,
	})

	_, err := adapter.Chat(context.Background(), &api.ChatRequest{
		Model:    "gpt-4o",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})

	require.Error(t, err)
	assert.Equal(t, api.KindCommunication, api.KindOf(err))
	assert.Contains(t, err.Error(), "Incorrect API key provided")
	assert.False(t, api.Retryable(err))
}

func TestOpenAIChat_ValidationBeforeNetwork(t *testing.T) {
	adapter, _ := openai.NewAdapter(config.ProviderConfig{
		ID: "openai-test", Type: "openai", APIKey: "k", BaseURL: "http://127.0.0.1:1",
	})

	_, err := adapter.Chat(context.Background(), &api.ChatRequest{Model: "gpt-4o"})
	assert.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}` + "\n\n" +
				`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}` + "\n\n" +
				`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
				`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}` + "\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	adapter, _ := openai.NewAdapter(config.ProviderConfig{
		ID: "openai-test", Type: "openai", APIKey: "k", BaseURL: server.URL,
	})

	ch, err := adapter.Stream(context.Background(), &api.ChatRequest{
		Model:    "gpt-4o",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.NoError(t, err)

	var chunks []*api.ChatCompletionChunk
	for res := range ch {
		require.NoError(t, res.Err)
		chunks = append(chunks, res.Chunk)
	}
	require.Len(t, chunks, 3)

	// Normalized contract: stable id, role first, one terminal chunk last.
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "Hel", chunks[0].Choices[0].Delta.Content)
	assert.Empty(t, chunks[1].Choices[0].Delta.Role)
	assert.Equal(t, "lo", chunks[1].Choices[0].Delta.Content)
	assert.True(t, chunks[2].IsTerminal())
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 4, chunks[2].Usage.TotalTokens)
	assert.Equal(t, chunks[0].ID, chunks[1].ID)
	assert.Equal(t, chunks[0].ID, chunks[2].ID)
}

func TestOpenAIEmbeddings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, -0.2, 0.3]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	adapter, _ := openai.NewAdapter(config.ProviderConfig{
		ID: "openai-test", Type: "openai", APIKey: "k", BaseURL: server.URL,
	})

	resp, err := adapter.(interface {
		Embeddings(context.Context, *api.EmbeddingRequest) (*api.EmbeddingResponse, error)
	}).Embeddings(context.Background(), &api.EmbeddingRequest{
		Model: "text-embedding-3-small",
		Input: api.EmbeddingInput{Texts: []string{"hello"}},
	})

	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, []float64{0.1, -0.2, 0.3}, resp.Data[0].Embedding)
}

func TestOpenAISpeech(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04, 0x00}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	adapter, _ := openai.NewAdapter(config.ProviderConfig{
		ID: "openai-test", Type: "openai", APIKey: "k", BaseURL: server.URL,
	})

	resp, err := adapter.(interface {
		Speech(context.Context, *api.SpeechRequest) (*api.SpeechResponse, error)
	}).Speech(context.Background(), &api.SpeechRequest{Model: "tts-1", Input: "Hello world"})

	require.NoError(t, err)
	assert.Equal(t, audio, resp.Audio)
	assert.Equal(t, "mp3", resp.Format)
	assert.Equal(t, "audio/mpeg", resp.ContentType())
}

func TestOpenAIModels_StaticFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter, _ := openai.NewAdapter(config.ProviderConfig{
		ID: "openai-test", Type: "openai", APIKey: "k", BaseURL: server.URL,
	})

	models, err := adapter.Models(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "openai", m.OwnedBy)
		assert.Equal(t, "openai-test", m.ProviderID)
	}
}
