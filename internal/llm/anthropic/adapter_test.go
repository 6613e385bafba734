package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/pkg/api"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	provider, err := NewAdapter(config.ProviderConfig{
		ID:      "anthropic-test",
		Type:    "anthropic",
		APIKey:  "test-key",
		BaseURL: baseURL,
	})
	require.NoError(t, err)
	return provider.(*Adapter)
}

func TestAnthropicChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var wr wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wr))
		assert.Equal(t, "Be terse.", wr.System)
		assert.Equal(t, 4096, wr.MaxTokens)
		require.Len(t, wr.Messages, 1)
		assert.Equal(t, "user", wr.Messages[0].Role)

		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "Hello there!"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	resp, err := adapter.Chat(context.Background(), &api.ChatRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []api.ChatMessage{
			{Role: "system", Content: api.Content{Text: "Be terse."}},
			{Role: "user", Content: api.Content{Text: "Hi"}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", resp.FirstText())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestAnthropicChat_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wr wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wr))
		require.Len(t, wr.Tools, 1)
		assert.Equal(t, "get_weather", wr.Tools[0].Name)
		assert.Contains(t, wr.Tools[0].InputSchema, "properties")

		_, _ = w.Write([]byte(`{
			"id": "msg_02",
			"model": "claude-3-5-sonnet-20241022",
			"content": [
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "toolu_01", "name": "get_weather", "input": {"city": "Oslo"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 30, "output_tokens": 20}
		}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	resp, err := adapter.Chat(context.Background(), &api.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Weather in Oslo?"}}},
		Tools: []api.Tool{{
			Type: "function",
			Function: api.FunctionDescription{
				Name: "get_weather",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
				},
			},
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	call := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "toolu_01", call.ID)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.JSONEq(t, `{"city": "Oslo"}`, call.Function.Arguments)
}

func TestAnthropicChat_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "Rate limited"}}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	_, err := adapter.Chat(context.Background(), &api.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})

	require.Error(t, err)
	assert.Equal(t, api.KindCommunication, api.KindOf(err))
	assert.Contains(t, err.Error(), "Rate limited")
	assert.True(t, api.Retryable(err))
}

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"event: message_start\n" +
				`data: {"type":"message_start","message":{"id":"msg_01","usage":{"input_tokens":10}}}` + "\n\n" +
				"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}` + "\n\n" +
				"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}` + "\n\n" +
				"event: message_delta\n" +
				`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}` + "\n\n" +
				"event: message_stop\n" +
				`data: {"type":"message_stop"}` + "\n\n"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	ch, err := adapter.Stream(context.Background(), &api.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.NoError(t, err)

	var chunks []*api.ChatCompletionChunk
	for res := range ch {
		require.NoError(t, res.Err)
		chunks = append(chunks, res.Chunk)
	}
	require.Len(t, chunks, 3)

	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "Hel", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "lo", chunks[1].Choices[0].Delta.Content)

	terminal := chunks[2]
	assert.True(t, terminal.IsTerminal())
	assert.Equal(t, "stop", terminal.Choices[0].FinishReason)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 10, terminal.Usage.PromptTokens)
	assert.Equal(t, 2, terminal.Usage.CompletionTokens)
	assert.Equal(t, 12, terminal.Usage.TotalTokens)
}

func TestAnthropicStream_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			`data: {"type":"message_start","message":{"id":"msg_01","usage":{"input_tokens":8}}}` + "\n\n" +
				`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather"}}` + "\n\n" +
				`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}` + "\n\n" +
				`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Oslo\"}"}}` + "\n\n" +
				`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":15}}` + "\n\n" +
				`data: {"type":"message_stop"}` + "\n\n"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	ch, err := adapter.Stream(context.Background(), &api.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Weather?"}}},
	})
	require.NoError(t, err)

	var deltas []api.ToolCallDelta
	var finish string
	for res := range ch {
		require.NoError(t, res.Err)
		choice := res.Chunk.Choices[0]
		deltas = append(deltas, choice.Delta.ToolCalls...)
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
	}

	require.NotEmpty(t, deltas)
	assert.Equal(t, 0, deltas[0].Index)
	assert.Equal(t, "toolu_01", deltas[0].ID)
	assert.Equal(t, "get_weather", deltas[0].Function.Name)

	var args string
	for _, d := range deltas {
		if d.Function != nil {
			args += d.Function.Arguments
		}
	}
	assert.JSONEq(t, `{"city": "Oslo"}`, args)
	assert.Equal(t, "tool_calls", finish)
}

func TestAnthropicStream_UpstreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"par"}}` + "\n\n" +
				`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n\n"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	ch, err := adapter.Stream(context.Background(), &api.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.NoError(t, err)

	var streamErr error
	for res := range ch {
		if res.Err != nil {
			streamErr = res.Err
		}
	}
	require.Error(t, streamErr)
	assert.Equal(t, api.KindCommunication, api.KindOf(streamErr))
	assert.Contains(t, streamErr.Error(), "Overloaded")
}

func TestToWireRequest_Translation(t *testing.T) {
	req := &api.ChatRequest{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 256,
		Stop:      &api.Stop{Val: []string{"END"}},
		Messages: []api.ChatMessage{
			{Role: "system", Content: api.Content{Text: "First."}},
			{Role: "system", Content: api.Content{Text: "Second."}},
			{Role: "user", Content: api.Content{Text: "Hi"}},
			{Role: "assistant", ToolCalls: []api.ToolCall{{
				ID:       "toolu_01",
				Type:     "function",
				Function: api.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
			}}},
			{Role: "tool", ToolCallID: "toolu_01", Content: api.Content{Text: "result"}},
		},
	}

	wr := toWireRequest(req)

	assert.Equal(t, "First.\nSecond.", wr.System)
	assert.Equal(t, 256, wr.MaxTokens)
	assert.Equal(t, []string{"END"}, wr.StopSequences)
	require.Len(t, wr.Messages, 3)

	assistant := wr.Messages[1]
	blocks := assistant.Content.([]wireContent)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_use", blocks[0].Type)
	assert.Equal(t, "lookup", blocks[0].Name)

	result := wr.Messages[2]
	assert.Equal(t, "user", result.Role)
	resultBlocks := result.Content.([]wireContent)
	require.Len(t, resultBlocks, 1)
	assert.Equal(t, "tool_result", resultBlocks[0].Type)
	assert.Equal(t, "toolu_01", resultBlocks[0].ToolUseID)
	assert.Equal(t, "result", resultBlocks[0].Content)
}

func TestToImageSource(t *testing.T) {
	inline := toImageSource("data:image/png;base64,iVBORw0KGgo=")
	assert.Equal(t, "base64", inline.Type)
	assert.Equal(t, "image/png", inline.MediaType)
	assert.Equal(t, "iVBORw0KGgo=", inline.Data)

	remote := toImageSource("https://example.com/cat.jpg")
	assert.Equal(t, "url", remote.Type)
	assert.Equal(t, "https://example.com/cat.jpg", remote.URL)
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapStopReason("end_turn"))
	assert.Equal(t, "stop", mapStopReason("stop_sequence"))
	assert.Equal(t, "length", mapStopReason("max_tokens"))
	assert.Equal(t, "tool_calls", mapStopReason("tool_use"))
}
