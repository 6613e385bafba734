package server

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/llm"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/internal/realtime"
	"github.com/nulzo/refract/internal/store"
	"github.com/nulzo/refract/internal/store/model"
	"github.com/nulzo/refract/pkg/api"
)

const testKey = "sk-refract-test"

// stubService answers gateway calls with canned data; individual tests
// override the funcs they exercise.
type stubService struct {
	chatFn     func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
	streamFn   func(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error)
	speechFn   func(ctx context.Context, req *api.SpeechRequest) (*api.SpeechResponse, error)
	realtimeFn func(ctx context.Context, modelID string, cfg api.SessionConfig) (*realtime.Session, error)
}

func (s *stubService) RegisterProvider(context.Context, llm.Provider) error { return nil }
func (s *stubService) RefreshCatalog(context.Context) error                 { return nil }

func (s *stubService) GetProviderForModel(context.Context, string) (llm.Provider, string, error) {
	return nil, "", api.ValidationError("not wired in stub")
}

func (s *stubService) ListAllModels(context.Context) ([]api.ModelDefinition, error) {
	return []api.ModelDefinition{
		{ID: "gpt-4o", ProviderID: "openai-main", UpstreamID: "gpt-4o", Capabilities: api.ModelCapabilities{Chat: true, Streaming: true}},
		{ID: "claude-3-5-sonnet", ProviderID: "anthropic-main", UpstreamID: "claude-3-5-sonnet-20241022", Capabilities: api.ModelCapabilities{Chat: true, Streaming: true}},
	}, nil
}

func (s *stubService) Health(context.Context) map[string]string {
	return map[string]string{"openai-main": "ok"}
}

func (s *stubService) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if s.chatFn != nil {
		return s.chatFn(ctx, req)
	}
	return &api.ChatResponse{
		ID:         "chatcmpl-test",
		Object:     "chat.completion",
		Model:      req.Model,
		ModelAlias: req.Model,
		Choices: []api.Choice{{
			Message:      &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "Hello there."}},
			FinishReason: "stop",
		}},
		Usage: &api.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	}, nil
}

func (s *stubService) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	if s.streamFn != nil {
		return s.streamFn(ctx, req)
	}
	ch := make(chan api.StreamResult, 2)
	ch <- api.StreamResult{Chunk: &api.ChatCompletionChunk{
		ID:      "chatcmpl-test",
		Object:  "chat.completion.chunk",
		Choices: []api.StreamingChoice{{Delta: api.Delta{Role: "assistant", Content: "Hi"}}},
	}}
	ch <- api.StreamResult{Chunk: &api.ChatCompletionChunk{
		ID:      "chatcmpl-test",
		Object:  "chat.completion.chunk",
		Choices: []api.StreamingChoice{{FinishReason: "stop"}},
	}}
	close(ch)
	return ch, nil
}

func (s *stubService) Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error) {
	return &api.EmbeddingResponse{
		Object:     "list",
		Model:      req.Model,
		ModelAlias: req.Model,
		Data:       []api.Embedding{{Object: "embedding", Index: 0, Embedding: []float64{0.1, 0.2}}},
	}, nil
}

func (s *stubService) GenerateImage(ctx context.Context, req *api.ImageRequest) (*api.ImageResponse, error) {
	return &api.ImageResponse{
		Created:    time.Now().Unix(),
		ModelAlias: req.Model,
		Data:       []api.ImageData{{URL: "https://img.example/out.png"}},
	}, nil
}

func (s *stubService) Speech(ctx context.Context, req *api.SpeechRequest) (*api.SpeechResponse, error) {
	if s.speechFn != nil {
		return s.speechFn(ctx, req)
	}
	return &api.SpeechResponse{Audio: []byte("ID3fake-mp3"), Format: "mp3", ModelAlias: req.Model}, nil
}

func (s *stubService) Realtime(ctx context.Context, modelID string, cfg api.SessionConfig) (*realtime.Session, error) {
	if s.realtimeFn != nil {
		return s.realtimeFn(ctx, modelID, cfg)
	}
	return nil, api.UnsupportedError("stub", "realtime", "not wired in stub")
}

type stubAnalytics struct{}

func (stubAnalytics) GetUsageOverview(context.Context, int) ([]model.DailyStats, error) {
	return []model.DailyStats{{Date: "2026-08-20", TotalRequests: 42, TotalTokens: 1200}}, nil
}

func (stubAnalytics) GetRecentRequests(context.Context, int) ([]model.RequestLog, error) {
	return []model.RequestLog{{ID: "req-1", Operation: "chat"}}, nil
}

type stubRepo struct {
	rows map[string]*model.RequestLog
}

func (r *stubRepo) Requests() store.RequestRepository { return stubRequests{rows: r.rows} }
func (r *stubRepo) Models() store.ModelRepository     { return stubModels{} }
func (r *stubRepo) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	return fn(r)
}
func (r *stubRepo) Close() error { return nil }

type stubRequests struct {
	rows map[string]*model.RequestLog
}

func (s stubRequests) Log(context.Context, *model.RequestLog) error { return nil }

func (s stubRequests) GetByID(_ context.Context, id string) (*model.RequestLog, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func (s stubRequests) GetRecent(context.Context, int) ([]model.RequestLog, error) {
	return nil, nil
}

func (s stubRequests) GetDailyStats(context.Context, int) ([]model.DailyStats, error) {
	return nil, nil
}

type stubModels struct{}

func (stubModels) Sync(context.Context, []model.Model) error   { return nil }
func (stubModels) List(context.Context) ([]model.Model, error) { return nil, nil }

func newTestServer(t *testing.T, svc *stubService) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:    config.ServerConfig{Port: "0", Env: "test", Key: testKey},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}

	repo := &stubRepo{rows: map[string]*model.RequestLog{
		"req-known": {
			ID:           "req-known",
			ProviderID:   "openai-main",
			Operation:    "stream",
			ModelAlias:   "fast-chat",
			ModelID:      "openai-main/gpt-4o",
			FinishReason: "stop",
			InputTokens:  10,
			OutputTokens: 20,
			LatencyMS:    340,
			TTFTMS:       sql.NullInt64{Int64: 45, Valid: true},
			StatusCode:   200,
			IsStreamed:   true,
			ChunkCount:   9,
			CreatedAt:    time.Now(),
		},
	}}

	s := New(cfg, zap.NewNop(), svc, stubAnalytics{}, repo, metrics.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string, authed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChatCompletion(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "POST", ts.URL+"/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "Hi"}]}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "chatcmpl-test", body["id"])
	choices := body["choices"].([]interface{})
	require.Len(t, choices, 1)
}

func TestChatCompletionValidation(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	// No messages.
	resp := doJSON(t, "POST", ts.URL+"/v1/chat/completions", `{"model": "gpt-4o"}`, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")

	body := decodeBody(t, resp)
	assert.Equal(t, "validation_error", body["kind"])
	assert.Contains(t, body["detail"], "messages")
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	// Missing key.
	resp := doJSON(t, "GET", ts.URL+"/v1/models", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Wrong key.
	req, _ := http.NewRequest("GET", ts.URL+"/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Right key.
	resp = doJSON(t, "GET", ts.URL+"/v1/models", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Health needs no key.
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestChatCompletionStreaming(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "POST", ts.URL+"/v1/chat/completions",
		`{"model": "gpt-4o", "stream": true, "messages": [{"role": "user", "content": "Hi"}]}`, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}

	require.Len(t, events, 3)
	assert.Equal(t, "[DONE]", events[2])

	var first api.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[0]), &first))
	assert.Equal(t, "Hi", first.Choices[0].Delta.Content)

	var last api.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[1]), &last))
	assert.Equal(t, "stop", last.Choices[0].FinishReason)
}

func TestUpstreamErrorRendersProblem(t *testing.T) {
	svc := &stubService{
		chatFn: func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
			return nil, api.CommunicationError("openai-main", "chat", 503, nil)
		},
	}
	ts := newTestServer(t, svc)

	resp := doJSON(t, "POST", ts.URL+"/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "Hi"}]}`, true)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "communication_error", body["kind"])
	assert.Equal(t, "openai-main", body["provider"])
}

func TestListModels(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "GET", ts.URL+"/v1/models", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "list", body["object"])
	assert.Len(t, body["data"], 2)

	// Provider filter.
	resp = doJSON(t, "GET", ts.URL+"/v1/models?provider=openai-main", "", true)
	body = decodeBody(t, resp)
	assert.Len(t, body["data"], 1)
}

func TestSpeechReturnsAudioBytes(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "POST", ts.URL+"/v1/audio/speech",
		`{"model": "tts-1", "input": "Hello world", "voice": "alloy"}`, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "tts-1", resp.Header.Get("X-Model"))

	buf := make([]byte, 32)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "ID3fake-mp3", string(buf[:n]))
}

func TestEmbeddings(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "POST", ts.URL+"/v1/embeddings",
		`{"model": "text-embedding-3-small", "input": "one string"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "list", body["object"])
	assert.Len(t, body["data"], 1)
}

func TestUsageEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "GET", ts.URL+"/v1/usage?days=3", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	day := data[0].(map[string]interface{})
	assert.Equal(t, float64(42), day["total_requests"])

	resp = doJSON(t, "GET", ts.URL+"/v1/usage?days=x", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGenerationLookup(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp := doJSON(t, "GET", ts.URL+"/v1/generation?id=req-known", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "req-known", data["id"])
	assert.Equal(t, "fast-chat", data["model"])
	assert.Equal(t, float64(45), data["ttft_ms"])
	assert.Equal(t, true, data["streamed"])

	resp = doJSON(t, "GET", ts.URL+"/v1/generation?id=req-unknown", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server:    config.ServerConfig{Port: "0", Env: "test", Key: testKey},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	}
	s := New(cfg, zap.NewNop(), &stubService{}, stubAnalytics{}, &stubRepo{}, metrics.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := doJSON(t, "GET", ts.URL+"/v1/models", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, "GET", ts.URL+"/v1/models", "", true)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}
