package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/analytics"
	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/internal/resilience"
	"github.com/nulzo/refract/internal/store/cache"
	"github.com/nulzo/refract/internal/store/model"
	"github.com/nulzo/refract/pkg/api"
)

type stubProvider struct {
	name    string
	chatFn  func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
	models  []api.ModelDefinition
	healthy error
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Type() string { return "stub" }

func (p *stubProvider) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if p.chatFn != nil {
		return p.chatFn(ctx, req)
	}
	return &api.ChatResponse{
		ID:    "chatcmpl-stub",
		Model: req.Model,
		Choices: []api.Choice{{
			Message:      &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "echo:" + req.Model}},
			FinishReason: "stop",
		}},
		Usage: &api.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}, nil
}

func (p *stubProvider) Stream(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	ch := make(chan api.StreamResult, 3)
	ch <- api.StreamResult{Chunk: &api.ChatCompletionChunk{
		ID: "chatcmpl-s", Model: req.Model,
		Choices: []api.StreamingChoice{{Delta: api.Delta{Role: "assistant", Content: "hi"}}},
	}}
	ch <- api.StreamResult{Chunk: &api.ChatCompletionChunk{
		ID: "chatcmpl-s", Model: req.Model,
		Choices: []api.StreamingChoice{{FinishReason: "stop"}},
		Usage:   &api.Usage{TotalTokens: 4},
	}}
	close(ch)
	return ch, nil
}

func (p *stubProvider) Models(ctx context.Context) ([]api.ModelDefinition, error) {
	return p.models, nil
}

func (p *stubProvider) Health(ctx context.Context) error { return p.healthy }

// captureIngestor records log rows synchronously for assertions.
type captureIngestor struct {
	mu   sync.Mutex
	rows []*model.RequestLog
}

func (c *captureIngestor) Log(row *model.RequestLog) {
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
}
func (c *captureIngestor) Start(context.Context) {}
func (c *captureIngestor) Stop()                 {}

func (c *captureIngestor) last() *model.RequestLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rows) == 0 {
		return nil
	}
	return c.rows[len(c.rows)-1]
}

func newTestService(t *testing.T, ing analytics.Ingestor, routes []config.RouteConfig) Service {
	t.Helper()
	if ing == nil {
		ing = analytics.Nop()
	}
	policy := resilience.New(config.ResilienceConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, zap.NewNop(), metrics.Nop())

	return NewService(zap.NewNop(), ing, cache.NewMemoryCache(), policy, metrics.Nop(), routes)
}

func registerStub(t *testing.T, svc Service, p *stubProvider) {
	t.Helper()
	require.NoError(t, svc.RegisterProvider(context.Background(), p))
}

func TestResolveRoutes(t *testing.T) {
	svc := newTestService(t, nil, []config.RouteConfig{
		{Alias: "fast-chat", Target: "stub-main/gpt-4o-mini"},
	})
	registerStub(t, svc, &stubProvider{
		name: "stub-main",
		models: []api.ModelDefinition{{
			ID:         "gpt-4o",
			UpstreamID: "gpt-4o",
			Capabilities: api.ModelCapabilities{
				Chat: true, Streaming: true,
			},
		}},
	})

	// Catalog id.
	p, upstream, err := svc.GetProviderForModel(context.Background(), "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "stub-main", p.Name())
	assert.Equal(t, "gpt-4o", upstream)

	// Alias expands to provider/model.
	p, upstream, err = svc.GetProviderForModel(context.Background(), "fast-chat")
	require.NoError(t, err)
	assert.Equal(t, "stub-main", p.Name())
	assert.Equal(t, "gpt-4o-mini", upstream)

	// Explicit provider/model.
	p, upstream, err = svc.GetProviderForModel(context.Background(), "stub-main/claude-3-5-haiku")
	require.NoError(t, err)
	assert.Equal(t, "stub-main", p.Name())
	assert.Equal(t, "claude-3-5-haiku", upstream)

	// Unknown.
	_, _, err = svc.GetProviderForModel(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestChatEchoesModelAlias(t *testing.T) {
	ing := &captureIngestor{}
	svc := newTestService(t, ing, []config.RouteConfig{
		{Alias: "fast-chat", Target: "stub-main/gpt-4o-mini"},
	})
	registerStub(t, svc, &stubProvider{name: "stub-main"})

	resp, err := svc.Chat(context.Background(), &api.ChatRequest{
		Model:    "fast-chat",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.NoError(t, err)

	// The provider saw the upstream id, the caller gets the alias back.
	assert.Equal(t, "echo:gpt-4o-mini", resp.FirstText())
	assert.Equal(t, "fast-chat", resp.ModelAlias)

	row := ing.last()
	require.NotNil(t, row)
	assert.Equal(t, "chat", row.Operation)
	assert.Equal(t, "fast-chat", row.ModelAlias)
	assert.Equal(t, "gpt-4o-mini", row.UpstreamModelID)
	assert.Equal(t, 200, row.StatusCode)
	assert.Equal(t, 1, row.InputTokens)
	assert.Equal(t, 2, row.OutputTokens)
}

func TestChatRetriesTransientFailure(t *testing.T) {
	attempts := 0
	svc := newTestService(t, nil, nil)
	registerStub(t, svc, &stubProvider{
		name: "stub-main",
		chatFn: func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
			attempts++
			if attempts < 2 {
				return nil, api.CommunicationError("stub-main", "chat", 503, nil)
			}
			return &api.ChatResponse{
				ID:      "chatcmpl-r",
				Choices: []api.Choice{{Message: &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "ok"}}, FinishReason: "stop"}},
			}, nil
		},
	})

	resp, err := svc.Chat(context.Background(), &api.ChatRequest{
		Model:    "stub-main/gpt-4o",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.FirstText())
	assert.Equal(t, 2, attempts)
}

func TestChatFailureLogged(t *testing.T) {
	ing := &captureIngestor{}
	svc := newTestService(t, ing, nil)
	registerStub(t, svc, &stubProvider{
		name: "stub-main",
		chatFn: func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
			return nil, api.CommunicationError("stub-main", "chat", 401, nil)
		},
	})

	_, err := svc.Chat(context.Background(), &api.ChatRequest{
		Model:    "stub-main/gpt-4o",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.Error(t, err)

	row := ing.last()
	require.NotNil(t, row)
	assert.Equal(t, string(api.KindCommunication), row.ErrorKind)
	assert.NotEqual(t, 200, row.StatusCode)
	assert.NotEmpty(t, row.ID)
}

func TestCapabilityGate(t *testing.T) {
	svc := newTestService(t, nil, nil)
	registerStub(t, svc, &stubProvider{name: "stub-main"})

	// A chat model cannot serve embeddings.
	_, err := svc.Embeddings(context.Background(), &api.EmbeddingRequest{
		Model: "stub-main/gpt-4o",
		Input: api.EmbeddingInput{Texts: []string{"x"}},
	})
	require.Error(t, err)
	assert.Equal(t, api.KindUnsupported, api.KindOf(err))
}

func TestOptionalInterfaceGate(t *testing.T) {
	svc := newTestService(t, nil, nil)
	registerStub(t, svc, &stubProvider{name: "stub-main"})

	// Capability says yes (embedding model id) but the provider type does
	// not implement Embedder.
	_, err := svc.Embeddings(context.Background(), &api.EmbeddingRequest{
		Model: "stub-main/text-embedding-3-small",
		Input: api.EmbeddingInput{Texts: []string{"x"}},
	})
	require.Error(t, err)
	assert.Equal(t, api.KindUnsupported, api.KindOf(err))
	assert.Contains(t, err.Error(), "does not serve embeddings")
}

func TestStreamChatForwardsAndLogs(t *testing.T) {
	ing := &captureIngestor{}
	svc := newTestService(t, ing, nil)
	registerStub(t, svc, &stubProvider{name: "stub-main"})

	ch, err := svc.StreamChat(context.Background(), &api.ChatRequest{
		Model:    "stub-main/gpt-4o",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	})
	require.NoError(t, err)

	var chunks []*api.ChatCompletionChunk
	for res := range ch {
		require.NoError(t, res.Err)
		chunks = append(chunks, res.Chunk)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "stub-main/gpt-4o", chunks[0].ModelAlias)

	// The accounting row lands after the channel closes.
	require.Eventually(t, func() bool { return ing.last() != nil }, time.Second, 5*time.Millisecond)
	row := ing.last()
	assert.Equal(t, "stream", row.Operation)
	assert.True(t, row.IsStreamed)
	assert.Equal(t, 2, row.ChunkCount)
	assert.Equal(t, "stop", row.FinishReason)
	assert.True(t, row.TTFTMS.Valid)
}

func TestListAllModelsCached(t *testing.T) {
	svc := newTestService(t, nil, nil)
	registerStub(t, svc, &stubProvider{
		name: "stub-main",
		models: []api.ModelDefinition{
			{ID: "b-model", Capabilities: api.ModelCapabilities{Chat: true}},
			{ID: "a-model", Capabilities: api.ModelCapabilities{Chat: true}},
		},
	})

	models, err := svc.ListAllModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "a-model", models[0].ID)
	assert.Equal(t, "b-model", models[1].ID)

	// Second read comes from cache and stays stable.
	again, err := svc.ListAllModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models, again)
}

func TestHealthReportsPerProvider(t *testing.T) {
	svc := newTestService(t, nil, nil)
	registerStub(t, svc, &stubProvider{name: "up"})
	registerStub(t, svc, &stubProvider{name: "down", healthy: assert.AnError})

	health := svc.Health(context.Background())
	assert.Equal(t, "ok", health["up"])
	assert.NotEqual(t, "ok", health["down"])
}
