package gateway

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/analytics"
	"github.com/nulzo/refract/internal/capability"
	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/llm"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/internal/realtime"
	"github.com/nulzo/refract/internal/resilience"
	"github.com/nulzo/refract/internal/store/cache"
	"github.com/nulzo/refract/internal/store/model"
	"github.com/nulzo/refract/pkg/api"
)

const modelListCacheKey = "gateway:models"

// Service is the protocol-normalization core: it routes a unified request
// to a provider, gates it on the capability model, executes it under the
// resilience policy and reports the outcome.
type Service interface {
	// RegisterProvider registers a provider and merges its models into the
	// catalog.
	RegisterProvider(ctx context.Context, p llm.Provider) error

	GetProviderForModel(ctx context.Context, modelID string) (llm.Provider, string, error)
	ListAllModels(ctx context.Context) ([]api.ModelDefinition, error)

	// RefreshCatalog re-harvests every provider's live model listing,
	// replacing that provider's registry entries wholesale.
	RefreshCatalog(ctx context.Context) error

	Health(ctx context.Context) map[string]string

	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
	StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error)
	Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error)
	GenerateImage(ctx context.Context, req *api.ImageRequest) (*api.ImageResponse, error)
	Speech(ctx context.Context, req *api.SpeechRequest) (*api.SpeechResponse, error)
	Realtime(ctx context.Context, modelID string, cfg api.SessionConfig) (*realtime.Session, error)
}

type service struct {
	logger   *zap.Logger
	ingestor analytics.Ingestor
	cache    cache.CacheService
	policy   *resilience.Policy
	metrics  *metrics.Metrics

	routes map[string]string // alias -> "provider/model" or catalog id

	mu        sync.RWMutex
	providers map[string]llm.Provider
	registry  *registry
}

func NewService(
	logger *zap.Logger,
	ingestor analytics.Ingestor,
	cacheSvc cache.CacheService,
	policy *resilience.Policy,
	m *metrics.Metrics,
	routeCfg []config.RouteConfig,
) Service {
	routes := make(map[string]string, len(routeCfg))
	for _, r := range routeCfg {
		if r.Alias != "" && r.Target != "" {
			routes[r.Alias] = r.Target
		}
	}

	return &service{
		logger:    logger,
		ingestor:  ingestor,
		cache:     cacheSvc,
		policy:    policy,
		metrics:   m,
		routes:    routes,
		providers: make(map[string]llm.Provider),
		registry:  newRegistry(),
	}
}

func (s *service) RegisterProvider(ctx context.Context, p llm.Provider) error {
	models, err := p.Models(ctx)
	if err != nil {
		s.logger.Warn("provider model listing failed, registering without catalog entries",
			zap.String("provider", p.Name()), zap.Error(err))
	}

	s.mu.Lock()
	s.providers[p.Name()] = p
	for _, m := range models {
		if m.ProviderID == "" {
			m.ProviderID = p.Name()
		}
		s.registry.addModel(m)
	}
	s.mu.Unlock()

	_ = s.cache.Delete(ctx, modelListCacheKey)
	return nil
}

// RefreshCatalog re-fetches every provider's model listing and swaps the
// fresh entries into the registry. A provider whose listing fails keeps its
// stale entries; routing through a known-good catalog beats dropping it.
func (s *service) RefreshCatalog(ctx context.Context) error {
	s.mu.RLock()
	providers := make([]llm.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		providers = append(providers, p)
	}
	s.mu.RUnlock()

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return api.FromContext(ctx, p.Name(), "refresh")
		}

		models, err := p.Models(ctx)
		if err != nil {
			s.logger.Warn("catalog refresh failed, keeping stale entries",
				zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		for i := range models {
			if models[i].ProviderID == "" {
				models[i].ProviderID = p.Name()
			}
		}
		s.registry.replaceProvider(p.Name(), models)
	}

	_ = s.cache.Delete(ctx, modelListCacheKey)
	return nil
}

// route is one resolved dispatch target.
type route struct {
	provider llm.Provider
	modelID  string // post-alias model id
	upstream string // id sent to the provider
}

// resolve turns a requested model id into a dispatch target. Aliases from
// the route table resolve first, then catalog ids, then explicit
// "provider/model" references.
func (s *service) resolve(modelID string) (route, error) {
	if target, ok := s.routes[modelID]; ok {
		modelID = target
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if providerID, upstreamID, err := s.registry.ResolveRoute(modelID); err == nil {
		if p, exists := s.providers[providerID]; exists {
			return route{provider: p, modelID: modelID, upstream: upstreamID}, nil
		}
		return route{}, api.ConfigurationError(providerID, "provider configured but not active")
	}

	if providerID, rest, found := strings.Cut(modelID, "/"); found {
		if p, exists := s.providers[providerID]; exists {
			return route{provider: p, modelID: modelID, upstream: rest}, nil
		}
	}

	return route{}, api.ValidationError("no route for model '" + modelID + "'")
}

func (s *service) GetProviderForModel(ctx context.Context, modelID string) (llm.Provider, string, error) {
	rt, err := s.resolve(modelID)
	if err != nil {
		return nil, "", err
	}
	return rt.provider, rt.upstream, nil
}

func (s *service) ListAllModels(ctx context.Context) ([]api.ModelDefinition, error) {
	var cached []api.ModelDefinition
	if err := s.cache.Get(ctx, modelListCacheKey, &cached); err == nil {
		return cached, nil
	}

	models := s.registry.listModels()
	_ = s.cache.Set(ctx, modelListCacheKey, models, time.Minute)
	return models, nil
}

// Health pings every registered provider with a short timeout.
func (s *service) Health(ctx context.Context) map[string]string {
	s.mu.RLock()
	providers := make(map[string]llm.Provider, len(s.providers))
	for name, p := range s.providers {
		providers[name] = p
	}
	s.mu.RUnlock()

	out := make(map[string]string, len(providers))
	for name, p := range providers {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.Health(checkCtx); err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
		cancel()
	}
	return out
}

// opRecord is everything the outcome report needs once an operation ends.
type opRecord struct {
	id         string
	operation  string
	rt         route
	modelAlias string
	finish     string
	usage      *api.Usage
	err        error
	streamed   bool
	chunks     int
	ttft       *time.Duration
	elapsed    time.Duration
}

// report records metrics and enqueues the request log.
func (s *service) report(rec opRecord) {
	outcome := "success"
	statusCode := 200
	errorKind := ""
	if rec.err != nil {
		outcome = "error"
		statusCode = api.StatusOf(rec.err)
		errorKind = string(api.KindOf(rec.err))
	}
	s.metrics.ObserveRequest(rec.rt.provider.Name(), rec.operation, outcome, rec.elapsed)

	logRow := &model.RequestLog{
		ID:              rec.id,
		ProviderID:      rec.rt.provider.Name(),
		Operation:       rec.operation,
		ModelAlias:      rec.modelAlias,
		ModelID:         rec.rt.modelID,
		UpstreamModelID: rec.rt.upstream,
		FinishReason:    rec.finish,
		ErrorKind:       errorKind,
		LatencyMS:       rec.elapsed.Milliseconds(),
		StatusCode:      statusCode,
		IsStreamed:      rec.streamed,
		ChunkCount:      rec.chunks,
		CreatedAt:       time.Now(),
	}
	if rec.id == "" {
		logRow.ID = "req-" + time.Now().Format("20060102150405.000000000")
	}
	if rec.usage != nil {
		logRow.InputTokens = rec.usage.PromptTokens
		logRow.OutputTokens = rec.usage.CompletionTokens
	}
	if rec.ttft != nil {
		logRow.TTFTMS = sql.NullInt64{Int64: rec.ttft.Milliseconds(), Valid: true}
	}
	s.ingestor.Log(logRow)
}

func (s *service) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	rt, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if err := capability.Check(rt.provider.Name(), rt.upstream, capability.OpChat); err != nil {
		return nil, err
	}

	reqClone := *req
	reqClone.Model = rt.upstream

	start := time.Now()
	var resp *api.ChatResponse
	err = s.policy.Execute(ctx, rt.provider.Name(), "chat", func(ctx context.Context) error {
		var callErr error
		resp, callErr = rt.provider.Chat(ctx, &reqClone)
		return callErr
	})
	elapsed := time.Since(start)

	rec := opRecord{
		operation:  "chat",
		rt:         rt,
		modelAlias: req.Model,
		err:        err,
		elapsed:    elapsed,
	}
	if resp != nil {
		rec.id = resp.ID
		rec.usage = resp.Usage
		if len(resp.Choices) > 0 {
			rec.finish = resp.Choices[0].FinishReason
		}
	}
	s.report(rec)

	if err != nil {
		return nil, err
	}
	resp.ModelAlias = req.Model
	return resp, nil
}

// StreamChat dispatches a streaming chat and intercepts the chunk flow for
// accounting. Streams run a single attempt: once chunks have gone out there
// is no safe way to retry.
func (s *service) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	rt, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if err := capability.Check(rt.provider.Name(), rt.upstream, capability.OpStream); err != nil {
		return nil, err
	}

	reqClone := *req
	reqClone.Model = rt.upstream

	streamChan, err := rt.provider.Stream(ctx, &reqClone)
	if err != nil {
		s.logger.Warn("stream dispatch failed",
			zap.String("model", req.Model), zap.String("provider", rt.provider.Name()), zap.Error(err))
		return nil, err
	}

	outChan := make(chan api.StreamResult)

	go func() {
		defer close(outChan)

		start := time.Now()
		var ttft *time.Duration
		var usage *api.Usage
		var finishReason, lastID string
		var streamErr error
		chunks := 0

		for result := range streamChan {
			if result.Err != nil {
				streamErr = result.Err
			}
			if result.Chunk != nil {
				if ttft == nil {
					dur := time.Since(start)
					ttft = &dur
				}
				chunks++
				lastID = result.Chunk.ID
				s.metrics.StreamChunksTotal.WithLabelValues(rt.provider.Name()).Inc()
				if result.Chunk.Usage != nil {
					usage = result.Chunk.Usage
				}
				if len(result.Chunk.Choices) > 0 && result.Chunk.Choices[0].FinishReason != "" {
					finishReason = result.Chunk.Choices[0].FinishReason
				}
				result.Chunk.ModelAlias = req.Model
			}

			select {
			case outChan <- result:
			case <-ctx.Done():
				streamErr = api.FromContext(ctx, rt.provider.Name(), "stream")
				goto done
			}
		}

	done:
		s.report(opRecord{
			id:         lastID,
			operation:  "stream",
			rt:         rt,
			modelAlias: req.Model,
			finish:     finishReason,
			usage:      usage,
			err:        streamErr,
			streamed:   true,
			chunks:     chunks,
			ttft:       ttft,
			elapsed:    time.Since(start),
		})
	}()

	return outChan, nil
}

func (s *service) Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error) {
	rt, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if err := capability.Check(rt.provider.Name(), rt.upstream, capability.OpEmbeddings); err != nil {
		return nil, err
	}
	embedder, ok := rt.provider.(llm.Embedder)
	if !ok {
		return nil, api.UnsupportedError(rt.provider.Name(), "embeddings", "provider does not serve embeddings")
	}

	reqClone := *req
	reqClone.Model = rt.upstream

	start := time.Now()
	var resp *api.EmbeddingResponse
	err = s.policy.Execute(ctx, rt.provider.Name(), "embeddings", func(ctx context.Context) error {
		var callErr error
		resp, callErr = embedder.Embeddings(ctx, &reqClone)
		return callErr
	})
	elapsed := time.Since(start)

	rec := opRecord{
		operation:  "embeddings",
		rt:         rt,
		modelAlias: req.Model,
		err:        err,
		elapsed:    elapsed,
	}
	if resp != nil {
		rec.usage = resp.Usage
	}
	s.report(rec)

	if err != nil {
		return nil, err
	}
	resp.ModelAlias = req.Model
	return resp, nil
}

func (s *service) GenerateImage(ctx context.Context, req *api.ImageRequest) (*api.ImageResponse, error) {
	rt, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if err := capability.Check(rt.provider.Name(), rt.upstream, capability.OpImage); err != nil {
		return nil, err
	}
	generator, ok := rt.provider.(llm.ImageGenerator)
	if !ok {
		return nil, api.UnsupportedError(rt.provider.Name(), "image_generation", "provider does not serve image generation")
	}

	reqClone := *req
	reqClone.Model = rt.upstream

	start := time.Now()
	var resp *api.ImageResponse
	err = s.policy.Execute(ctx, rt.provider.Name(), "image_generation", func(ctx context.Context) error {
		var callErr error
		resp, callErr = generator.GenerateImage(ctx, &reqClone)
		return callErr
	})

	s.report(opRecord{
		operation:  "image_generation",
		rt:         rt,
		modelAlias: req.Model,
		err:        err,
		elapsed:    time.Since(start),
	})

	if err != nil {
		return nil, err
	}
	resp.ModelAlias = req.Model
	return resp, nil
}

func (s *service) Speech(ctx context.Context, req *api.SpeechRequest) (*api.SpeechResponse, error) {
	rt, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if err := capability.Check(rt.provider.Name(), rt.upstream, capability.OpSpeech); err != nil {
		return nil, err
	}
	synthesizer, ok := rt.provider.(llm.SpeechSynthesizer)
	if !ok {
		return nil, api.UnsupportedError(rt.provider.Name(), "speech", "provider does not serve speech synthesis")
	}

	reqClone := *req
	reqClone.Model = rt.upstream

	start := time.Now()
	var resp *api.SpeechResponse
	err = s.policy.Execute(ctx, rt.provider.Name(), "speech", func(ctx context.Context) error {
		var callErr error
		resp, callErr = synthesizer.Speech(ctx, &reqClone)
		return callErr
	})

	s.report(opRecord{
		operation:  "speech",
		rt:         rt,
		modelAlias: req.Model,
		err:        err,
		elapsed:    time.Since(start),
	})

	if err != nil {
		return nil, err
	}
	resp.ModelAlias = req.Model
	return resp, nil
}

// Realtime opens a bidirectional session. The session is handed to the
// transport bridge; per-message accounting happens there.
func (s *service) Realtime(ctx context.Context, modelID string, cfg api.SessionConfig) (*realtime.Session, error) {
	rt, err := s.resolve(modelID)
	if err != nil {
		return nil, err
	}
	if err := capability.Check(rt.provider.Name(), rt.upstream, capability.OpRealtime); err != nil {
		return nil, err
	}
	rc, ok := rt.provider.(llm.RealtimeCapable)
	if !ok {
		return nil, api.UnsupportedError(rt.provider.Name(), "realtime", "provider does not serve realtime sessions")
	}

	cfg.Model = rt.upstream

	start := time.Now()
	session, err := rc.Realtime(ctx, cfg)

	s.report(opRecord{
		operation:  "realtime",
		rt:         rt,
		modelAlias: modelID,
		err:        err,
		elapsed:    time.Since(start),
	})

	if err != nil {
		return nil, err
	}
	return session, nil
}
