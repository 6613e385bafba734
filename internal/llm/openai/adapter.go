package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/refract/internal/capability"
	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/httpclient"
	"github.com/nulzo/refract/internal/llm"
	"github.com/nulzo/refract/internal/modeldata"
	"github.com/nulzo/refract/internal/stream"
	"github.com/nulzo/refract/pkg/api"
)

func init() {
	llm.Register("openai", NewAdapter)
}

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, api.ConfigurationError(cfg.ID, "api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string {
	return a.config.ID
}

func (a *Adapter) Type() string {
	return "openai"
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + a.config.APIKey,
	}
	if org, ok := a.config.Config["organization"]; ok {
		headers["OpenAI-Organization"] = org
	}
	return headers
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

// upstreamErrorResponse mirrors the standard OpenAI error shape
type upstreamErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Param   interface{} `json:"param"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// wrapError folds transport failures and upstream statuses into the
// gateway taxonomy, pulling the human-readable message out of OpenAI's
// error envelope when one is present.
func (a *Adapter) wrapError(operation string, err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return api.CommunicationError(a.config.ID, operation, 0, err)
	}

	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
		return api.CommunicationError(a.config.ID, operation, upstreamErr.StatusCode,
			fmt.Errorf("%s: %w", apiErr.Error.Message, upstreamErr))
	}
	return api.CommunicationError(a.config.ID, operation, upstreamErr.StatusCode, upstreamErr)
}

// chatPayload is the wire request. Unified fields OpenAI does not accept
// (top_k) stay behind; everything else maps one to one.
type chatPayload struct {
	Model         string            `json:"model"`
	Messages      []api.ChatMessage `json:"messages"`
	Stream        bool              `json:"stream,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	TopP          float64           `json:"top_p,omitempty"`
	Stop          *api.Stop         `json:"stop,omitempty"`
	Tools         []api.Tool        `json:"tools,omitempty"`
	ToolChoice    interface{}       `json:"tool_choice,omitempty"`
	StreamOptions *streamOptions    `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (a *Adapter) payload(req *api.ChatRequest, streaming bool) chatPayload {
	p := chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      streaming,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
	if streaming {
		p.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return p
}

func (a *Adapter) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

	var resp api.ChatResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url("/chat/completions"),
		a.headers(), a.payload(req, false), &resp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "chat"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("chat", err)
	}

	return &resp, nil
}

func (a *Adapter) Stream(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

	events := make(chan stream.Event)

	go func() {
		defer close(events)

		err := httpclient.StreamRequest(ctx, a.client, "POST", a.url("/chat/completions"),
			a.headers(), a.payload(req, true), func(line string) error {
				// SSE format: data: {...}
				if !strings.HasPrefix(line, "data: ") {
					return nil
				}

				data := strings.TrimPrefix(line, "data: ")
				if data == "[DONE]" {
					return nil
				}

				var chunk api.ChatCompletionChunk
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					// Skip undecodable frames rather than killing the stream.
					return nil
				}

				for _, ev := range reduceChunk(&chunk) {
					select {
					case events <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return nil
			})

		if err != nil && ctx.Err() == nil {
			events <- stream.ErrorEvent(a.wrapError("stream", err))
		}
	}()

	return stream.NewNormalizer(req.Model).Normalize(ctx, events), nil
}

// reduceChunk flattens one upstream chunk into normalizer events.
func reduceChunk(chunk *api.ChatCompletionChunk) []stream.Event {
	var events []stream.Event

	if chunk.Usage != nil {
		events = append(events, stream.UsageEvent(chunk.Usage))
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			events = append(events, stream.ContentEvent(choice.Delta.Content))
		}
		for i := range choice.Delta.ToolCalls {
			events = append(events, stream.ToolCallEvent(&choice.Delta.ToolCalls[i]))
		}
		if choice.FinishReason != "" {
			events = append(events, stream.StopEvent(choice.FinishReason))
		}
	}
	return events
}

type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// Models lists the live upstream catalog, enriched with capability data.
// When the listing call fails the static catalog stands in, so routing
// keeps working through upstream blips.
func (a *Adapter) Models(ctx context.Context) ([]api.ModelDefinition, error) {
	var resp modelsResponse
	if err := httpclient.SendRequest(ctx, a.client, "GET", a.url("/models"), a.headers(), nil, &resp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "models"); ctxErr != nil {
			return nil, ctxErr
		}
		return a.staticModels(), nil
	}

	models := make([]api.ModelDefinition, 0, len(resp.Data))
	for _, m := range resp.Data {
		def, known := modeldata.Lookup(m.ID)
		if !known {
			def = api.ModelDefinition{
				ID:           m.ID,
				UpstreamID:   m.ID,
				Name:         m.ID,
				Capabilities: capability.Infer(m.ID),
			}
		}
		def.ProviderID = a.config.ID
		def.Created = m.Created
		if m.OwnedBy != "" {
			def.OwnedBy = m.OwnedBy
		}
		def.Enabled = true
		models = append(models, def)
	}
	return models, nil
}

func (a *Adapter) staticModels() []api.ModelDefinition {
	var models []api.ModelDefinition
	for id, def := range modeldata.KnownModels {
		if def.OwnedBy != "openai" {
			continue
		}
		def.ID = id
		def.UpstreamID = id
		def.ProviderID = a.config.ID
		def.Enabled = true
		models = append(models, def)
	}
	return models
}

func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", a.url("/models"), nil)
	if err != nil {
		return err
	}
	for k, v := range a.headers() {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error) {
	if req.Model == "" {
		return nil, api.ValidationError("model is required")
	}

	var resp api.EmbeddingResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url("/embeddings"),
		a.headers(), req, &resp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "embeddings"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("embeddings", err)
	}
	return &resp, nil
}

func (a *Adapter) GenerateImage(ctx context.Context, req *api.ImageRequest) (*api.ImageResponse, error) {
	if req.Prompt == "" {
		return nil, api.ValidationError("prompt is required")
	}

	var resp api.ImageResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url("/images/generations"),
		a.headers(), req, &resp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "image_generation"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("image_generation", err)
	}
	resp.Model = req.Model
	return &resp, nil
}

type speechPayload struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

func (a *Adapter) Speech(ctx context.Context, req *api.SpeechRequest) (*api.SpeechResponse, error) {
	if req.Input == "" {
		return nil, api.ValidationError("input is required")
	}

	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}

	audio, _, err := httpclient.PostBinary(ctx, a.client, a.url("/audio/speech"), a.headers(), speechPayload{
		Model:          req.Model,
		Input:          req.Input,
		Voice:          voice,
		ResponseFormat: req.ResponseFormat,
		Speed:          req.Speed,
	})
	if err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "speech"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("speech", err)
	}

	format := req.ResponseFormat
	if format == "" {
		format = "mp3"
	}
	return &api.SpeechResponse{
		Audio:  audio,
		Format: format,
		Model:  req.Model,
	}, nil
}
