package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/httpclient"
	"github.com/nulzo/refract/internal/llm"
	"github.com/nulzo/refract/internal/modeldata"
	"github.com/nulzo/refract/internal/stream"
	"github.com/nulzo/refract/pkg/api"
)

func init() {
	llm.Register("anthropic", NewAdapter)
}

const defaultVersion = "2023-06-01"

type Adapter struct {
	config config.ProviderConfig
	client *http.Client
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, api.ConfigurationError(cfg.ID, "api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return "anthropic" }

func (a *Adapter) headers() map[string]string {
	version := defaultVersion
	if a.config.APIVersion != "" {
		version = a.config.APIVersion
	}
	return map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": version,
	}
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []wireContent
}

type wireRequest struct {
	Model         string       `json:"model"`
	Messages      []wireMessage `json:"messages"`
	System        string       `json:"system,omitempty"`
	MaxTokens     int          `json:"max_tokens"`
	Stream        bool         `json:"stream,omitempty"`
	Temperature   float64      `json:"temperature,omitempty"`
	TopP          float64      `json:"top_p,omitempty"`
	TopK          int          `json:"top_k,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Tools         []wireTool   `json:"tools,omitempty"`
	ToolChoice    interface{}  `json:"tool_choice,omitempty"`
}

type wireContent struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *imageSource `json:"source,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`                 // "base64" or "url"
	MediaType string `json:"media_type,omitempty"` // "image/jpeg"
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string        `json:"id"`
	Content    []wireContent `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason"`
	Usage      wireUsage     `json:"usage"`
}

// toWireRequest translates the unified request. System messages move to
// the top-level field, tool results become user-side tool_result blocks,
// and image URLs pass through as url or base64 sources without fetching.
func toWireRequest(req *api.ChatRequest) wireRequest {
	wr := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	// max_tokens is mandatory upstream.
	if wr.MaxTokens == 0 {
		wr.MaxTokens = 4096
	}
	if req.Stop != nil {
		wr.StopSequences = req.Stop.Val
	}

	for _, tool := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	wr.ToolChoice = mapToolChoice(req.ToolChoice)

	for _, m := range req.Messages {
		switch m.Role {
		case string(api.System):
			if wr.System != "" {
				wr.System += "\n"
			}
			wr.System += m.Content.PlainText()

		case string(api.ToolRole):
			wr.Messages = append(wr.Messages, wireMessage{
				Role: "user",
				Content: []wireContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content.PlainText(),
				}},
			})

		default:
			blocks := toContentBlocks(m)
			if len(blocks) > 0 {
				wr.Messages = append(wr.Messages, wireMessage{Role: m.Role, Content: blocks})
			}
		}
	}
	return wr
}

func toContentBlocks(m api.ChatMessage) []wireContent {
	var blocks []wireContent

	if m.Content.Text != "" && len(m.Content.Parts) == 0 {
		blocks = append(blocks, wireContent{Type: "text", Text: m.Content.Text})
	}

	for _, part := range m.Content.Parts {
		switch {
		case part.Type == api.ContentPartText:
			blocks = append(blocks, wireContent{Type: "text", Text: part.Text})
		case part.Type == api.ContentPartImage && part.ImageURL != nil:
			blocks = append(blocks, wireContent{Type: "image", Source: toImageSource(part.ImageURL.URL)})
		}
	}

	// Prior assistant tool calls replay as tool_use blocks.
	for _, call := range m.ToolCalls {
		blocks = append(blocks, wireContent{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}
	return blocks
}

// toImageSource keeps data URLs inline and passes everything else by
// reference, so no image bytes are ever fetched through the gateway.
func toImageSource(rawURL string) *imageSource {
	if strings.HasPrefix(rawURL, "data:") {
		meta, data, found := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
		if found {
			return &imageSource{
				Type:      "base64",
				MediaType: strings.TrimSuffix(meta, ";base64"),
				Data:      data,
			}
		}
	}
	return &imageSource{Type: "url", URL: rawURL}
}

func mapToolChoice(choice interface{}) interface{} {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return map[string]string{"type": "auto"}
		case "none":
			return map[string]string{"type": "none"}
		case "required":
			return map[string]string{"type": "any"}
		}
	case map[string]interface{}:
		if fn, ok := v["function"].(map[string]interface{}); ok {
			if name, ok := fn["name"].(string); ok {
				return map[string]string{"type": "tool", "name": name}
			}
		}
	}
	return nil
}

// mapStopReason folds Anthropic's stop reasons onto the unified set.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type upstreamErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

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

func (a *Adapter) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

	wr := toWireRequest(req)
	wr.Stream = false

	var resp wireResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST", a.url("/messages"), a.headers(), wr, &resp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "chat"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("chat", err)
	}

	msg := api.ChatMessage{Role: string(api.Assistant)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content.Text += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: api.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	return &api.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      &msg,
			FinishReason: mapStopReason(resp.StopReason),
		}},
		Usage: &api.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// streamEvent covers the fields of every SSE event type the adapter reads.
type streamEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index,omitempty"`
	ContentBlock *wireContent `json:"content_block,omitempty"`
	Delta        *streamDelta `json:"delta,omitempty"`
	Usage        *wireUsage   `json:"usage,omitempty"`
	Message      *struct {
		ID    string    `json:"id"`
		Usage wireUsage `json:"usage"`
	} `json:"message,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

func (a *Adapter) Stream(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

	wr := toWireRequest(req)
	wr.Stream = true

	events := make(chan stream.Event)

	go func() {
		defer close(events)

		emit := func(ev stream.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// Anthropic numbers content blocks, not tool calls. toolIndex maps
		// block index to the unified tool call index.
		toolIndex := map[int]int{}
		inputTokens := 0

		err := httpclient.StreamRequest(ctx, a.client, "POST", a.url("/messages"), a.headers(), wr, func(line string) error {
			if !strings.HasPrefix(line, "data: ") {
				return nil
			}
			data := strings.TrimPrefix(line, "data: ")

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return nil
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					idx := len(toolIndex)
					toolIndex[event.Index] = idx
					return emit(stream.ToolCallEvent(&api.ToolCallDelta{
						Index: idx,
						ID:    event.ContentBlock.ID,
						Type:  "function",
						Function: &api.FunctionCallDelta{
							Name: event.ContentBlock.Name,
						},
					}))
				}

			case "content_block_delta":
				if event.Delta == nil {
					return nil
				}
				switch event.Delta.Type {
				case "text_delta":
					return emit(stream.ContentEvent(event.Delta.Text))
				case "input_json_delta":
					if idx, ok := toolIndex[event.Index]; ok {
						return emit(stream.ToolCallEvent(&api.ToolCallDelta{
							Index:    idx,
							Function: &api.FunctionCallDelta{Arguments: event.Delta.PartialJSON},
						}))
					}
				}

			case "message_delta":
				// Stop reason and output tokens arrive here, before
				// message_stop.
				if event.Usage != nil {
					if err := emit(stream.UsageEvent(&api.Usage{
						PromptTokens:     inputTokens,
						CompletionTokens: event.Usage.OutputTokens,
						TotalTokens:      inputTokens + event.Usage.OutputTokens,
					})); err != nil {
						return err
					}
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					return emit(stream.StopEvent(mapStopReason(event.Delta.StopReason)))
				}

			case "error":
				msg := "upstream stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				return emit(stream.ErrorEvent(api.CommunicationError(a.config.ID, "stream", 0, errors.New(msg))))
			}
			return nil
		})

		if err != nil && ctx.Err() == nil {
			events <- stream.ErrorEvent(a.wrapError("stream", err))
		}
	}()

	return stream.NewNormalizer(req.Model).Normalize(ctx, events), nil
}

// Models serves the static catalog; the messages API has no capability
// metadata worth polling for.
func (a *Adapter) Models(ctx context.Context) ([]api.ModelDefinition, error) {
	var models []api.ModelDefinition
	for id, def := range modeldata.KnownModels {
		if def.OwnedBy != "anthropic" {
			continue
		}
		def.ID = id
		def.UpstreamID = id
		def.ProviderID = a.config.ID
		def.Enabled = true
		models = append(models, def)
	}
	return models, nil
}

func (a *Adapter) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", a.url("/models?limit=1"), nil)
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
