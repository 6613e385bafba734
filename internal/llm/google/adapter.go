package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/httpclient"
	"github.com/nulzo/refract/internal/llm"
	"github.com/nulzo/refract/internal/modeldata"
	"github.com/nulzo/refract/internal/stream"
	"github.com/nulzo/refract/pkg/api"
)

const pn string = "google"

func init() {
	llm.Register(pn, NewAdapter)
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
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return pn }

// url builds a model-scoped endpoint. The key rides as a query parameter,
// which is how the generative language API authenticates.
func (a *Adapter) url(model, verb string, params string) string {
	u := fmt.Sprintf("%s/models/%s:%s?key=%s",
		strings.TrimRight(a.config.BaseURL, "/"), model, verb, a.config.APIKey)
	if params != "" {
		u += "&" + params
	}
	return u
}

type geminiPart struct {
	Text string `json:"text,omitempty"`

	InlineData *geminiBlob `json:"inline_data,omitempty"`
	FileData   *geminiFile `json:"file_data,omitempty"`

	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiFile struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	TopK            int      `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode string `json:"mode"` // AUTO, ANY, NONE
	} `json:"function_calling_config"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

// toWireRequest translates the unified request. Gemini calls the assistant
// role "model", hoists system messages into systemInstruction, and matches
// tool results by function name rather than call id, so the id-to-name
// mapping is recovered from earlier assistant turns.
func toWireRequest(req *api.ChatRequest) geminiRequest {
	gr := geminiRequest{}

	if req.Temperature != 0 || req.TopP != 0 || req.TopK != 0 || req.MaxTokens != 0 || req.Stop != nil {
		gc := &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxTokens,
		}
		if req.Stop != nil {
			gc.StopSequences = req.Stop.Val
		}
		gr.GenerationConfig = gc
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		gr.Tools = []geminiTool{tool}
	}
	if mode := toolMode(req.ToolChoice); mode != "" {
		tc := &geminiToolConfig{}
		tc.FunctionCallingConfig.Mode = mode
		gr.ToolConfig = tc
	}

	callNames := map[string]string{}
	for _, m := range req.Messages {
		for _, call := range m.ToolCalls {
			callNames[call.ID] = call.Function.Name
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case string(api.System):
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{}
			}
			gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts,
				geminiPart{Text: m.Content.PlainText()})

		case string(api.ToolRole):
			var payload map[string]interface{}
			raw := m.Content.PlainText()
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				payload = map[string]interface{}{"result": raw}
			}
			gr.Contents = append(gr.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     callNames[m.ToolCallID],
					Response: payload,
				}}},
			})

		default:
			role := "user"
			if m.Role == string(api.Assistant) {
				role = "model"
			}
			parts := toParts(m)
			if len(parts) > 0 {
				gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: parts})
			}
		}
	}
	return gr
}

func toParts(m api.ChatMessage) []geminiPart {
	var parts []geminiPart

	if m.Content.Text != "" && len(m.Content.Parts) == 0 {
		parts = append(parts, geminiPart{Text: m.Content.Text})
	}
	for _, p := range m.Content.Parts {
		switch {
		case p.Type == api.ContentPartText:
			parts = append(parts, geminiPart{Text: p.Text})
		case p.Type == api.ContentPartImage && p.ImageURL != nil:
			parts = append(parts, imagePart(p.ImageURL.URL))
		}
	}
	for _, call := range m.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
			Name: call.Function.Name,
			Args: args,
		}})
	}
	return parts
}

func imagePart(rawURL string) geminiPart {
	if strings.HasPrefix(rawURL, "data:") {
		meta, data, found := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
		if found {
			return geminiPart{InlineData: &geminiBlob{
				MimeType: strings.TrimSuffix(meta, ";base64"),
				Data:     data,
			}}
		}
	}
	return geminiPart{FileData: &geminiFile{FileURI: rawURL}}
}

func toolMode(choice interface{}) string {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return "AUTO"
		case "none":
			return "NONE"
		case "required":
			return "ANY"
		}
	}
	return ""
}

func mapFinishReason(reason string, hasCalls bool) string {
	if hasCalls {
		return "tool_calls"
	}
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

func toUsage(u *geminiUsage) *api.Usage {
	if u == nil {
		return nil
	}
	return &api.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

type upstreamErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
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

	var gResp geminiResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST",
		a.url(req.Model, "generateContent", ""), nil, toWireRequest(req), &gResp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "chat"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("chat", err)
	}

	if len(gResp.Candidates) == 0 {
		return nil, api.CommunicationError(a.config.ID, "chat", 0, errors.New("no candidates in response"))
	}
	candidate := gResp.Candidates[0]

	msg := api.ChatMessage{Role: string(api.Assistant)}
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			msg.Content.Text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:   "call_" + uuid.New().String(),
				Type: "function",
				Function: api.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}

	return &api.ChatResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      &msg,
			FinishReason: mapFinishReason(candidate.FinishReason, len(msg.ToolCalls) > 0),
		}},
		Usage: toUsage(gResp.UsageMetadata),
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

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

		toolCalls := 0
		finish := ""
		var usage *api.Usage

		err := httpclient.StreamRequest(ctx, a.client, "POST",
			a.url(req.Model, "streamGenerateContent", "alt=sse"), nil, toWireRequest(req), func(line string) error {
				if !strings.HasPrefix(line, "data: ") {
					return nil
				}
				var gResp geminiResponse
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &gResp); err != nil {
					return nil
				}

				if gResp.UsageMetadata != nil {
					usage = toUsage(gResp.UsageMetadata)
				}
				if len(gResp.Candidates) == 0 {
					return nil
				}
				candidate := gResp.Candidates[0]
				if candidate.FinishReason != "" {
					finish = candidate.FinishReason
				}

				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if err := emit(stream.ContentEvent(part.Text)); err != nil {
							return err
						}
					}
					// Gemini streams whole function calls, never fragments.
					if part.FunctionCall != nil {
						args, _ := json.Marshal(part.FunctionCall.Args)
						idx := toolCalls
						toolCalls++
						if err := emit(stream.ToolCallEvent(&api.ToolCallDelta{
							Index: idx,
							ID:    "call_" + uuid.New().String(),
							Type:  "function",
							Function: &api.FunctionCallDelta{
								Name:      part.FunctionCall.Name,
								Arguments: string(args),
							},
						})); err != nil {
							return err
						}
					}
				}
				return nil
			})

		if err != nil {
			if ctx.Err() == nil {
				events <- stream.ErrorEvent(a.wrapError("stream", err))
			}
			return
		}

		if usage != nil {
			if emit(stream.UsageEvent(usage)) != nil {
				return
			}
		}
		_ = emit(stream.StopEvent(mapFinishReason(finish, toolCalls > 0)))
	}()

	return stream.NewNormalizer(req.Model).Normalize(ctx, events), nil
}

type embedContentRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

func (a *Adapter) Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error) {
	if req == nil || req.Model == "" || len(req.Input.Texts) == 0 {
		return nil, api.ValidationError("embedding request requires model and input")
	}

	batch := batchEmbedRequest{}
	for _, text := range req.Input.Texts {
		batch.Requests = append(batch.Requests, embedContentRequest{
			Model:   "models/" + req.Model,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		})
	}

	var resp batchEmbedResponse
	if err := httpclient.SendRequest(ctx, a.client, "POST",
		a.url(req.Model, "batchEmbedContents", ""), nil, batch, &resp); err != nil {
		if ctxErr := api.FromContext(ctx, a.config.ID, "embeddings"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, a.wrapError("embeddings", err)
	}

	out := &api.EmbeddingResponse{Object: "list", Model: req.Model}
	for i, emb := range resp.Embeddings {
		out.Data = append(out.Data, api.Embedding{
			Object:    "embedding",
			Index:     i,
			Embedding: emb.Values,
		})
	}
	return out, nil
}

func (a *Adapter) Models(ctx context.Context) ([]api.ModelDefinition, error) {
	var models []api.ModelDefinition
	for id, def := range modeldata.KnownModels {
		if def.OwnedBy != "google" {
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
	u := fmt.Sprintf("%s/models?key=%s&pageSize=1",
		strings.TrimRight(a.config.BaseURL, "/"), a.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return err
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
