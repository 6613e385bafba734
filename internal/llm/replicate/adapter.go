package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/httpclient"
	"github.com/nulzo/refract/internal/jobs"
	"github.com/nulzo/refract/internal/llm"
	"github.com/nulzo/refract/internal/modeldata"
	"github.com/nulzo/refract/internal/platform/logger"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/internal/stream"
	"github.com/nulzo/refract/pkg/api"
)

const pn string = "replicate"

func init() {
	llm.Register(pn, NewAdapter)
}

// Adapter talks to Replicate's predictions API. Every operation is a job:
// submit, then poll until terminal. The jobs engine owns the pacing.
type Adapter struct {
	config config.ProviderConfig
	client *http.Client
	engine *jobs.Engine
}

func NewAdapter(cfg config.ProviderConfig) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, api.ConfigurationError(cfg.ID, "api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.replicate.com/v1"
	}

	jc := config.JobsConfig{}
	if raw := cfg.Config["poll_interval"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			jc.PollInterval = d
		}
	}
	if raw := cfg.Config["max_duration"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			jc.MaxDuration = d
		}
	}

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		engine: jobs.New(jc, logger.Get(), metrics.Default()),
	}, nil
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return pn }

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.config.APIKey}
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

// wireJob is the prediction object as Replicate returns it. Its status
// strings are the unified job vocabulary verbatim.
type wireJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Input     interface{} `json:"input,omitempty"`
	Output    interface{} `json:"output,omitempty"`
	Error     interface{} `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
	Metrics   *struct {
		InputTokenCount  int `json:"input_token_count,omitempty"`
		OutputTokenCount int `json:"output_token_count,omitempty"`
	} `json:"metrics,omitempty"`
}

func (w *wireJob) toJob() *api.PredictionJob {
	errMsg := ""
	if w.Error != nil {
		errMsg = fmt.Sprintf("%v", w.Error)
	}
	return &api.PredictionJob{
		ID:        w.ID,
		Status:    api.JobStatus(w.Status),
		Input:     w.Input,
		Output:    w.Output,
		Error:     errMsg,
		CreatedAt: w.CreatedAt,
	}
}

func (w *wireJob) usage() *api.Usage {
	if w.Metrics == nil || (w.Metrics.InputTokenCount == 0 && w.Metrics.OutputTokenCount == 0) {
		return nil
	}
	return &api.Usage{
		PromptTokens:     w.Metrics.InputTokenCount,
		CompletionTokens: w.Metrics.OutputTokenCount,
		TotalTokens:      w.Metrics.InputTokenCount + w.Metrics.OutputTokenCount,
	}
}

// submit creates a prediction. "owner/name" models go through the
// model-scoped endpoint; "owner/name:version" pins a version through the
// generic one.
func (a *Adapter) submit(ctx context.Context, model string, input map[string]interface{}) (*wireJob, error) {
	var (
		endpoint string
		body     interface{}
	)
	if _, version, pinned := strings.Cut(model, ":"); pinned {
		endpoint = a.url("/predictions")
		body = map[string]interface{}{"version": version, "input": input}
	} else {
		endpoint = a.url("/models/" + model + "/predictions")
		body = map[string]interface{}{"input": input}
	}

	var job wireJob
	if err := httpclient.SendRequest(ctx, a.client, "POST", endpoint, a.headers(), body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// poll reads a prediction. The latest wire payload is retained so terminal
// metrics (token counts) survive into the response mapping.
func (a *Adapter) poll(last **wireJob) jobs.PollFunc {
	return func(ctx context.Context, id string) (*api.PredictionJob, error) {
		var job wireJob
		if err := httpclient.SendRequest(ctx, a.client, "GET", a.url("/predictions/"+id), a.headers(), nil, &job); err != nil {
			if ctxErr := api.FromContext(ctx, a.config.ID, "job"); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, a.wrapError("job", err)
		}
		*last = &job
		return job.toJob(), nil
	}
}

// chatInput shapes the unified request into a language-model prediction
// input. Single-turn requests pass the user text through untouched;
// multi-turn ones flatten into a role-prefixed transcript.
func chatInput(req *api.ChatRequest) map[string]interface{} {
	var system []string
	var turns []api.ChatMessage
	for _, m := range req.Messages {
		if m.Role == string(api.System) {
			system = append(system, m.Content.PlainText())
			continue
		}
		turns = append(turns, m)
	}

	prompt := ""
	if len(turns) == 1 {
		prompt = turns[0].Content.PlainText()
	} else {
		var lines []string
		for _, m := range turns {
			lines = append(lines, m.Role+": "+m.Content.PlainText())
		}
		lines = append(lines, "assistant:")
		prompt = strings.Join(lines, "\n")
	}

	input := map[string]interface{}{"prompt": prompt}
	if len(system) > 0 {
		input["system_prompt"] = strings.Join(system, "\n")
	}
	if req.MaxTokens > 0 {
		input["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		input["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		input["top_p"] = req.TopP
	}
	if req.TopK > 0 {
		input["top_k"] = req.TopK
	}
	if req.Stop != nil && len(req.Stop.Val) > 0 {
		input["stop_sequences"] = strings.Join(req.Stop.Val, ",")
	}
	return input
}

type upstreamErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (a *Adapter) wrapError(operation string, err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return api.CommunicationError(a.config.ID, operation, 0, err)
	}
	var apiErr upstreamErrorResponse
	if jsonErr := json.Unmarshal(upstreamErr.Body, &apiErr); jsonErr == nil {
		msg := apiErr.Detail
		if msg == "" {
			msg = apiErr.Title
		}
		if msg != "" {
			return api.CommunicationError(a.config.ID, operation, upstreamErr.StatusCode,
				fmt.Errorf("%s: %w", msg, upstreamErr))
		}
	}
	return api.CommunicationError(a.config.ID, operation, upstreamErr.StatusCode, upstreamErr)
}

func (a *Adapter) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

	var last *wireJob
	job, err := a.engine.Run(ctx, a.config.ID,
		func(ctx context.Context) (*api.PredictionJob, error) {
			wj, err := a.submit(ctx, req.Model, chatInput(req))
			if err != nil {
				if ctxErr := api.FromContext(ctx, a.config.ID, "chat"); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, a.wrapError("chat", err)
			}
			last = wj
			return wj.toJob(), nil
		},
		a.poll(&last),
	)
	if err != nil {
		return nil, err
	}

	var usage *api.Usage
	if last != nil {
		usage = last.usage()
	}

	return &api.ChatResponse{
		ID:      "chatcmpl-" + job.ID,
		Object:  "chat.completion",
		Created: job.CreatedAt.Unix(),
		Model:   req.Model,
		Choices: []api.Choice{{
			Index: 0,
			Message: &api.ChatMessage{
				Role:    string(api.Assistant),
				Content: api.Content{Text: jobs.ExtractText(job.Output)},
			},
			FinishReason: "stop",
		}},
		Usage: usage,
	}, nil
}

// Stream synthesizes a stream around the job lifecycle: the role chunk goes
// out as soon as the job is accepted, the text replays in word groups once
// it succeeds.
func (a *Adapter) Stream(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return nil, err
	}

	ch := make(chan api.StreamResult)

	go func() {
		defer close(ch)

		emitter := stream.NewEmitter(req.Model)

		fail := func(err error) {
			select {
			case ch <- api.StreamResult{Err: err}:
			case <-ctx.Done():
			}
		}

		wj, err := a.submit(ctx, req.Model, chatInput(req))
		if err != nil {
			if ctxErr := api.FromContext(ctx, a.config.ID, "stream"); ctxErr != nil {
				fail(ctxErr)
				return
			}
			fail(a.wrapError("stream", err))
			return
		}

		select {
		case ch <- api.StreamResult{Chunk: emitter.Role()}:
		case <-ctx.Done():
			return
		}

		last := wj
		job, err := a.engine.Await(ctx, a.config.ID, wj.toJob(), a.poll(&last))
		if err != nil {
			fail(err)
			return
		}

		emitter.Synthesize(ctx, ch, jobs.ExtractText(job.Output), last.usage())
	}()

	return ch, nil
}

// GenerateImage runs a text-to-image prediction and returns the output
// URLs.
func (a *Adapter) GenerateImage(ctx context.Context, req *api.ImageRequest) (*api.ImageResponse, error) {
	if req == nil || req.Model == "" || req.Prompt == "" {
		return nil, api.ValidationError("image request requires model and prompt")
	}

	input := map[string]interface{}{"prompt": req.Prompt}
	if req.N > 1 {
		input["num_outputs"] = req.N
	}
	if w, h, ok := parseSize(req.Size); ok {
		input["width"] = w
		input["height"] = h
	}

	var last *wireJob
	job, err := a.engine.Run(ctx, a.config.ID,
		func(ctx context.Context) (*api.PredictionJob, error) {
			wj, err := a.submit(ctx, req.Model, input)
			if err != nil {
				if ctxErr := api.FromContext(ctx, a.config.ID, "image"); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, a.wrapError("image", err)
			}
			last = wj
			return wj.toJob(), nil
		},
		a.poll(&last),
	)
	if err != nil {
		return nil, err
	}

	resp := &api.ImageResponse{Created: job.CreatedAt.Unix(), Model: req.Model}
	for _, u := range jobs.ExtractList(job.Output) {
		resp.Data = append(resp.Data, api.ImageData{URL: u})
	}
	return resp, nil
}

func parseSize(size string) (int, int, bool) {
	ws, hs, found := strings.Cut(size, "x")
	if !found {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func (a *Adapter) Models(ctx context.Context) ([]api.ModelDefinition, error) {
	var models []api.ModelDefinition
	for id, def := range modeldata.KnownModels {
		if def.OwnedBy != "replicate" {
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
	req, err := http.NewRequestWithContext(ctx, "GET", a.url("/account"), nil)
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
