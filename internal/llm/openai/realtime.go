package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/nulzo/refract/internal/realtime"
	"github.com/nulzo/refract/pkg/api"
)

// Realtime opens a speech-to-speech session against the Realtime API. The
// model rides in the query string; everything else is negotiated over the
// socket via session.update.
func (a *Adapter) Realtime(ctx context.Context, cfg api.SessionConfig) (*realtime.Session, error) {
	if cfg.Model == "" {
		return nil, api.ValidationError("model is required")
	}

	wsBase := strings.Replace(strings.TrimRight(a.config.BaseURL, "/"), "http", "ws", 1)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.config.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	return realtime.Dial(ctx, realtime.Options{
		URL:        wsBase + "/realtime?model=" + url.QueryEscape(cfg.Model),
		Header:     header,
		Translator: &rtTranslator{},
		Config:     cfg,
		Provider:   a.config.ID,
	})
}

// rtTranslator speaks the OpenAI Realtime dialect.
type rtTranslator struct{}

// rtSession is the session.update payload. Realtime tools are flattened
// compared to chat tools.
type rtSession struct {
	Voice             string             `json:"voice,omitempty"`
	Instructions      string             `json:"instructions,omitempty"`
	InputAudioFormat  string             `json:"input_audio_format,omitempty"`
	OutputAudioFormat string             `json:"output_audio_format,omitempty"`
	TurnDetection     *api.TurnDetection `json:"turn_detection,omitempty"`
	Tools             []rtTool           `json:"tools,omitempty"`
}

type rtTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

func (t *rtTranslator) SessionUpdate(cfg api.SessionConfig) (interface{}, error) {
	session := rtSession{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
		TurnDetection:     cfg.TurnDetection,
	}
	for _, tool := range cfg.Tools {
		session.Tools = append(session.Tools, rtTool{
			Type:        "function",
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	return map[string]interface{}{
		"type":    "session.update",
		"session": session,
	}, nil
}

func (t *rtTranslator) ToWire(msg api.RealtimeMessage) ([]interface{}, error) {
	switch m := msg.(type) {
	case api.AudioFrame:
		return []interface{}{map[string]interface{}{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(m.Data),
		}}, nil

	case api.AudioDone:
		// The caller is done talking; commit the buffer for a response.
		return []interface{}{map[string]interface{}{
			"type": "input_audio_buffer.commit",
		}}, nil

	case api.TextInput:
		return []interface{}{
			map[string]interface{}{
				"type": "conversation.item.create",
				"item": map[string]interface{}{
					"type": "message",
					"role": "user",
					"content": []map[string]interface{}{
						{"type": "input_text", "text": m.Text},
					},
				},
			},
			map[string]interface{}{"type": "response.create"},
		}, nil

	case api.FunctionResultMessage:
		return []interface{}{
			map[string]interface{}{
				"type": "conversation.item.create",
				"item": map[string]interface{}{
					"type":    "function_call_output",
					"call_id": m.CallID,
					"output":  m.Output,
				},
			},
			map[string]interface{}{"type": "response.create"},
		}, nil
	}

	// Everything else has no outbound wire form.
	return nil, nil
}

// Complete commits whatever input is buffered and asks for the response.
func (t *rtTranslator) Complete() ([]interface{}, error) {
	return []interface{}{
		map[string]interface{}{"type": "input_audio_buffer.commit"},
		map[string]interface{}{"type": "response.create"},
	}, nil
}

// rtEvent covers every inbound field this translator reads.
type rtEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	EventError *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (t *rtTranslator) FromWire(data []byte) ([]api.RealtimeResult, error) {
	var ev rtEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}

	one := func(msg api.RealtimeMessage) []api.RealtimeResult {
		return []api.RealtimeResult{{Message: msg}}
	}

	switch ev.Type {
	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, err
		}
		return one(api.AudioFrame{Data: audio}), nil

	case "response.audio.done":
		return one(api.AudioDone{ItemID: ev.ItemID}), nil

	case "response.audio_transcript.delta", "response.text.delta":
		return one(api.TextDelta{Text: ev.Delta}), nil

	case "response.audio_transcript.done", "response.text.done":
		return one(api.TextDelta{Final: true}), nil

	case "response.function_call_arguments.done":
		return one(api.FunctionCallMessage{
			CallID:    ev.CallID,
			Name:      ev.Name,
			Arguments: ev.Arguments,
		}), nil

	case "session.created":
		return one(api.StatusMessage{State: api.SessionConnected, Detail: ev.Type}), nil

	case "response.done":
		return one(api.StatusMessage{Detail: ev.Type}), nil

	case "error":
		code, typ, msg := "", "", "unknown error"
		if ev.EventError != nil {
			code, typ, msg = ev.EventError.Code, ev.EventError.Type, ev.EventError.Message
		}
		severity, terminal := classify(typ, code)
		return one(api.ErrorMessage{
			Code:     code,
			Message:  msg,
			Severity: severity,
			Terminal: terminal,
		}), nil
	}

	// Housekeeping events with no unified mapping are dropped.
	return nil, nil
}

// classify is the severity table for upstream error events. Session-fatal
// conditions end the session; protocol mistakes surface and continue.
func classify(errType, code string) (api.Severity, bool) {
	switch code {
	case "session_expired", "token_expired":
		return api.SeverityCritical, true
	case "rate_limit_exceeded":
		return api.SeverityWarning, false
	}
	switch errType {
	case "server_error":
		return api.SeverityCritical, true
	case "invalid_request_error":
		return api.SeverityError, false
	}
	return api.SeverityError, false
}
