package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/pkg/api"
)

const bridgeWriteWait = 10 * time.Second

type RealtimeHandler struct {
	service  gateway.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(service gateway.Service, m *metrics.Metrics, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		service: service,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Origin policy is handled by the CORS layer; the bridge
			// accepts whoever got this far.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Open serves GET /v1/realtime. It dials the upstream session first, then
// upgrades the client connection and relays messages both ways until either
// side ends. Session parameters arrive as query values since WebSocket
// upgrades carry no body.
func (h *RealtimeHandler) Open(c *gin.Context) {
	model := c.Query("model")
	if model == "" {
		_ = c.Error(api.ValidationError("model: query parameter is required"))
		return
	}

	cfg := api.SessionConfig{
		Voice:             c.Query("voice"),
		Language:          c.Query("language"),
		Instructions:      c.Query("instructions"),
		InputAudioFormat:  c.Query("input_audio_format"),
		OutputAudioFormat: c.Query("output_audio_format"),
	}

	session, err := h.service.Realtime(c.Request.Context(), model, cfg)
	if err != nil {
		_ = c.Error(err)
		return
	}
	provider := session.Provider()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own HTTP error.
		_ = session.Close()
		return
	}

	h.metrics.RealtimeSessions.WithLabelValues(provider).Inc()
	defer h.metrics.RealtimeSessions.WithLabelValues(provider).Dec()

	h.logger.Info("realtime bridge opened",
		zap.String("model", model),
		zap.String("provider", provider),
	)

	clientDone := make(chan struct{})

	// Client to upstream.
	go func() {
		defer close(clientDone)
		for {
			var env realtimeEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}

			if env.Type == "complete" {
				if err := session.Complete(c.Request.Context()); err != nil {
					return
				}
				h.metrics.RealtimeMessages.WithLabelValues(provider, "inbound").Inc()
				continue
			}

			msg, err := env.toMessage()
			if err != nil {
				h.logger.Warn("unusable client frame",
					zap.String("type", env.Type),
					zap.Error(err),
				)
				continue
			}

			if err := session.Send(c.Request.Context(), msg); err != nil {
				return
			}
			h.metrics.RealtimeMessages.WithLabelValues(provider, "inbound").Inc()
		}
	}()

	// Upstream to client.
relay:
	for {
		select {
		case res, ok := <-session.Receive():
			if !ok {
				break relay
			}
			_ = conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := conn.WriteJSON(fromResult(res)); err != nil {
				break relay
			}
			h.metrics.RealtimeMessages.WithLabelValues(provider, "outbound").Inc()
		case <-clientDone:
			break relay
		}
	}

	_ = session.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	h.logger.Info("realtime bridge closed",
		zap.String("model", model),
		zap.String("provider", provider),
	)
}

// realtimeEnvelope is the client-side wire shape of a realtime message,
// one flat struct for all variants keyed by Type. Audio is base64 on the
// wire, which encoding/json handles for []byte.
type realtimeEnvelope struct {
	Type      string `json:"type"`
	Audio     []byte `json:"audio,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Final     bool   `json:"final,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	State     string `json:"state,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
}

// toMessage maps a client frame onto the unified message set. Clients may
// send audio, text and function results; "complete" is intercepted before
// this mapping, and everything else is theirs to receive only.
func (e realtimeEnvelope) toMessage() (api.RealtimeMessage, error) {
	switch e.Type {
	case "audio":
		return api.AudioFrame{Data: e.Audio}, nil
	case "text":
		return api.TextInput{Text: e.Text}, nil
	case "function_result":
		return api.FunctionResultMessage{CallID: e.CallID, Output: e.Output}, nil
	default:
		return nil, errors.New("unknown client message type '" + e.Type + "'")
	}
}

// fromResult maps one upstream result onto the client wire shape.
func fromResult(res api.RealtimeResult) realtimeEnvelope {
	if res.Err != nil {
		return realtimeEnvelope{
			Type:     "error",
			Message:  res.Err.Error(),
			Severity: string(api.SeverityCritical),
			Terminal: true,
		}
	}

	switch m := res.Message.(type) {
	case api.AudioFrame:
		return realtimeEnvelope{Type: "audio", Audio: m.Data}
	case api.AudioDone:
		return realtimeEnvelope{Type: "audio_done", ItemID: m.ItemID}
	case api.TextDelta:
		return realtimeEnvelope{Type: "text_delta", Text: m.Text, Final: m.Final}
	case api.FunctionCallMessage:
		return realtimeEnvelope{Type: "function_call", CallID: m.CallID, Name: m.Name, Arguments: m.Arguments}
	case api.FunctionResultMessage:
		return realtimeEnvelope{Type: "function_result", CallID: m.CallID, Output: m.Output}
	case api.StatusMessage:
		return realtimeEnvelope{Type: "status", State: string(m.State), Detail: m.Detail}
	case api.ErrorMessage:
		return realtimeEnvelope{
			Type:     "error",
			Code:     m.Code,
			Message:  m.Message,
			Severity: string(m.Severity),
			Terminal: m.Terminal,
		}
	default:
		return realtimeEnvelope{Type: "status", Detail: "unmapped upstream message"}
	}
}
