package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/server/validator"
	"github.com/nulzo/refract/pkg/api"
)

type ChatHandler struct {
	service gateway.Service
}

func NewChatHandler(service gateway.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// CreateCompletion serves POST /v1/chat/completions. The stream flag on the
// request selects between one JSON body and an SSE chunk stream.
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseError(err)))
		return
	}

	if req.Stream {
		h.streamCompletion(c, &req)
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) streamCompletion(c *gin.Context, req *api.ChatRequest) {
	streamChan, err := h.service.StreamChat(c.Request.Context(), req)
	if err != nil {
		// Nothing has been written yet, so the error can still go out as a
		// problem document.
		_ = c.Error(err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if result.Err != nil {
			// Mid-stream failures ride inside the stream; the status line
			// already went out.
			payload, _ := json.Marshal(gin.H{"error": api.AsProblem(result.Err)})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			return false
		}

		payload, err := json.Marshal(result.Chunk)
		if err != nil {
			return false
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		return err == nil
	})
}
