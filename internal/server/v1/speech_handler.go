package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/server/validator"
	"github.com/nulzo/refract/pkg/api"
)

type SpeechHandler struct {
	service gateway.Service
}

func NewSpeechHandler(service gateway.Service) *SpeechHandler {
	return &SpeechHandler{service: service}
}

// CreateSpeech serves POST /v1/audio/speech. The response body is the raw
// audio; model and alias travel in headers since there is no JSON envelope.
func (h *SpeechHandler) CreateSpeech(c *gin.Context) {
	var req api.SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseError(err)))
		return
	}

	resp, err := h.service.Speech(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("X-Model", resp.ModelAlias)
	c.Data(http.StatusOK, resp.ContentType(), resp.Audio)
}
