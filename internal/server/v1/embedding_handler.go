package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/server/validator"
	"github.com/nulzo/refract/pkg/api"
)

type EmbeddingHandler struct {
	service gateway.Service
}

func NewEmbeddingHandler(service gateway.Service) *EmbeddingHandler {
	return &EmbeddingHandler{service: service}
}

// CreateEmbedding serves POST /v1/embeddings.
func (h *EmbeddingHandler) CreateEmbedding(c *gin.Context) {
	var req api.EmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseError(err)))
		return
	}
	if len(req.Input.Texts) == 0 {
		_ = c.Error(api.ValidationError("input: at least one text is required"))
		return
	}

	resp, err := h.service.Embeddings(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
