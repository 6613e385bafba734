package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/server/validator"
	"github.com/nulzo/refract/pkg/api"
)

type ImageHandler struct {
	service gateway.Service
}

func NewImageHandler(service gateway.Service) *ImageHandler {
	return &ImageHandler{service: service}
}

// GenerateImage serves POST /v1/images/generations.
func (h *ImageHandler) GenerateImage(c *gin.Context) {
	var req api.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseError(err)))
		return
	}

	resp, err := h.service.GenerateImage(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
