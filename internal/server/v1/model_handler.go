package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/pkg/api"
)

type ModelHandler struct {
	service gateway.Service
}

func NewModelHandler(service gateway.Service) *ModelHandler {
	return &ModelHandler{service: service}
}

// ListModels serves GET /v1/models with the merged catalog across all
// registered providers.
func (h *ModelHandler) ListModels(c *gin.Context) {
	models, err := h.service.ListAllModels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	// Optional provider filter, e.g. ?provider=openai-main.
	if provider := c.Query("provider"); provider != "" {
		filtered := make([]api.ModelDefinition, 0, len(models))
		for _, m := range models {
			if m.ProviderID == provider {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}

	c.JSON(http.StatusOK, api.ModelList{
		Object: "list",
		Data:   models,
	})
}
