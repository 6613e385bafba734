package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/gateway"
)

type HealthHandler struct {
	service   gateway.Service
	startTime time.Time
}

func NewHealthHandler(service gateway.Service) *HealthHandler {
	return &HealthHandler{
		service:   service,
		startTime: time.Now(),
	}
}

// Health serves GET /health. The endpoint stays 200 as long as the process
// can answer; individual provider failures show up in the providers map and
// flip the status to degraded.
func (h *HealthHandler) Health(c *gin.Context) {
	providers := h.service.Health(c.Request.Context())

	status := "ok"
	for _, state := range providers {
		if state != "ok" {
			status = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"uptime":    time.Since(h.startTime).String(),
		"time":      time.Now().UTC().Format(time.RFC3339),
		"providers": providers,
	})
}
