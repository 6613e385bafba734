package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/config"
)

type ConfigHandler struct {
	config *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{config: cfg}
}

// Get serves GET /v1/config with the operator view of the running
// configuration. Secrets never leave the process; providers are reduced to
// their identity and wiring.
func (h *ConfigHandler) Get(c *gin.Context) {
	providers := make([]gin.H, 0, len(h.config.Providers))
	for _, p := range h.config.Providers {
		providers = append(providers, gin.H{
			"id":       p.ID,
			"type":     p.Type,
			"name":     p.Name,
			"base_url": p.BaseURL,
			"enabled":  p.Enabled,
		})
	}

	routes := make([]gin.H, 0, len(h.config.Routes))
	for _, r := range h.config.Routes {
		routes = append(routes, gin.H{"alias": r.Alias, "target": r.Target})
	}

	c.JSON(http.StatusOK, gin.H{
		"env":       h.config.Server.Env,
		"providers": providers,
		"routes":    routes,
		"resilience": gin.H{
			"max_retries": h.config.Resilience.MaxRetries,
			"base_delay":  h.config.Resilience.BaseDelay.String(),
			"max_delay":   h.config.Resilience.MaxDelay.String(),
		},
		"jobs": gin.H{
			"poll_interval": h.config.Jobs.PollInterval.String(),
			"max_duration":  h.config.Jobs.MaxDuration.String(),
		},
		"catalog": gin.H{
			"refresh_interval": h.config.Catalog.RefreshInterval.String(),
		},
	})
}
