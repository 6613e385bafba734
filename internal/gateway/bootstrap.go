package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/cli"
	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/llm"
)

// BootstrapProviders initializes and registers all enabled providers from
// configuration. Providers that fail validation, construction or their
// health check are skipped, not fatal; the gateway serves whatever subset
// came up.
func BootstrapProviders(ctx context.Context, service Service, providers []config.ProviderConfig, log *zap.Logger) int {
	registeredCount := 0
	validate := validator.New()

	for _, pCfg := range providers {
		if !pCfg.Enabled {
			continue
		}

		if err := validate.Struct(&pCfg); err != nil {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Style(fmt.Sprintf("%s\t", pCfg.ID), cli.Dim),
				cli.Style("skipping provider with incomplete configuration", cli.Yellow),
			))
			continue
		}

		factoryFunc, err := llm.Get(pCfg.Type)
		if err != nil {
			log.Error("unknown provider type", zap.String("type", pCfg.Type))
			continue
		}

		providerInstance, err := factoryFunc(pCfg)
		if err != nil {
			log.Error("failed to initialize provider",
				zap.String("id", pCfg.ID),
				zap.Error(err),
			)
			continue
		}

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := providerInstance.Health(healthCtx); err != nil {
			cancel()
			log.Error("provider unhealthy, skipping registration",
				zap.String("id", pCfg.ID),
				zap.Error(err))
			continue
		}
		cancel()

		if err := service.RegisterProvider(ctx, providerInstance); err != nil {
			log.Error("failed to register provider", zap.String("id", pCfg.ID), zap.Error(err))
			continue
		}

		registeredCount++
	}

	if registeredCount == 0 {
		log.Warn("no providers were registered, every route will fail")
	}

	return registeredCount
}
