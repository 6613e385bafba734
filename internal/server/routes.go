package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nulzo/refract/internal/server/middleware"
	v1 "github.com/nulzo/refract/internal/server/v1"
)

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	// Public surface for load balancers and scrapers.
	healthHandler := v1.NewHealthHandler(s.service)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(
		s.config.RateLimit.RequestsPerSecond,
		s.config.RateLimit.Burst,
		s.logger,
	)

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.config.Server.Key))
	api.Use(limiter.Middleware())
	{
		chatHandler := v1.NewChatHandler(s.service)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		embeddingHandler := v1.NewEmbeddingHandler(s.service)
		api.POST("/embeddings", embeddingHandler.CreateEmbedding)

		imageHandler := v1.NewImageHandler(s.service)
		api.POST("/images/generations", imageHandler.GenerateImage)

		speechHandler := v1.NewSpeechHandler(s.service)
		api.POST("/audio/speech", speechHandler.CreateSpeech)

		modelHandler := v1.NewModelHandler(s.service)
		api.GET("/models", modelHandler.ListModels)

		realtimeHandler := v1.NewRealtimeHandler(s.service, s.metrics, s.logger)
		api.GET("/realtime", realtimeHandler.Open)

		analyticsHandler := v1.NewAnalyticsHandler(s.analytics)
		api.GET("/usage", analyticsHandler.GetUsage)
		api.GET("/usage/requests", analyticsHandler.GetRecentRequests)

		generationHandler := v1.NewGenerationHandler(s.repo)
		api.GET("/generation", generationHandler.GetGeneration)

		configHandler := v1.NewConfigHandler(s.config)
		api.GET("/config", configHandler.Get)
	}
}
