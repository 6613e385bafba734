// Package server is the inbound HTTP surface: gin engine, middleware chain
// and the v1 route table over the gateway service.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/analytics"
	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/internal/server/middleware"
	"github.com/nulzo/refract/internal/server/validator"
	"github.com/nulzo/refract/internal/store"
)

type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    *zap.Logger
	service   gateway.Service
	analytics analytics.Service
	repo      store.Repository
	metrics   *metrics.Metrics
}

func New(
	cfg *config.Config,
	logger *zap.Logger,
	service gateway.Service,
	analyticsSvc analytics.Service,
	repo store.Repository,
	m *metrics.Metrics,
) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.Init()

	engine := gin.New()
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing("refract"))
	}

	s := &Server{
		router:    engine,
		config:    cfg,
		logger:    logger,
		service:   service,
		analytics: analyticsSvc,
		repo:      repo,
		metrics:   m,
	}

	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then drains in-flight requests for up
// to ten seconds.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("server listening", zap.String("port", s.config.Server.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
