package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nulzo/refract/cmd"
	"github.com/nulzo/refract/internal/analytics"
	"github.com/nulzo/refract/internal/cli"
	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/gateway"
	"github.com/nulzo/refract/internal/platform/logger"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/internal/platform/otel"
	"github.com/nulzo/refract/internal/resilience"
	"github.com/nulzo/refract/internal/server"
	"github.com/nulzo/refract/internal/store/cache"
	"github.com/nulzo/refract/internal/store/sqlite"

	// Blank imports register the provider factories.
	_ "github.com/nulzo/refract/internal/llm/anthropic"
	_ "github.com/nulzo/refract/internal/llm/google"
	_ "github.com/nulzo/refract/internal/llm/openai"
	_ "github.com/nulzo/refract/internal/llm/replicate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	printBanner()
	go cmd.CheckForUpdates()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := otel.InitTracer(otel.Options{
			ServiceName: "refract",
			SampleRatio: cfg.Tracing.SampleRatio,
			Writer:      os.Stdout,
		}, log)
		if err != nil {
			log.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	repo, err := sqlite.NewStorage(cfg.Store.DSN)
	if err != nil {
		log.Fatal("failed to open store", zap.String("dsn", cfg.Store.DSN), zap.Error(err))
	}
	defer func() {
		_ = repo.Close()
	}()

	cacheSvc := buildCache(ctx, cfg, log)

	m := metrics.New(prometheus.DefaultRegisterer)
	metrics.SetDefault(m)

	ingestor := analytics.NewIngestor(log, repo)
	ingestor.Start(ctx)
	defer ingestor.Stop()

	policy := resilience.New(cfg.Resilience, log, m)
	service := gateway.NewService(log, ingestor, cacheSvc, policy, m, cfg.Routes)

	registered := gateway.BootstrapProviders(ctx, service, cfg.Providers, log)
	log.Info("gateway ready",
		zap.Int("providers", registered),
		zap.Int("routes", len(cfg.Routes)),
		zap.String("env", cfg.Server.Env),
	)

	refresher := gateway.NewRefresher(service, repo, cfg.Catalog.RefreshInterval, log)
	go refresher.Run(ctx)

	srv := server.New(cfg, log, service, analytics.NewService(repo), repo, m)
	if err := srv.Run(ctx); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

// buildCache prefers Redis when enabled and falls back to the in-process
// cache if the connection cannot be established.
func buildCache(ctx context.Context, cfg *config.Config, log *zap.Logger) cache.CacheService {
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			log.Info("using redis cache", zap.String("addr", cfg.Redis.Addr))
			return redisCache
		}
		log.Warn("redis unavailable, falling back to memory cache", zap.Error(err))
	}
	return cache.NewMemoryCache()
}

func printBanner() {
	name := "refract"
	var b strings.Builder
	for i, r := range name {
		progress := float64(i) / float64(len(name)-1)
		b.WriteString(cli.Gradient(string(r), cli.BrandBlue, cli.BrandPurple, progress))
	}
	fmt.Printf("\n  %s %s\n\n", b.String(), cli.Style(cmd.Version, cli.Dim))
}
