package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/store"
	"github.com/nulzo/refract/internal/store/model"
)

// Refresher re-harvests provider catalogs on an interval and mirrors the
// merged result into the store, so routing and the persisted catalog both
// track upstream model churn without a restart.
type Refresher struct {
	service  Service
	repo     store.Repository
	interval time.Duration
	logger   *zap.Logger
}

func NewRefresher(service Service, repo store.Repository, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Refresher{
		service:  service,
		repo:     repo,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled. The registry is already warm from
// provider registration, so the first pass only mirrors it into the store;
// upstream re-harvests happen on the ticker.
func (r *Refresher) Run(ctx context.Context) {
	r.persist(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.service.RefreshCatalog(ctx); err != nil {
				r.logger.Warn("catalog refresh aborted", zap.Error(err))
				continue
			}
			r.persist(ctx)
		}
	}
}

// persist mirrors the registry's current catalog into the store.
func (r *Refresher) persist(ctx context.Context) {
	defs, err := r.service.ListAllModels(ctx)
	if err != nil {
		r.logger.Warn("model catalog listing failed, skipping sync", zap.Error(err))
		return
	}

	rows := make([]model.Model, 0, len(defs))
	for _, def := range defs {
		caps, err := json.Marshal(def.Capabilities)
		if err != nil {
			continue
		}
		rows = append(rows, model.Model{
			ID:              def.ID,
			ProviderID:      def.ProviderID,
			UpstreamID:      def.UpstreamID,
			Name:            def.Name,
			OwnedBy:         def.OwnedBy,
			CapsJSON:        string(caps),
			MaxInputTokens:  def.Capabilities.MaxInputTokens,
			MaxOutputTokens: def.Capabilities.MaxOutputTokens,
			IsEnabled:       def.Enabled,
		})
	}

	if err := r.repo.Models().Sync(ctx, rows); err != nil {
		r.logger.Warn("model catalog sync failed", zap.Error(err))
		return
	}
	r.logger.Info("model catalog synced", zap.Int("models", len(rows)))
}
