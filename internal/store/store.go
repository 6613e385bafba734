package store

import (
	"context"

	"github.com/nulzo/refract/internal/store/model"
)

// Repository is the contract for the data layer.
type Repository interface {
	Requests() RequestRepository
	Models() ModelRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type RequestRepository interface {
	// Log stores a completed request.
	Log(ctx context.Context, log *model.RequestLog) error
	// GetByID returns a single request log.
	GetByID(ctx context.Context, id string) (*model.RequestLog, error)
	// GetRecent returns the last N logs.
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

type ModelRepository interface {
	// Sync replaces the enabled catalog with the given rows.
	Sync(ctx context.Context, models []model.Model) error
	// List returns all enabled catalog rows.
	List(ctx context.Context) ([]model.Model, error)
}
