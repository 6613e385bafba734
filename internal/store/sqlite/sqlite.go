package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nulzo/refract/internal/store"
	"github.com/nulzo/refract/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository implements store.Repository on sqlite.
type Repository struct {
	db       *sqlx.DB // required for starting new transactions
	executor DB       // used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:       db,
		executor: db,
	}
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &Repository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *Repository) Requests() store.RequestRepository {
	return &requestRepo{db: r.executor}
}

func (r *Repository) Models() store.ModelRepository {
	return &modelRepo{db: r.executor}
}

type requestRepo struct {
	db DB
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	query := `
	INSERT INTO request_logs (
		id, provider_id, operation, model_alias, model_id, upstream_model_id,
		finish_reason, error_kind, input_tokens, output_tokens,
		latency_ms, ttft_ms, status_code, is_streamed, chunk_count, created_at
	) VALUES (
		:id, :provider_id, :operation, :model_alias, :model_id, :upstream_model_id,
		:finish_reason, :error_kind, :input_tokens, :output_tokens,
		:latency_ms, :ttft_ms, :status_code, :is_streamed, :chunk_count, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, log)
	return err
}

func (r *requestRepo) GetByID(ctx context.Context, id string) (*model.RequestLog, error) {
	var log model.RequestLog
	if err := r.db.GetContext(ctx, &log, `SELECT * FROM request_logs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *requestRepo) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	var logs []model.RequestLog
	query := `SELECT * FROM request_logs ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &logs, query, limit)
	return logs, err
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	var stats []model.DailyStats
	query := `
		SELECT
			DATE(created_at) as date,
			COUNT(*) as total_requests,
			SUM(input_tokens + output_tokens) as total_tokens,
			SUM(CASE WHEN error_kind != '' THEN 1 ELSE 0 END) as error_count,
			AVG(latency_ms) as avg_latency
		FROM request_logs
		WHERE created_at >= DATE('now', ?)
		GROUP BY date
		ORDER BY date DESC
	`
	// SQLite date offset format is '-7 days'
	err := r.db.SelectContext(ctx, &stats, query, fmt.Sprintf("-%d days", days))
	return stats, err
}

type modelRepo struct {
	db DB
}

func (r *modelRepo) Sync(ctx context.Context, models []model.Model) error {
	// Mark everything disabled first; the upsert loop re-enables what the
	// providers still serve.
	if _, err := r.db.ExecContext(ctx, `UPDATE models SET is_enabled = 0`); err != nil {
		return err
	}

	query := `
	INSERT INTO models (
		id, provider_id, upstream_id, name, owned_by, caps_json,
		max_input_tokens, max_output_tokens, is_enabled,
		created_at, updated_at
	) VALUES (
		:id, :provider_id, :upstream_id, :name, :owned_by, :caps_json,
		:max_input_tokens, :max_output_tokens, :is_enabled,
		CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
	)
	ON CONFLICT(id) DO UPDATE SET
		provider_id = excluded.provider_id,
		upstream_id = excluded.upstream_id,
		name = excluded.name,
		owned_by = excluded.owned_by,
		caps_json = excluded.caps_json,
		max_input_tokens = excluded.max_input_tokens,
		max_output_tokens = excluded.max_output_tokens,
		is_enabled = excluded.is_enabled,
		updated_at = CURRENT_TIMESTAMP`

	for _, m := range models {
		if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *modelRepo) List(ctx context.Context) ([]model.Model, error) {
	var models []model.Model
	err := r.db.SelectContext(ctx, &models, `SELECT * FROM models WHERE is_enabled = 1 ORDER BY id`)
	return models, err
}
