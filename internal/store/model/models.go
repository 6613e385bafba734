package model

import (
	"database/sql"
	"time"
)

// RequestLog captures one completed gateway operation, streaming or not.
// Failed operations are logged too, with the error kind and the mapped
// status code.
type RequestLog struct {
	ID              string        `db:"id" json:"id"`
	ProviderID      string        `db:"provider_id" json:"provider_id"`
	Operation       string        `db:"operation" json:"operation"`
	ModelAlias      string        `db:"model_alias" json:"model_alias"`
	ModelID         string        `db:"model_id" json:"model_id"`
	UpstreamModelID string        `db:"upstream_model_id" json:"upstream_model_id"`
	FinishReason    string        `db:"finish_reason" json:"finish_reason"`
	ErrorKind       string        `db:"error_kind" json:"error_kind,omitempty"`
	InputTokens     int           `db:"input_tokens" json:"input_tokens"`
	OutputTokens    int           `db:"output_tokens" json:"output_tokens"`
	LatencyMS       int64         `db:"latency_ms" json:"latency_ms"`
	TTFTMS          sql.NullInt64 `db:"ttft_ms" json:"ttft_ms,omitempty"`
	StatusCode      int           `db:"status_code" json:"status_code"`
	IsStreamed      bool          `db:"is_streamed" json:"is_streamed"`
	ChunkCount      int           `db:"chunk_count" json:"chunk_count"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// Model is one catalog row, synced from the providers at registration.
type Model struct {
	ID              string    `db:"id" json:"id"`
	ProviderID      string    `db:"provider_id" json:"provider_id"`
	UpstreamID      string    `db:"upstream_id" json:"upstream_id"`
	Name            string    `db:"name" json:"name"`
	OwnedBy         string    `db:"owned_by" json:"owned_by"`
	CapsJSON        string    `db:"caps_json" json:"caps_json"`
	MaxInputTokens  int       `db:"max_input_tokens" json:"max_input_tokens"`
	MaxOutputTokens int       `db:"max_output_tokens" json:"max_output_tokens"`
	IsEnabled       bool      `db:"is_enabled" json:"is_enabled"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DailyStats is one row of the usage overview aggregation.
type DailyStats struct {
	Date          string  `db:"date" json:"date"`
	TotalRequests int     `db:"total_requests" json:"total_requests"`
	TotalTokens   int64   `db:"total_tokens" json:"total_tokens"`
	ErrorCount    int     `db:"error_count" json:"error_count"`
	AvgLatency    float64 `db:"avg_latency" json:"avg_latency_ms"`
}
