package v1

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/refract/internal/store"
	"github.com/nulzo/refract/internal/store/model"
	"github.com/nulzo/refract/pkg/api"
)

type GenerationHandler struct {
	repo store.Repository
}

func NewGenerationHandler(repo store.Repository) *GenerationHandler {
	return &GenerationHandler{repo: repo}
}

// GetGeneration serves GET /v1/generation?id=... with the recorded metadata
// of one past request: tokens, latency, stream accounting and outcome.
func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		_ = c.Error(api.ValidationError("id: query parameter is required"))
		return
	}

	row, err := h.repo.Requests().GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.Header("Content-Type", "application/problem+json")
			c.AbortWithStatusJSON(http.StatusNotFound, api.Problem{
				Type:   "about:blank",
				Title:  "Not Found",
				Status: http.StatusNotFound,
				Detail: "no generation with id '" + id + "'",
			})
			return
		}
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toGenerationView(row)})
}

// generationView is the wire shape of one request log row. TTFT only
// applies to streamed requests, hence the pointer.
type generationView struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	Operation     string `json:"operation"`
	Model         string `json:"model"`
	UpstreamModel string `json:"upstream_model"`
	FinishReason  string `json:"finish_reason,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	LatencyMS     int64  `json:"latency_ms"`
	TTFTMS        *int64 `json:"ttft_ms,omitempty"`
	StatusCode    int    `json:"status_code"`
	Streamed      bool   `json:"streamed"`
	ChunkCount    int    `json:"chunk_count,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toGenerationView(row *model.RequestLog) generationView {
	view := generationView{
		ID:            row.ID,
		Provider:      row.ProviderID,
		Operation:     row.Operation,
		Model:         row.ModelAlias,
		UpstreamModel: row.UpstreamModelID,
		FinishReason:  row.FinishReason,
		ErrorKind:     row.ErrorKind,
		InputTokens:   row.InputTokens,
		OutputTokens:  row.OutputTokens,
		LatencyMS:     row.LatencyMS,
		StatusCode:    row.StatusCode,
		Streamed:      row.IsStreamed,
		ChunkCount:    row.ChunkCount,
		CreatedAt:     row.CreatedAt.UTC().Format(time.RFC3339),
	}
	if row.TTFTMS.Valid {
		ttft := row.TTFTMS.Int64
		view.TTFTMS = &ttft
	}
	return view
}
