// Seeds the local database with a catalog snapshot and a week of synthetic
// traffic so the usage and generation endpoints have data to show during
// development.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/nulzo/refract/internal/store/model"
	"github.com/nulzo/refract/internal/store/sqlite"
)

type trafficShape struct {
	provider string
	op       string
	alias    string
	modelID  string
	upstream string
	streamed bool
}

var shapes = []trafficShape{
	{"openai-main", "chat", "fast-chat", "openai/gpt-4o-mini", "gpt-4o-mini", false},
	{"openai-main", "stream", "fast-chat", "openai/gpt-4o-mini", "gpt-4o-mini", true},
	{"anthropic-main", "chat", "smart-chat", "anthropic/claude-3-5-sonnet", "claude-3-5-sonnet-20241022", false},
	{"anthropic-main", "stream", "smart-chat", "anthropic/claude-3-5-sonnet", "claude-3-5-sonnet-20241022", true},
	{"openai-main", "embeddings", "", "openai/text-embedding-3-small", "text-embedding-3-small", false},
	{"replicate-main", "image", "", "replicate/flux-schnell", "black-forest-labs/flux-schnell", false},
}

func main() {
	dsn := flag.String("dsn", "refract.db", "sqlite dsn to seed")
	count := flag.Int("count", 250, "number of request logs to generate")
	flag.Parse()

	repo, err := sqlite.NewStorage(*dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = repo.Close()
	}()

	ctx := context.Background()

	if err := repo.Models().Sync(ctx, catalog()); err != nil {
		log.Fatal(err)
	}

	now := time.Now()
	for i := 0; i < *count; i++ {
		s := shapes[rand.IntN(len(shapes))]
		row := synthesize(s, now)
		if err := repo.Requests().Log(ctx, row); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Printf("Seeded %d request logs into %s\n", *count, *dsn)
	fmt.Println("Try: curl localhost:8080/v1/usage")
}

// synthesize fabricates one plausible request log somewhere in the last
// seven days. Roughly one in twenty rows is a failed request.
func synthesize(s trafficShape, now time.Time) *model.RequestLog {
	age := time.Duration(rand.IntN(7*24*60)) * time.Minute
	latency := int64(200 + rand.IntN(2800))

	row := &model.RequestLog{
		ID:              uuid.New().String(),
		ProviderID:      s.provider,
		Operation:       s.op,
		ModelAlias:      s.alias,
		ModelID:         s.modelID,
		UpstreamModelID: s.upstream,
		FinishReason:    "stop",
		InputTokens:     20 + rand.IntN(400),
		OutputTokens:    10 + rand.IntN(600),
		LatencyMS:       latency,
		StatusCode:      200,
		IsStreamed:      s.streamed,
		CreatedAt:       now.Add(-age),
	}

	if s.streamed {
		row.TTFTMS = sql.NullInt64{Int64: latency / 4, Valid: true}
		row.ChunkCount = 10 + rand.IntN(50)
	}

	if rand.IntN(20) == 0 {
		row.FinishReason = ""
		row.ErrorKind = "communication"
		row.StatusCode = 502
		row.OutputTokens = 0
	}

	return row
}

func catalog() []model.Model {
	return []model.Model{
		{
			ID:         "openai/gpt-4o-mini",
			ProviderID: "openai-main",
			UpstreamID: "gpt-4o-mini",
			Name:       "GPT-4o mini",
			OwnedBy:    "openai",
			CapsJSON:   `{"chat":true,"streaming":true,"vision":true,"function_calling":true}`,
			IsEnabled:  true,
		},
		{
			ID:         "anthropic/claude-3-5-sonnet",
			ProviderID: "anthropic-main",
			UpstreamID: "claude-3-5-sonnet-20241022",
			Name:       "Claude 3.5 Sonnet",
			OwnedBy:    "anthropic",
			CapsJSON:   `{"chat":true,"streaming":true,"vision":true,"function_calling":true}`,
			IsEnabled:  true,
		},
		{
			ID:         "openai/text-embedding-3-small",
			ProviderID: "openai-main",
			UpstreamID: "text-embedding-3-small",
			Name:       "Text Embedding 3 Small",
			OwnedBy:    "openai",
			CapsJSON:   `{"embeddings":true}`,
			IsEnabled:  true,
		},
		{
			ID:         "replicate/flux-schnell",
			ProviderID: "replicate-main",
			UpstreamID: "black-forest-labs/flux-schnell",
			Name:       "FLUX.1 schnell",
			OwnedBy:    "black-forest-labs",
			CapsJSON:   `{"image_generation":true}`,
			IsEnabled:  true,
		},
	}
}
