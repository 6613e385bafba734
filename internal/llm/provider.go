package llm

import (
	"context"

	"github.com/nulzo/refract/internal/realtime"
	"github.com/nulzo/refract/pkg/api"
)

type ProviderName string

const (
	OpenAI    ProviderName = "openai"
	Anthropic ProviderName = "anthropic"
	Google    ProviderName = "google"
	Replicate ProviderName = "replicate"
)

// Provider is the contract every upstream adapter satisfies. Adapters
// translate unified requests into their wire protocol and fold failures
// into the gateway error taxonomy; callers never see raw transport errors.
type Provider interface {
	Name() string
	Type() string // e.g., "openai", "anthropic"
	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
	Stream(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error)
	Models(ctx context.Context) ([]api.ModelDefinition, error)
	Health(ctx context.Context) error
}

// Embedder is implemented by providers that serve embedding requests.
// Chat-only adapters simply never implement it.
type Embedder interface {
	Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error)
}

// ImageGenerator is implemented by providers that serve image generation.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *api.ImageRequest) (*api.ImageResponse, error)
}

// SpeechSynthesizer is implemented by providers that serve text-to-speech.
type SpeechSynthesizer interface {
	Speech(ctx context.Context, req *api.SpeechRequest) (*api.SpeechResponse, error)
}

// RealtimeCapable is implemented by providers that can open bidirectional
// realtime audio sessions.
type RealtimeCapable interface {
	Realtime(ctx context.Context, cfg api.SessionConfig) (*realtime.Session, error)
}
