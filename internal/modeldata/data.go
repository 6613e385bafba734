// Package modeldata is the static catalog of models the gateway knows
// about. Upstream model listings rarely carry capability flags, so this
// table is the source of truth; the capability package falls back to
// name heuristics for anything not listed here.
package modeldata

import "github.com/nulzo/refract/pkg/api"

var KnownModels = map[string]api.ModelDefinition{
	// OpenAI
	"gpt-4o": {
		Name:        "GPT-4o",
		OwnedBy:     "openai",
		Description: "OpenAI's fastest multimodal flagship.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 128000, MaxOutputTokens: 16384,
		},
	},
	"gpt-4o-mini": {
		Name:        "GPT-4o mini",
		OwnedBy:     "openai",
		Description: "Small, cheap multimodal model.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 128000, MaxOutputTokens: 16384,
		},
	},
	"gpt-4-turbo": {
		Name:        "GPT-4 Turbo",
		OwnedBy:     "openai",
		Description: "GPT-4 with JSON mode and parallel function calling.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 128000, MaxOutputTokens: 4096,
		},
	},
	"gpt-3.5-turbo": {
		Name:        "GPT-3.5 Turbo",
		OwnedBy:     "openai",
		Description: "Cost-effective workhorse of the GPT-3.5 family.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, FunctionCalling: true,
			MaxInputTokens: 16385, MaxOutputTokens: 4096,
		},
	},
	"gpt-4o-realtime-preview": {
		Name:        "GPT-4o Realtime",
		OwnedBy:     "openai",
		Description: "Speech-to-speech model served over WebSocket.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Realtime: true, FunctionCalling: true,
			MaxInputTokens: 128000, MaxOutputTokens: 4096,
		},
	},
	"text-embedding-3-small": {
		Name:        "Text Embedding 3 Small",
		OwnedBy:     "openai",
		Description: "Embedding model, 1536 dimensions by default.",
		Capabilities: api.ModelCapabilities{
			Embeddings:     true,
			MaxInputTokens: 8191,
		},
	},
	"text-embedding-3-large": {
		Name:        "Text Embedding 3 Large",
		OwnedBy:     "openai",
		Description: "Embedding model, 3072 dimensions by default.",
		Capabilities: api.ModelCapabilities{
			Embeddings:     true,
			MaxInputTokens: 8191,
		},
	},
	"dall-e-3": {
		Name:        "DALL-E 3",
		OwnedBy:     "openai",
		Description: "Text-to-image generation.",
		Capabilities: api.ModelCapabilities{
			ImageGeneration: true,
		},
	},
	"tts-1": {
		Name:        "TTS-1",
		OwnedBy:     "openai",
		Description: "Text-to-speech tuned for realtime latency.",
		Capabilities: api.ModelCapabilities{
			Speech: true,
		},
	},
	"tts-1-hd": {
		Name:        "TTS-1 HD",
		OwnedBy:     "openai",
		Description: "Text-to-speech tuned for quality.",
		Capabilities: api.ModelCapabilities{
			Speech: true,
		},
	},

	// Anthropic
	"claude-3-5-sonnet-20240620": {
		Name:        "Claude 3.5 Sonnet",
		OwnedBy:     "anthropic",
		Description: "Anthropic's most intelligent model.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 200000, MaxOutputTokens: 8192,
		},
	},
	"claude-3-opus-20240229": {
		Name:        "Claude 3 Opus",
		OwnedBy:     "anthropic",
		Description: "Powerful model for highly complex tasks.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 200000, MaxOutputTokens: 4096,
		},
	},
	"claude-3-haiku-20240307": {
		Name:        "Claude 3 Haiku",
		OwnedBy:     "anthropic",
		Description: "Fast and compact model for near-instant responsiveness.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 200000, MaxOutputTokens: 4096,
		},
	},

	// Gemini
	"gemini-1.5-pro": {
		Name:        "Gemini 1.5 Pro",
		OwnedBy:     "google",
		Description: "Mid-size multimodal model with a very large context window.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 2000000, MaxOutputTokens: 8192,
		},
	},
	"gemini-1.5-flash": {
		Name:        "Gemini 1.5 Flash",
		OwnedBy:     "google",
		Description: "Fast and versatile multimodal model.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true, Vision: true, FunctionCalling: true,
			MaxInputTokens: 1000000, MaxOutputTokens: 8192,
		},
	},
	"text-embedding-004": {
		Name:        "Text Embedding 004",
		OwnedBy:     "google",
		Description: "Gemini embedding model, 768 dimensions.",
		Capabilities: api.ModelCapabilities{
			Embeddings:     true,
			MaxInputTokens: 2048,
		},
	},

	// Replicate
	"meta/meta-llama-3-70b-instruct": {
		Name:        "Llama 3 70B Instruct",
		OwnedBy:     "meta",
		Description: "Open-weights instruct model served through async predictions.",
		Capabilities: api.ModelCapabilities{
			Chat: true, Streaming: true,
			MaxInputTokens: 8192, MaxOutputTokens: 4096,
		},
	},
	"stability-ai/sdxl": {
		Name:        "Stable Diffusion XL",
		OwnedBy:     "stability-ai",
		Description: "Text-to-image generation through async predictions.",
		Capabilities: api.ModelCapabilities{
			ImageGeneration: true,
		},
	},
	"black-forest-labs/flux-schnell": {
		Name:        "FLUX.1 schnell",
		OwnedBy:     "black-forest-labs",
		Description: "Fast text-to-image generation through async predictions.",
		Capabilities: api.ModelCapabilities{
			ImageGeneration: true,
		},
	},
}

// Lookup returns the catalog entry for an upstream model id.
func Lookup(id string) (api.ModelDefinition, bool) {
	def, ok := KnownModels[id]
	if ok {
		def.UpstreamID = id
		if def.ID == "" {
			def.ID = id
		}
	}
	return def, ok
}
