package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nulzo/refract/pkg/api"
)

func TestResolve_CatalogHit(t *testing.T) {
	caps := Resolve("gpt-4o")
	assert.True(t, caps.Chat)
	assert.True(t, caps.Vision)
	assert.Equal(t, 128000, caps.MaxInputTokens)

	caps = Resolve("tts-1")
	assert.True(t, caps.Speech)
	assert.False(t, caps.Chat)
}

func TestInfer_Heuristics(t *testing.T) {
	// Embedding and media models never chat.
	assert.True(t, Infer("my-custom-embedding-v2").Embeddings)
	assert.False(t, Infer("my-custom-embedding-v2").Chat)
	assert.True(t, Infer("acme-tts-mega").Speech)
	assert.True(t, Infer("black-forest-labs/flux-dev").ImageGeneration)

	// Realtime names imply the whole conversational stack.
	rt := Infer("gpt-5o-realtime-exp")
	assert.True(t, rt.Realtime)
	assert.True(t, rt.Chat)

	// Unknown chat models default to text-only chat.
	plain := Infer("mistral-7b-instruct")
	assert.True(t, plain.Chat)
	assert.False(t, plain.Vision)
}

func TestInfer_FamilyVersions(t *testing.T) {
	// Vision and tools arrived at known family thresholds.
	assert.True(t, Infer("claude-3-9-sonnet").Vision)
	assert.False(t, Infer("claude-2.1").Vision)
	assert.True(t, Infer("gemini-2.0-flash-exp").Vision)
	assert.False(t, Infer("gemini-1.0-pro").Vision)
	assert.True(t, Infer("gpt-4.1-nano").FunctionCalling)
}

func TestSupports_StreamFollowsChat(t *testing.T) {
	// Chat-capable models can always answer a stream request, natively or
	// through synthesis.
	caps := api.ModelCapabilities{Chat: true}
	assert.True(t, Supports(caps, OpStream))
	assert.False(t, Supports(api.ModelCapabilities{Embeddings: true}, OpStream))
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("openai", "gpt-4o", OpChat))

	err := Check("openai", "text-embedding-3-small", OpChat)
	assert.Error(t, err)
	assert.Equal(t, api.KindUnsupported, api.KindOf(err))
}
