// Package capability decides which operations a model can serve. Known
// models come from the static catalog; unknown ones get a conservative
// guess inferred from their id. The gateway consults this before every
// dispatch so unsupported operations fail fast without a network call.
package capability

import (
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/nulzo/refract/internal/modeldata"
	"github.com/nulzo/refract/pkg/api"
)

// Operation names one gateway surface.
type Operation string

const (
	OpChat       Operation = "chat"
	OpStream     Operation = "stream"
	OpEmbeddings Operation = "embeddings"
	OpImage      Operation = "image_generation"
	OpSpeech     Operation = "speech"
	OpRealtime   Operation = "realtime"
)

// Resolve returns the capabilities of a model: the catalog entry when one
// exists, otherwise heuristics over the model id.
func Resolve(modelID string) api.ModelCapabilities {
	if def, ok := modeldata.Lookup(modelID); ok {
		return def.Capabilities
	}
	return Infer(modelID)
}

// Supports reports whether the capability set covers the operation.
func Supports(caps api.ModelCapabilities, op Operation) bool {
	switch op {
	case OpChat:
		return caps.Chat
	case OpStream:
		// Job-backed providers synthesize streams, so chat implies an
		// answerable stream request even without native streaming.
		return caps.Chat
	case OpEmbeddings:
		return caps.Embeddings
	case OpImage:
		return caps.ImageGeneration
	case OpSpeech:
		return caps.Speech
	case OpRealtime:
		return caps.Realtime
	}
	return false
}

// Check returns an unsupported-operation error when the model cannot serve
// op, nil otherwise.
func Check(provider, modelID string, op Operation) error {
	if Supports(Resolve(modelID), op) {
		return nil
	}
	return api.UnsupportedError(provider, string(op), "model "+modelID+" does not support "+string(op))
}

// familyVersion pulls the version component that follows a family name, so
// "gemini-1.5-pro" yields 1.5 and "claude-3-5-sonnet" yields 3.5. Returns
// nil when the id does not mention the family or carries no version.
func familyVersion(id, family string) *version.Version {
	re := regexp.MustCompile(regexp.QuoteMeta(family) + `-(\d+(?:[.-]\d+)?)`)
	m := re.FindStringSubmatch(id)
	if m == nil {
		return nil
	}
	v, err := version.NewVersion(strings.ReplaceAll(m[1], "-", "."))
	if err != nil {
		return nil
	}
	return v
}

// atLeast reports whether the id carries family version >= threshold.
func atLeast(id, family, threshold string) bool {
	v := familyVersion(id, family)
	if v == nil {
		return false
	}
	floor, err := version.NewVersion(threshold)
	if err != nil {
		return false
	}
	return v.GreaterThanOrEqual(floor)
}

// Infer guesses capabilities from the model id alone. The guess errs
// conservative: a wrong false means a 501 the operator can fix by adding a
// catalog entry, a wrong true means a confusing upstream error.
func Infer(modelID string) api.ModelCapabilities {
	id := strings.ToLower(modelID)
	// Replicate-style ids carry an owner prefix.
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}

	switch {
	case strings.Contains(id, "embed"):
		return api.ModelCapabilities{Embeddings: true}

	case strings.Contains(id, "tts") || strings.Contains(id, "speech"):
		return api.ModelCapabilities{Speech: true}

	case strings.Contains(id, "dall-e") ||
		strings.Contains(id, "sdxl") ||
		strings.Contains(id, "stable-diffusion") ||
		strings.Contains(id, "flux") ||
		strings.Contains(id, "imagen"):
		return api.ModelCapabilities{ImageGeneration: true}

	case strings.Contains(id, "realtime"):
		return api.ModelCapabilities{Chat: true, Streaming: true, Realtime: true, FunctionCalling: true}
	}

	caps := api.ModelCapabilities{Chat: true, Streaming: true}

	// Family thresholds where vision and tool use arrived.
	switch {
	case strings.Contains(id, "gpt-4o") || strings.Contains(id, "-vision"):
		caps.Vision = true
		caps.FunctionCalling = true
	case atLeast(id, "gpt", "4"):
		caps.FunctionCalling = true
	case strings.Contains(id, "gpt-3.5"):
		caps.FunctionCalling = true
	case atLeast(id, "claude", "3"):
		caps.Vision = true
		caps.FunctionCalling = true
	case atLeast(id, "gemini", "1.5"):
		caps.Vision = true
		caps.FunctionCalling = true
	}

	return caps
}
