package stream

import (
	"context"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/nulzo/refract/pkg/api"
)

// defaultWordsPerChunk is the cadence synthetic streams are cut at. Three
// words reads naturally in a terminal without inflating chunk counts.
const defaultWordsPerChunk = 3

// Emitter produces chunks for providers that never stream natively: the
// whole output arrives at once and is replayed as a synthetic stream. All
// chunks share one id and creation time. There is no artificial delay
// between chunks.
type Emitter struct {
	ID            string
	Model         string
	Created       int64
	WordsPerChunk int
}

// NewEmitter builds an Emitter with a fresh stream id.
func NewEmitter(model string) *Emitter {
	return &Emitter{
		ID:            "chatcmpl-" + uuid.New().String(),
		Model:         model,
		Created:       time.Now().Unix(),
		WordsPerChunk: defaultWordsPerChunk,
	}
}

// Role returns the opening chunk carrying only the assistant role. For
// job-backed providers it goes out right after submission, confirming the
// stream is alive while the job still runs.
func (e *Emitter) Role() *api.ChatCompletionChunk {
	chunk := e.chunk()
	chunk.Choices[0].Delta.Role = string(api.Assistant)
	return chunk
}

// Content returns a content-fragment chunk.
func (e *Emitter) Content(text string) *api.ChatCompletionChunk {
	chunk := e.chunk()
	chunk.Choices[0].Delta.Content = text
	return chunk
}

// Terminal returns the closing chunk with the finish reason and usage.
func (e *Emitter) Terminal(finishReason string, usage *api.Usage) *api.ChatCompletionChunk {
	if finishReason == "" {
		finishReason = "stop"
	}
	chunk := e.chunk()
	chunk.Choices[0].FinishReason = finishReason
	chunk.Usage = usage
	return chunk
}

// Synthesize replays a complete text on out as word-grouped content chunks
// followed by the terminal chunk. The role chunk is the caller's concern;
// it usually went out much earlier. Returns false when the context ended
// before the replay finished.
func (e *Emitter) Synthesize(ctx context.Context, out chan<- api.StreamResult, text string, usage *api.Usage) bool {
	for _, piece := range SplitWords(text, e.WordsPerChunk) {
		if !e.send(ctx, out, api.StreamResult{Chunk: e.Content(piece)}) {
			return false
		}
	}
	return e.send(ctx, out, api.StreamResult{Chunk: e.Terminal("stop", usage)})
}

func (e *Emitter) chunk() *api.ChatCompletionChunk {
	return &api.ChatCompletionChunk{
		ID:      e.ID,
		Object:  "chat.completion.chunk",
		Created: e.Created,
		Model:   e.Model,
		Choices: []api.StreamingChoice{{Index: 0}},
	}
}

func (e *Emitter) send(ctx context.Context, out chan<- api.StreamResult, res api.StreamResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// SplitWords cuts text into groups of per whitespace-delimited words. The
// original spacing survives: concatenating the pieces reproduces the input
// byte for byte, newlines and all.
func SplitWords(text string, per int) []string {
	if text == "" {
		return nil
	}
	if per <= 0 {
		per = defaultWordsPerChunk
	}

	var pieces []string
	start := 0
	words := 0
	inWord := false

	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				words++
				inWord = false
			}
			continue
		}
		// A word starts here. If the previous group is full, cut before it.
		if !inWord && words == per {
			pieces = append(pieces, text[start:i])
			start = i
			words = 0
		}
		inWord = true
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}
