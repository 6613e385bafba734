package stream

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/refract/pkg/api"
)

func TestSplitWords_PreservesSpacing(t *testing.T) {
	text := "one two three four five six seven"
	pieces := SplitWords(text, 3)
	assert.Equal(t, []string{"one two three ", "four five six ", "seven"}, pieces)
	assert.Equal(t, text, strings.Join(pieces, ""))

	// Newlines and double spaces survive the cut.
	code := "func main() {\n\tprintln(\"hi\")\n}"
	assert.Equal(t, code, strings.Join(SplitWords(code, 3), ""))

	assert.Nil(t, SplitWords("", 3))
	assert.Equal(t, []string{"single"}, SplitWords("single", 3))
}

func TestEmitter_Synthesize(t *testing.T) {
	e := NewEmitter("meta/meta-llama-3-70b-instruct")
	out := make(chan api.StreamResult, 16)

	// Role goes out first, then the replay.
	out <- api.StreamResult{Chunk: e.Role()}
	ok := e.Synthesize(context.Background(), out, "The answer is forty two.", &api.Usage{TotalTokens: 12})
	assert.True(t, ok)
	close(out)

	var results []api.StreamResult
	for res := range out {
		results = append(results, res)
	}
	// role + ceil(5 words / 3) content chunks + terminal
	require.Len(t, results, 4)

	assert.Equal(t, "assistant", results[0].Chunk.Choices[0].Delta.Role)

	var text strings.Builder
	for _, res := range results[1 : len(results)-1] {
		assert.Empty(t, res.Chunk.Choices[0].Delta.Role)
		text.WriteString(res.Chunk.Choices[0].Delta.Content)
	}
	assert.Equal(t, "The answer is forty two.", text.String())

	terminal := results[len(results)-1].Chunk
	assert.True(t, terminal.IsTerminal())
	assert.Equal(t, 12, terminal.Usage.TotalTokens)

	// Same id and created stamp on every chunk.
	for _, res := range results {
		assert.Equal(t, e.ID, res.Chunk.ID)
		assert.Equal(t, e.Created, res.Chunk.Created)
	}
}

func TestEmitter_SynthesizeCanceled(t *testing.T) {
	e := NewEmitter("m")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered channel with no reader: only cancellation lets this return.
	out := make(chan api.StreamResult)
	ok := e.Synthesize(ctx, out, "some text here", nil)
	assert.False(t, ok)
}
