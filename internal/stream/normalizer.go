package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nulzo/refract/pkg/api"
)

// Normalizer rewrites a sequence of upstream events into unified chunks.
// One Normalizer serves one stream and must not be reused.
type Normalizer struct {
	ID       string // stable chunk id; generated when empty
	Model    string
	Created  int64
	EmitRole bool // emit the assistant role on the first chunk
}

// NewNormalizer builds a Normalizer with a fresh chunk id for the model.
func NewNormalizer(model string) *Normalizer {
	return &Normalizer{
		ID:       "chatcmpl-" + uuid.New().String(),
		Model:    model,
		Created:  time.Now().Unix(),
		EmitRole: true,
	}
}

// Normalize consumes events until the channel closes or an error event
// arrives, emitting unified chunks on the returned channel. The finish
// reason and usage are held back and emitted together as the single
// terminal chunk once the upstream is done. A close without a stop event
// still produces a terminal chunk, so consumers can rely on one always
// arriving. After an error result nothing else is sent.
func (n *Normalizer) Normalize(ctx context.Context, events <-chan Event) <-chan api.StreamResult {
	out := make(chan api.StreamResult)

	go func() {
		defer close(out)

		if n.ID == "" {
			n.ID = "chatcmpl-" + uuid.New().String()
		}
		if n.Created == 0 {
			n.Created = time.Now().Unix()
		}

		roleSent := !n.EmitRole
		finishReason := ""
		var usage *api.Usage

		for {
			select {
			case <-ctx.Done():
				n.send(ctx, out, api.StreamResult{Err: api.FromContext(ctx, "", "stream")})
				return

			case ev, ok := <-events:
				if !ok {
					// Upstream finished. Emit the one terminal chunk.
					if finishReason == "" {
						finishReason = "stop"
					}
					chunk := n.chunk()
					chunk.Choices[0].FinishReason = finishReason
					chunk.Usage = usage
					n.send(ctx, out, api.StreamResult{Chunk: chunk})
					return
				}

				switch ev.Kind {
				case KindContent:
					chunk := n.chunk()
					chunk.Choices[0].Delta.Content = ev.Content
					if !roleSent {
						chunk.Choices[0].Delta.Role = string(api.Assistant)
						roleSent = true
					}
					if !n.send(ctx, out, api.StreamResult{Chunk: chunk}) {
						return
					}

				case KindToolCall:
					chunk := n.chunk()
					chunk.Choices[0].Delta.ToolCalls = []api.ToolCallDelta{*ev.ToolCall}
					if !roleSent {
						chunk.Choices[0].Delta.Role = string(api.Assistant)
						roleSent = true
					}
					if !n.send(ctx, out, api.StreamResult{Chunk: chunk}) {
						return
					}

				case KindUsage:
					usage = ev.Usage

				case KindStop:
					if finishReason == "" {
						finishReason = ev.FinishReason
					}

				case KindError:
					n.send(ctx, out, api.StreamResult{Err: ev.Err})
					return
				}
			}
		}
	}()

	return out
}

func (n *Normalizer) chunk() *api.ChatCompletionChunk {
	return &api.ChatCompletionChunk{
		ID:      n.ID,
		Object:  "chat.completion.chunk",
		Created: n.Created,
		Model:   n.Model,
		Choices: []api.StreamingChoice{{Index: 0}},
	}
}

// send delivers one result unless the consumer has gone away. Returns
// false when the context ended first.
func (n *Normalizer) send(ctx context.Context, out chan<- api.StreamResult, res api.StreamResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
