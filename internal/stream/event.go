// Package stream turns heterogeneous upstream deltas into the unified
// chunk contract: one stable id per stream, the assistant role only on the
// first delta, and exactly one terminal chunk delivered last. Adapters
// reduce their wire formats to Events; the Normalizer does the rest.
package stream

import "github.com/nulzo/refract/pkg/api"

// EventKind discriminates the Event union.
type EventKind int

const (
	// KindContent is a fragment of assistant text.
	KindContent EventKind = iota
	// KindToolCall is a fragment of a tool invocation.
	KindToolCall
	// KindUsage carries token accounting, attached to the terminal chunk.
	KindUsage
	// KindStop names the finish reason. At most one per stream.
	KindStop
	// KindError aborts the stream. Nothing may follow it.
	KindError
)

// Event is the provider-neutral intermediate form of one upstream delta.
type Event struct {
	Kind         EventKind
	Content      string
	ToolCall     *api.ToolCallDelta
	Usage        *api.Usage
	FinishReason string
	Err          error
}

// ContentEvent returns a text fragment event.
func ContentEvent(text string) Event {
	return Event{Kind: KindContent, Content: text}
}

// ToolCallEvent returns a tool call fragment event.
func ToolCallEvent(delta *api.ToolCallDelta) Event {
	return Event{Kind: KindToolCall, ToolCall: delta}
}

// UsageEvent returns a token accounting event.
func UsageEvent(usage *api.Usage) Event {
	return Event{Kind: KindUsage, Usage: usage}
}

// StopEvent returns a finish event with the upstream's reason.
func StopEvent(reason string) Event {
	return Event{Kind: KindStop, FinishReason: reason}
}

// ErrorEvent returns a stream-aborting error event.
func ErrorEvent(err error) Event {
	return Event{Kind: KindError, Err: err}
}
