package api

// ChatResponse is the unified chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// ModelAlias is the model identifier the caller originally requested,
	// preserved even when routing mapped it to a different upstream id.
	ModelAlias string `json:"model_alias,omitempty"`
}

type Choice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

// FirstText returns the text content of the first choice, or "".
func (r *ChatResponse) FirstText() string {
	if r == nil || len(r.Choices) == 0 || r.Choices[0].Message == nil {
		return ""
	}
	return r.Choices[0].Message.Content.PlainText()
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ChatCompletionChunk is one incremental unit of a streaming completion.
// The ID is stable across every chunk of one stream. Exactly one chunk per
// stream carries a non-empty finish reason, and it is always the last one.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"` // "chat.completion.chunk"
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []StreamingChoice `json:"choices"`
	Usage   *Usage            `json:"usage,omitempty"`

	ModelAlias string `json:"model_alias,omitempty"`
}

type StreamingChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta carries the incremental payload of a chunk. Role is populated only
// on the first delta of a stream.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is an incremental tool call update keyed by Index. ID and
// name arrive on the first fragment for an index; later fragments carry
// argument text only.
type ToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *FunctionCallDelta `json:"function,omitempty"`
}

type FunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// IsTerminal reports whether the chunk carries a finish reason.
func (c *ChatCompletionChunk) IsTerminal() bool {
	for _, choice := range c.Choices {
		if choice.FinishReason != "" {
			return true
		}
	}
	return false
}

// StreamResult is one element of a streaming sequence: a chunk or a
// terminal error, never both.
type StreamResult struct {
	Chunk *ChatCompletionChunk
	Err   error
}
