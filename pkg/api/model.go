package api

// ModelDefinition is one catalog entry: the public identity of a model, the
// provider route that serves it, and its declared capabilities and limits.
// Definitions are immutable once loaded; adapters and the capability model
// only ever read them.
type ModelDefinition struct {
	ID          string `json:"id"`          // public id, e.g. "openai/gpt-4o"
	Name        string `json:"name"`        // human readable name
	ProviderID  string `json:"provider_id"` // internal provider reference, e.g. "openai-main"
	UpstreamID  string `json:"upstream_id"` // the id sent to the upstream provider
	Description string `json:"description,omitempty"`
	Created     int64  `json:"created,omitempty"`
	OwnedBy     string `json:"owned_by,omitempty"`

	Capabilities ModelCapabilities `json:"capabilities"`
	Enabled      bool              `json:"enabled"`
}

// ModelCapabilities declares which unified operations and features a model
// supports, plus its token limits. Zero values mean unsupported/unknown.
type ModelCapabilities struct {
	Chat            bool `json:"chat"`
	Streaming       bool `json:"streaming"`
	Vision          bool `json:"vision"`
	FunctionCalling bool `json:"function_calling"`
	Embeddings      bool `json:"embeddings"`
	ImageGeneration bool `json:"image_generation"`
	Speech          bool `json:"speech"`
	Realtime        bool `json:"realtime"`

	MaxInputTokens  int `json:"max_input_tokens,omitempty"`
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

// ModelList is the wire shape of the model listing endpoint.
type ModelList struct {
	Object string            `json:"object"` // "list"
	Data   []ModelDefinition `json:"data"`
}
