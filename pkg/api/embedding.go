package api

import "encoding/json"

// EmbeddingRequest is the unified embedding request. Input accepts a single
// string or a list of strings on the wire.
type EmbeddingRequest struct {
	Model string         `json:"model" binding:"required"`
	Input EmbeddingInput `json:"input" binding:"required"`
}

// EmbeddingInput handles the union type: string | []string
type EmbeddingInput struct {
	Texts []string
}

func (e *EmbeddingInput) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &e.Texts)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	e.Texts = []string{s}
	return nil
}

func (e EmbeddingInput) MarshalJSON() ([]byte, error) {
	if len(e.Texts) == 1 {
		return json.Marshal(e.Texts[0])
	}
	return json.Marshal(e.Texts)
}

type EmbeddingResponse struct {
	Object     string      `json:"object"` // "list"
	Model      string      `json:"model"`
	Data       []Embedding `json:"data"`
	Usage      *Usage      `json:"usage,omitempty"`
	ModelAlias string      `json:"model_alias,omitempty"`
}

type Embedding struct {
	Object    string    `json:"object"` // "embedding"
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}
