package api

// ImageRequest is the unified image generation request.
type ImageRequest struct {
	Model  string `json:"model" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
	N      int    `json:"n,omitempty"`    // number of images, default 1
	Size   string `json:"size,omitempty"` // "1024x1024" style
}

type ImageResponse struct {
	Created    int64       `json:"created"`
	Model      string      `json:"model,omitempty"`
	Data       []ImageData `json:"data"`
	ModelAlias string      `json:"model_alias,omitempty"`
}

// ImageData carries one generated image, either by URL or as base64 payload
// depending on what the upstream returns.
type ImageData struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}
