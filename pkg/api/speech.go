package api

// SpeechRequest is the unified text-to-speech request.
type SpeechRequest struct {
	Model string `json:"model" binding:"required"`
	Input string `json:"input" binding:"required"`
	Voice string `json:"voice,omitempty"` // provider default when empty

	// ResponseFormat selects the audio container: mp3, opus, aac, flac,
	// wav or pcm16. Empty means the provider default (mp3).
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"` // 0.25 - 4.0
}

// SpeechResponse carries the synthesized audio bytes. The format echoes the
// request so callers can set a content type without re-inspecting bytes.
type SpeechResponse struct {
	Audio      []byte
	Format     string
	Model      string
	ModelAlias string
}

// ContentType maps the audio format to its MIME type.
func (r *SpeechResponse) ContentType() string {
	switch r.Format {
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "pcm16":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}
