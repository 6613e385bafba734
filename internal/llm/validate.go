package llm

import (
	"fmt"

	"github.com/nulzo/refract/pkg/api"
)

// ValidateChatRequest rejects malformed unified requests before any
// network traffic. Adapters call this first so validation failures are
// consistent across providers.
func ValidateChatRequest(req *api.ChatRequest) error {
	if req == nil {
		return api.ValidationError("request is nil")
	}
	if req.Model == "" {
		return api.ValidationError("model is required")
	}
	if len(req.Messages) == 0 {
		return api.ValidationError("messages must not be empty")
	}
	for i, msg := range req.Messages {
		if !api.ValidRole(msg.Role) {
			return api.ValidationError(fmt.Sprintf("messages[%d]: invalid role %q", i, msg.Role))
		}
		if msg.Role == string(api.ToolRole) && msg.ToolCallID == "" {
			return api.ValidationError(fmt.Sprintf("messages[%d]: tool messages require tool_call_id", i))
		}
	}
	return nil
}
