package api

import (
	"fmt"
	"strconv"
)

// validRoles lists the roles accepted on the chat completion surface.
var validRoles = map[string]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
}

// ValidateChatRequest checks the structural validity of a chat completion
// request. Model existence is checked separately against the model table.
func ValidateChatRequest(req *ChatCompletionRequest) *APIError {
	if req.Model == "" {
		return NewInvalidRequestError("model", "model is required")
	}
	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must not be empty")
	}

	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return NewInvalidRequestError("messages",
				fmt.Sprintf("invalid role %q at index %d", msg.Role, i))
		}
		if len(msg.Content.Parts) == 0 {
			return NewInvalidRequestError("messages",
				"message at index "+strconv.Itoa(i)+" has no content")
		}
		for _, part := range msg.Content.Parts {
			switch part.Type {
			case PartTypeText:
			case PartTypeImageURL:
				if part.ImageURL == nil || part.ImageURL.URL == "" {
					return NewInvalidRequestError("messages",
						"image_url part at message index "+strconv.Itoa(i)+" is missing a url")
				}
			default:
				return NewInvalidRequestError("messages",
					fmt.Sprintf("unsupported content part type %q", part.Type))
			}
		}
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return NewInvalidRequestError("temperature", "temperature must be between 0 and 2")
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return NewInvalidRequestError("top_p", "top_p must be between 0 and 1")
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be a positive integer")
	}

	return nil
}
