// Package api defines the caller-facing wire types for the OpenAI-compatible
// chat completion surface, the structured error taxonomy, and request
// validation. It has no dependencies on other gemlink packages.
package api

import (
	"encoding/json"
	"fmt"
)

// Message roles accepted on the chat completion surface.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatCompletionRequest is the caller's request to POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatMessage is one entry in the conversation.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent holds the ordered content parts of a message. On the wire
// it is either a plain string or an array of typed parts; both forms decode
// into the same part list.
type MessageContent struct {
	Parts []ContentPart
}

// Content part discriminators.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// ContentPart is a single multi-modal content part.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image either as a data: URL with an inline base64
// payload or as a remote URL fetched before the upstream call.
type ImageURL struct {
	URL string `json:"url"`
}

// UnmarshalJSON accepts both the string and the part-array content forms.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Parts = []ContentPart{{Type: PartTypeText, Text: s}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of content parts")
	}
	c.Parts = parts
	return nil
}

// MarshalJSON writes the compact string form when the content is a single
// text part, and the array form otherwise.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) == 1 && c.Parts[0].Type == PartTypeText {
		return json.Marshal(c.Parts[0].Text)
	}
	return json.Marshal(c.Parts)
}

// Text returns the concatenated text of all text parts.
func (c MessageContent) Text() string {
	var out string
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// Finish reasons carried on the final streamed chunk and on buffered choices.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
	FinishReasonError         = "error"
)

// ChatCompletion is the buffered (non-streaming) response body.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"` // "chat.completion"
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// CompletionChoice is one buffered choice.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionMessage is the assistant message of a buffered choice.
// ReasoningContent carries reasoning output when the gateway is configured
// to surface it as a distinguished field.
type CompletionMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatCompletionChunk is one streamed delta in the caller's wire format.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"` // "chat.completion.chunk"
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is the single choice of a streamed chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta carries the incremental payload of a chunk. Exactly one of
// Role, Content, or ReasoningContent is set per chunk; the finish chunk
// carries an empty delta.
type ChunkDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content,omitempty"`
	ReasoningContent string  `json:"reasoning_content,omitempty"`
}

// Usage reports token accounting when the upstream provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes one entry of GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // "model"
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the response body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"` // "list"
	Data   []Model `json:"data"`
}
