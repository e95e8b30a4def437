// Package anthropic implements the client-facing Anthropic Messages data
// model and the two-way translation to the Kiro conversation model.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// MaxThinkingBudgetTokens caps the thinking budget a client may request.
const MaxThinkingBudgetTokens = 24576

// MessagesRequest is a POST /v1/messages body.
type MessagesRequest struct {
	Model      string          `json:"model"`
	MaxTokens  int             `json:"max_tokens"`
	Messages   []Message       `json:"messages"`
	System     SystemPrompt    `json:"system,omitempty"`
	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`
	Thinking   *Thinking       `json:"thinking,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
}

// Thinking configures extended thinking.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// SystemMessage is one entry of a structured system prompt.
type SystemMessage struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// SystemPrompt accepts both wire forms of the system field: a bare string or
// an array of text blocks.
type SystemPrompt []SystemMessage

// UnmarshalJSON folds a bare string into a single-entry prompt.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = SystemPrompt{{Type: "text", Text: text}}
		return nil
	}

	var entries []SystemMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("anthropic: system must be a string or an array of text blocks: %w", err)
	}
	*s = entries
	return nil
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the "string or array of blocks" content shape. The wire
// form is preserved so requests re-serialize the way they arrived.
type MessageContent struct {
	// Text holds the content when the wire form was a bare string.
	Text string
	// Blocks holds the content when the wire form was an array.
	Blocks []ContentBlock

	isText bool
}

// TextContent builds string-form content.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text, isText: true}
}

// BlocksContent builds block-form content.
func BlocksContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsText reports whether the wire form was a bare string.
func (c MessageContent) IsText() bool {
	return c.isText
}

// UnmarshalJSON accepts either wire form.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.isText = true
		c.Blocks = nil
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("anthropic: content must be a string or an array of blocks: %w", err)
	}
	c.Blocks = blocks
	c.isText = false
	return nil
}

// MarshalJSON reproduces the original wire form.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// ContentBlock is one typed unit of message content, discriminated by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource is a base64 image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Tool is a client-declared tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// MessagesResponse is the non-streaming POST /v1/messages reply.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CountTokensRequest is a POST /v1/messages/count_tokens body.
type CountTokensRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	System   SystemPrompt `json:"system,omitempty"`
	Tools    []Tool       `json:"tools,omitempty"`
}

// CountTokensResponse is its reply.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ModelsResponse is the GET /v1/models reply.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo describes one advertised model.
type ModelInfo struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	MaxTokens   int    `json:"max_tokens"`
}

// ErrorResponse is the Anthropic-shaped error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}

// AuthenticationError is the 401 body.
func AuthenticationError() ErrorResponse {
	return NewErrorResponse("authentication_error", "Invalid API key")
}
