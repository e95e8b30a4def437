// Package kiro holds the client side of the Kiro assistant-response API:
// credentials, token lifecycle, machine fingerprinting, the wire request
// model, and the HTTP provider that issues calls.
package kiro

import "encoding/json"

// Request is the top-level body POSTed to generateAssistantResponse.
type Request struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

// ToJSON serializes the request body.
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ConversationState is the core of a Kiro request: the current user turn plus
// the preceding history.
type ConversationState struct {
	AgentContinuationID string         `json:"agentContinuationId,omitempty"`
	AgentTaskType       string         `json:"agentTaskType,omitempty"`
	ChatTriggerType     string         `json:"chatTriggerType,omitempty"`
	CurrentMessage      CurrentMessage `json:"currentMessage"`
	ConversationID      string         `json:"conversationId"`
	History             []HistoryEntry `json:"history,omitempty"`
}

// CurrentMessage wraps the user turn being answered.
type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// UserInputMessage is the current user turn.
type UserInputMessage struct {
	UserInputMessageContext UserInputMessageContext `json:"userInputMessageContext"`
	Content                 string                  `json:"content"`
	ModelID                 string                  `json:"modelId"`
	Images                  []Image                 `json:"images,omitempty"`
	Origin                  string                  `json:"origin,omitempty"`
}

// UserInputMessageContext carries tool definitions and tool execution results
// for a user turn.
type UserInputMessageContext struct {
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Tools       []Tool       `json:"tools,omitempty"`
}

// Image is an inline image attached to a user turn.
type Image struct {
	// Format is the bare image format name: "png", "jpeg", "gif", "webp".
	Format string      `json:"format"`
	Source ImageSource `json:"source"`
}

// ImageSource holds base64-encoded image data.
type ImageSource struct {
	Bytes string `json:"bytes"`
}

// HistoryEntry is one prior turn. Exactly one of the two fields is set; user
// and assistant turns alternate on the wire.
type HistoryEntry struct {
	UserInputMessage         *HistoryUserMessage      `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *HistoryAssistantMessage `json:"assistantResponseMessage,omitempty"`
}

// HistoryUserMessage is a prior user turn.
type HistoryUserMessage struct {
	Content                 string                   `json:"content"`
	ModelID                 string                   `json:"modelId"`
	Origin                  string                   `json:"origin,omitempty"`
	Images                  []Image                  `json:"images,omitempty"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// HistoryAssistantMessage is a prior assistant turn.
type HistoryAssistantMessage struct {
	Content  string         `json:"content"`
	ToolUses []ToolUseEntry `json:"toolUses,omitempty"`
}

// Tool wraps a tool definition for the wire.
type Tool struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification defines one callable tool.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema wraps a JSON Schema document.
type InputSchema struct {
	JSON json.RawMessage `json:"json"`
}

// ToolResult reports the outcome of a prior tool call back to the model.
type ToolResult struct {
	ToolUseID string                   `json:"toolUseId"`
	Content   []map[string]interface{} `json:"content"`
	Status    string                   `json:"status,omitempty"`
	IsError   bool                     `json:"isError,omitempty"`
}

// NewToolResult builds a text tool result with the success/error status pair
// the upstream expects.
func NewToolResult(toolUseID, text string, isError bool) ToolResult {
	status := "success"
	if isError {
		status = "error"
	}
	return ToolResult{
		ToolUseID: toolUseID,
		Content:   []map[string]interface{}{{"text": text}},
		Status:    status,
		IsError:   isError,
	}
}

// ToolUseEntry records a completed tool call in an assistant history turn.
type ToolUseEntry struct {
	ToolUseID string      `json:"toolUseId"`
	Name      string      `json:"name"`
	Input     interface{} `json:"input"`
}
