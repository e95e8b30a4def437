package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openkiro/kirogate/pkg/kiro"
)

// Fixed metadata the upstream expects on every conversation.
const (
	agentTaskType   = "vibe"
	chatTriggerType = "MANUAL"
	messageOrigin   = "AI_EDITOR"
)

// ErrNoMessages rejects a request whose messages array is empty.
var ErrNoMessages = errors.New("anthropic: messages must not be empty")

// ConvertOptions parameterizes request conversion.
type ConvertOptions struct {
	// ModelID is the vendor model id (already mapped from the public name).
	ModelID string
	// ProfileArn, when set, rides at the top level of the upstream request.
	ProfileArn string
}

// Normalize clamps client-supplied fields to their allowed ranges.
func (r *MessagesRequest) Normalize() {
	if r.Thinking != nil && r.Thinking.BudgetTokens > MaxThinkingBudgetTokens {
		r.Thinking.BudgetTokens = MaxThinkingBudgetTokens
	}
}

// BuildConversation converts a Messages request into the upstream
// conversation body. The generated conversation id is returned alongside.
func BuildConversation(req *MessagesRequest, opts ConvertOptions) (*kiro.Request, string, error) {
	if len(req.Messages) == 0 {
		return nil, "", ErrNoMessages
	}

	conversationID := uuid.NewString()

	// All messages except the final user turn become history. A conversation
	// that ends on an assistant turn gets an empty user "continue" turn so
	// the current message is always a user turn.
	var current Message
	var historyMessages []Message
	last := req.Messages[len(req.Messages)-1]
	if last.Role == RoleAssistant {
		current = Message{Role: RoleUser, Content: TextContent("")}
		historyMessages = req.Messages
	} else {
		current = last
		historyMessages = req.Messages[:len(req.Messages)-1]
	}

	systemText := joinSystemPrompt(req.System)

	history, err := convertHistory(historyMessages, opts.ModelID, systemText)
	if err != nil {
		return nil, "", err
	}

	currentContent := textFromContent(current.Content)
	// The system prompt folds into the first user turn on the wire; when
	// the history holds no user turn that turn is the current message.
	historyHasUser := false
	for _, msg := range historyMessages {
		if msg.Role == RoleUser {
			historyHasUser = true
			break
		}
	}
	if systemText != "" && !historyHasUser {
		currentContent = foldSystem(systemText, currentContent)
	}
	if currentContent == "" {
		// The upstream rejects empty content outright.
		currentContent = " "
	}

	userInput := kiro.UserInputMessage{
		Content: currentContent,
		ModelID: opts.ModelID,
		Origin:  messageOrigin,
		Images:  imagesFromContent(current.Content),
		UserInputMessageContext: kiro.UserInputMessageContext{
			ToolResults: toolResultsFromContent(current.Content),
			Tools:       convertTools(req.Tools),
		},
	}

	kiroReq := &kiro.Request{
		ConversationState: kiro.ConversationState{
			AgentTaskType:   agentTaskType,
			ChatTriggerType: chatTriggerType,
			ConversationID:  conversationID,
			CurrentMessage:  kiro.CurrentMessage{UserInputMessage: userInput},
			History:         history,
		},
		ProfileArn: opts.ProfileArn,
	}

	return kiroReq, conversationID, nil
}

// joinSystemPrompt concatenates system entries with single newlines.
func joinSystemPrompt(system SystemPrompt) string {
	if len(system) == 0 {
		return ""
	}
	parts := make([]string, 0, len(system))
	for _, msg := range system {
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "\n")
}

// foldSystem prepends the system prompt to user content, blank-line
// separated.
func foldSystem(systemText, content string) string {
	if content == "" {
		return systemText
	}
	return systemText + "\n\n" + content
}

// convertHistory maps prior turns to the wire history. The system prompt
// folds into the first user turn.
func convertHistory(messages []Message, modelID, systemText string) ([]kiro.HistoryEntry, error) {
	var history []kiro.HistoryEntry
	firstUserSeen := false

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			content := textFromContent(msg.Content)
			if !firstUserSeen {
				firstUserSeen = true
				if systemText != "" {
					content = foldSystem(systemText, content)
				}
			}
			if content == "" {
				content = " "
			}

			entry := &kiro.HistoryUserMessage{
				Content: content,
				ModelID: modelID,
				Origin:  messageOrigin,
				Images:  imagesFromContent(msg.Content),
			}
			if results := toolResultsFromContent(msg.Content); len(results) > 0 {
				entry.UserInputMessageContext = &kiro.UserInputMessageContext{ToolResults: results}
			}
			history = append(history, kiro.HistoryEntry{UserInputMessage: entry})

		case RoleAssistant:
			entry := &kiro.HistoryAssistantMessage{
				Content:  textFromContent(msg.Content),
				ToolUses: toolUsesFromContent(msg.Content),
			}
			history = append(history, kiro.HistoryEntry{AssistantResponseMessage: entry})

		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}

	return history, nil
}

// textFromContent joins the textual parts of message content with newlines.
// Consecutive text fragments merge into one string.
func textFromContent(c MessageContent) string {
	if c.IsText() {
		return c.Text
	}
	var parts []string
	for _, block := range c.Blocks {
		switch block.Type {
		case BlockTypeText:
			parts = append(parts, block.Text)
		case BlockTypeThinking:
			// Thinking blocks do not reach the upstream.
		}
	}
	return strings.Join(parts, "\n")
}

// imagesFromContent collects image blocks, converting media types to the bare
// format names the upstream expects.
func imagesFromContent(c MessageContent) []kiro.Image {
	if c.IsText() {
		return nil
	}
	var images []kiro.Image
	for _, block := range c.Blocks {
		if block.Type != BlockTypeImage || block.Source == nil {
			continue
		}
		images = append(images, kiro.Image{
			Format: imageFormat(block.Source.MediaType),
			Source: kiro.ImageSource{Bytes: block.Source.Data},
		})
	}
	return images
}

// imageFormat derives "png" from "image/png" and the like.
func imageFormat(mediaType string) string {
	if _, format, ok := strings.Cut(mediaType, "/"); ok {
		return format
	}
	return mediaType
}

// toolResultsFromContent converts tool_result blocks to the upstream shape.
func toolResultsFromContent(c MessageContent) []kiro.ToolResult {
	if c.IsText() {
		return nil
	}
	var results []kiro.ToolResult
	for _, block := range c.Blocks {
		if block.Type != BlockTypeToolResult {
			continue
		}
		results = append(results, kiro.NewToolResult(block.ToolUseID, toolResultText(block.Content), block.IsError))
	}
	return results
}

// toolResultText flattens a tool_result content value: arrays contribute
// their text elements, anything else is stringified whole.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var elements []map[string]interface{}
	if err := json.Unmarshal(raw, &elements); err == nil {
		var parts []string
		for _, el := range elements {
			if text, ok := el["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// toolUsesFromContent collects tool_use blocks from an assistant turn.
func toolUsesFromContent(c MessageContent) []kiro.ToolUseEntry {
	if c.IsText() {
		return nil
	}
	var uses []kiro.ToolUseEntry
	for _, block := range c.Blocks {
		if block.Type != BlockTypeToolUse {
			continue
		}
		uses = append(uses, kiro.ToolUseEntry{
			ToolUseID: block.ID,
			Name:      block.Name,
			Input:     parseToolInput(block.Input),
		})
	}
	return uses
}

// parseToolInput decodes a tool_use input, falling back to an empty object
// for anything unparseable.
func parseToolInput(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return map[string]interface{}{}
	}
	return parsed
}

// convertTools wraps client tool definitions in the upstream envelope.
func convertTools(tools []Tool) []kiro.Tool {
	if len(tools) == 0 {
		return nil
	}
	converted := make([]kiro.Tool, 0, len(tools))
	for _, tool := range tools {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		converted = append(converted, kiro.Tool{
			ToolSpecification: kiro.ToolSpecification{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: kiro.InputSchema{JSON: schema},
			},
		})
	}
	return converted
}
