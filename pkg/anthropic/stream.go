package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/openkiro/kirogate/pkg/eventstream"
)

// SSE event names in emission order.
const (
	eventMessageStart      = "message_start"
	eventContentBlockStart = "content_block_start"
	eventContentBlockDelta = "content_block_delta"
	eventContentBlockStop  = "content_block_stop"
	eventMessageDelta      = "message_delta"
	eventMessageStop       = "message_stop"
	eventError             = "error"
)

// Stop reasons.
const (
	StopReasonEndTurn = "end_turn"
	StopReasonToolUse = "tool_use"
	StopReasonError   = "error"
)

// UpstreamStreamError is an Error or Exception event surfaced mid-stream.
type UpstreamStreamError struct {
	ErrType string
	Message string
}

func (e *UpstreamStreamError) Error() string {
	return fmt.Sprintf("anthropic: upstream stream error %s: %s", e.ErrType, e.Message)
}

// IsThrottling reports whether the upstream error signals a rate limit.
func (e *UpstreamStreamError) IsThrottling() bool {
	return strings.Contains(e.ErrType, "Throttling")
}

// blockState tracks what kind of content block is currently open.
type blockState int

const (
	stateBetween blockState = iota
	stateInText
	stateInToolUse
)

// sink receives emitted SSE events; nil means buffered mode.
type sink func(event string, data interface{}) error

// converter is the shared state machine that turns upstream events into the
// Anthropic event sequence. Block indices are dense and zero-based.
type converter struct {
	model       string
	messageID   string
	inputTokens int
	estimate    func(string) int
	emit        sink

	started  bool
	state    blockState
	next     int // index of the next block to open
	curIndex int // index of the open block

	textBuf   strings.Builder
	toolID    string
	toolName  string
	toolInput strings.Builder

	blocks         []ContentBlock
	lastClosedTool bool
}

func newConverter(model string, inputTokens int, estimate func(string) int, emit sink) *converter {
	return &converter{
		model:       model,
		messageID:   "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		inputTokens: inputTokens,
		estimate:    estimate,
		emit:        emit,
	}
}

func (c *converter) send(event string, data interface{}) error {
	if c.emit == nil {
		return nil
	}
	return c.emit(event, data)
}

// ensureStarted emits message_start exactly once, before any other event.
func (c *converter) ensureStarted() error {
	if c.started {
		return nil
	}
	c.started = true
	return c.send(eventMessageStart, map[string]interface{}{
		"type": eventMessageStart,
		"message": MessagesResponse{
			ID:      c.messageID,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   c.model,
			Content: []ContentBlock{},
			Usage:   Usage{InputTokens: c.inputTokens},
		},
	})
}

// handle advances the state machine by one upstream event.
func (c *converter) handle(ev eventstream.Event) error {
	switch ev := ev.(type) {
	case eventstream.AssistantResponseEvent:
		return c.handleText(ev.Content)
	case eventstream.ToolUseEvent:
		return c.handleToolUse(ev)
	case eventstream.MeteringEvent, eventstream.ContextUsageEvent, eventstream.UnknownEvent:
		// Carried but not forwarded to the client.
		return nil
	case eventstream.ErrorEvent:
		return c.fail(ev.Code, ev.Message)
	case eventstream.ExceptionEvent:
		return c.fail(ev.Type, ev.Message)
	}
	return nil
}

func (c *converter) handleText(content string) error {
	if err := c.ensureStarted(); err != nil {
		return err
	}

	if c.state == stateInToolUse {
		if err := c.closeBlock(); err != nil {
			return err
		}
	}
	if c.state == stateBetween {
		if err := c.openTextBlock(); err != nil {
			return err
		}
	}

	c.textBuf.WriteString(content)
	return c.send(eventContentBlockDelta, map[string]interface{}{
		"type":  eventContentBlockDelta,
		"index": c.curIndex,
		"delta": map[string]string{"type": "text_delta", "text": content},
	})
}

func (c *converter) handleToolUse(ev eventstream.ToolUseEvent) error {
	if err := c.ensureStarted(); err != nil {
		return err
	}

	if c.state == stateInText {
		if err := c.closeBlock(); err != nil {
			return err
		}
	}
	// A new tool id mid-call means the previous call ended without a stop
	// marker; close it before opening the next.
	if c.state == stateInToolUse && ev.ToolUseID != c.toolID {
		if err := c.closeBlock(); err != nil {
			return err
		}
	}
	if c.state == stateBetween {
		if err := c.openToolBlock(ev.ToolUseID, ev.Name); err != nil {
			return err
		}
	}

	c.toolInput.WriteString(ev.Input)
	if err := c.send(eventContentBlockDelta, map[string]interface{}{
		"type":  eventContentBlockDelta,
		"index": c.curIndex,
		"delta": map[string]string{"type": "input_json_delta", "partial_json": ev.Input},
	}); err != nil {
		return err
	}

	if ev.Stop {
		return c.closeBlock()
	}
	return nil
}

func (c *converter) openTextBlock() error {
	c.state = stateInText
	c.curIndex = c.next
	c.next++
	c.textBuf.Reset()
	return c.send(eventContentBlockStart, map[string]interface{}{
		"type":          eventContentBlockStart,
		"index":         c.curIndex,
		"content_block": map[string]string{"type": BlockTypeText, "text": ""},
	})
}

func (c *converter) openToolBlock(id, name string) error {
	c.state = stateInToolUse
	c.curIndex = c.next
	c.next++
	c.toolID = id
	c.toolName = name
	c.toolInput.Reset()
	return c.send(eventContentBlockStart, map[string]interface{}{
		"type":  eventContentBlockStart,
		"index": c.curIndex,
		"content_block": map[string]interface{}{
			"type":  BlockTypeToolUse,
			"id":    id,
			"name":  name,
			"input": map[string]interface{}{},
		},
	})
}

// closeBlock finalizes the open block, records it, and returns to Between.
func (c *converter) closeBlock() error {
	switch c.state {
	case stateBetween:
		return nil
	case stateInText:
		c.blocks = append(c.blocks, ContentBlock{Type: BlockTypeText, Text: c.textBuf.String()})
		c.lastClosedTool = false
	case stateInToolUse:
		c.blocks = append(c.blocks, ContentBlock{
			Type:  BlockTypeToolUse,
			ID:    c.toolID,
			Name:  c.toolName,
			Input: repairToolInput(c.toolInput.String()),
		})
		c.lastClosedTool = true
	}

	index := c.curIndex
	c.state = stateBetween
	return c.send(eventContentBlockStop, map[string]interface{}{
		"type":  eventContentBlockStop,
		"index": index,
	})
}

// finish closes any open block and terminates the message.
func (c *converter) finish() error {
	if err := c.ensureStarted(); err != nil {
		return err
	}
	if err := c.closeBlock(); err != nil {
		return err
	}

	stopReason := StopReasonEndTurn
	if c.lastClosedTool {
		stopReason = StopReasonToolUse
	}

	if err := c.send(eventMessageDelta, map[string]interface{}{
		"type": eventMessageDelta,
		"delta": map[string]interface{}{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]int{"output_tokens": c.outputTokens()},
	}); err != nil {
		return err
	}
	return c.send(eventMessageStop, map[string]interface{}{"type": eventMessageStop})
}

// fail terminates an in-flight message on an upstream error event.
func (c *converter) fail(errType, message string) error {
	if c.started {
		if err := c.closeBlock(); err != nil {
			return err
		}
		if err := c.send(eventMessageDelta, map[string]interface{}{
			"type": eventMessageDelta,
			"delta": map[string]interface{}{
				"stop_reason":   StopReasonError,
				"stop_sequence": nil,
			},
			"usage": map[string]int{"output_tokens": c.outputTokens()},
		}); err != nil {
			return err
		}
	}
	return &UpstreamStreamError{ErrType: errType, Message: message}
}

// outputTokens estimates emitted output from the recorded blocks plus any
// still-open one.
func (c *converter) outputTokens() int {
	if c.estimate == nil {
		return 0
	}
	total := 0
	for _, block := range c.blocks {
		if block.Text != "" {
			total += c.estimate(block.Text)
		}
		if len(block.Input) > 0 {
			total += c.estimate(string(block.Input))
		}
	}
	switch c.state {
	case stateInText:
		total += c.estimate(c.textBuf.String())
	case stateInToolUse:
		total += c.estimate(c.toolInput.String())
	}
	if total < 1 {
		total = 1
	}
	return total
}

// stopReason reports the final stop reason for buffered responses.
func (c *converter) stopReason() string {
	if c.lastClosedTool {
		return StopReasonToolUse
	}
	return StopReasonEndTurn
}

// repairToolInput parses accumulated streaming JSON fragments into a
// well-formed input object. Truncated streams go through jsonrepair before
// giving up.
func repairToolInput(accumulated string) json.RawMessage {
	trimmed := strings.TrimSpace(accumulated)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	if repaired, err := jsonrepair.JSONRepair(trimmed); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return json.RawMessage(`{}`)
}

// ConvertParams configures a stream or collect run.
type ConvertParams struct {
	// Model echoes the client's requested model id in message_start.
	Model string
	// InputTokens is the estimated prompt size for usage reporting.
	InputTokens int
	// EstimateTokens estimates output tokens from emitted text; nil reports 0.
	EstimateTokens func(string) int
}

// CollectMessages drains the upstream event stream into a single Messages
// response.
func CollectMessages(events *eventstream.EventReader, params ConvertParams) (*MessagesResponse, error) {
	c := newConverter(params.Model, params.InputTokens, params.EstimateTokens, nil)

	for {
		ev, err := events.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := c.handle(ev); err != nil {
			return nil, err
		}
	}

	if err := c.finish(); err != nil {
		return nil, err
	}

	content := c.blocks
	if content == nil {
		content = []ContentBlock{}
	}
	return &MessagesResponse{
		ID:         c.messageID,
		Type:       "message",
		Role:       RoleAssistant,
		Model:      c.model,
		Content:    content,
		StopReason: c.stopReason(),
		Usage:      Usage{InputTokens: c.inputTokens, OutputTokens: c.outputTokens()},
	}, nil
}

// StreamMessages pumps the upstream event stream to the client as Anthropic
// SSE. Each event flushes immediately, so a slow client throttles upstream
// reads through the unread response body.
//
// Once any event has been written the HTTP status is fixed; later failures
// are emitted as inline error events before the stream closes.
func StreamMessages(w http.ResponseWriter, events *eventstream.EventReader, params ConvertParams) error {
	flusher, _ := w.(http.Flusher)

	emit := func(event string, data interface{}) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("anthropic: marshal %s event: %w", event, err)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	c := newConverter(params.Model, params.InputTokens, params.EstimateTokens, emit)

	for {
		ev, err := events.Next()
		if err == io.EOF {
			return c.finish()
		}
		if err != nil {
			if emitErr := emitStreamError(emit, "api_error", err.Error()); emitErr != nil {
				return emitErr
			}
			return err
		}
		if err := c.handle(ev); err != nil {
			var streamErr *UpstreamStreamError
			if errors.As(err, &streamErr) {
				if emitErr := emitStreamError(emit, streamErr.ErrType, streamErr.Message); emitErr != nil {
					return emitErr
				}
			}
			return err
		}
	}
}

func emitStreamError(emit sink, errType, message string) error {
	return emit(eventError, map[string]interface{}{
		"type":  eventError,
		"error": map[string]string{"type": errType, "message": message},
	})
}
