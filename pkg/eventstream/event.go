package eventstream

import (
	"encoding/json"
	"fmt"
)

// Upstream event type names carried in the ":event-type" header.
const (
	eventTypeAssistantResponse = "assistantResponseEvent"
	eventTypeToolUse           = "toolUseEvent"
	eventTypeMetering          = "meteringEvent"
	eventTypeContextUsage      = "contextUsageEvent"
)

// Event is a decoded upstream event. The concrete types below form a closed
// tagged variant.
type Event interface {
	event()
}

// AssistantResponseEvent carries an incremental assistant text chunk.
type AssistantResponseEvent struct {
	Content string `json:"content"`
}

// ToolUseEvent carries an incremental tool call. Input holds streaming JSON
// fragments; Stop marks the final chunk for the call.
type ToolUseEvent struct {
	Name      string `json:"name"`
	ToolUseID string `json:"toolUseId"`
	Input     string `json:"input"`
	Stop      bool   `json:"stop"`
}

// MeteringEvent is an opaque billing signal. It is carried but never
// inspected.
type MeteringEvent struct {
	Payload []byte
}

// ContextUsageEvent reports the advisory context-window usage percentage.
type ContextUsageEvent struct {
	Percentage float64 `json:"contextUsagePercentage"`
}

// UnknownEvent preserves events this gateway does not understand, for forward
// compatibility.
type UnknownEvent struct {
	EventType string
	Payload   []byte
}

// ErrorEvent is an upstream control-plane error delivered on the stream.
type ErrorEvent struct {
	Code    string
	Message string
}

// ExceptionEvent is an upstream exception delivered on the stream.
type ExceptionEvent struct {
	Type    string
	Message string
}

func (AssistantResponseEvent) event() {}
func (ToolUseEvent) event()           {}
func (MeteringEvent) event()          {}
func (ContextUsageEvent) event()      {}
func (UnknownEvent) event()           {}
func (ErrorEvent) event()             {}
func (ExceptionEvent) event()         {}

// EventFromFrame classifies a decoded frame into an event.
//
// Payloads may carry fields beyond the ones modeled here; they are ignored
// rather than failing the decode.
func EventFromFrame(frame *Frame) (Event, error) {
	messageType := frame.Headers.MessageType()
	if messageType == "" {
		messageType = "event"
	}

	switch messageType {
	case "event":
		return eventFromEventFrame(frame)
	case "error":
		code := frame.Headers.ErrorCode()
		if code == "" {
			code = "UnknownError"
		}
		return ErrorEvent{Code: code, Message: string(frame.Payload)}, nil
	case "exception":
		typ := frame.Headers.ExceptionType()
		if typ == "" {
			typ = "UnknownException"
		}
		return ExceptionEvent{Type: typ, Message: string(frame.Payload)}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, messageType)
}

func eventFromEventFrame(frame *Frame) (Event, error) {
	switch frame.Headers.EventType() {
	case eventTypeAssistantResponse:
		var ev AssistantResponseEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			return nil, fmt.Errorf("eventstream: decode assistant response: %w", err)
		}
		return ev, nil
	case eventTypeToolUse:
		var ev ToolUseEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			return nil, fmt.Errorf("eventstream: decode tool use: %w", err)
		}
		return ev, nil
	case eventTypeMetering:
		return MeteringEvent{Payload: frame.Payload}, nil
	case eventTypeContextUsage:
		var ev ContextUsageEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			return nil, fmt.Errorf("eventstream: decode context usage: %w", err)
		}
		return ev, nil
	}

	return UnknownEvent{EventType: frame.Headers.EventType(), Payload: frame.Payload}, nil
}
