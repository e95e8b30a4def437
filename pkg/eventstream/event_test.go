package eventstream

import (
	"errors"
	"testing"
)

func mustFrame(t *testing.T, msg []byte) *Frame {
	t.Helper()
	frame, _, err := ParseFrame(msg)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	return frame
}

func TestEventFromFrameAssistantResponse(t *testing.T) {
	frame := mustFrame(t, eventFrame("event", "assistantResponseEvent",
		`{"content":"Hello","conversationId":"conv-1","messageStatus":"COMPLETED"}`))

	ev, err := EventFromFrame(frame)
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	ar, ok := ev.(AssistantResponseEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if ar.Content != "Hello" {
		t.Errorf("content = %q", ar.Content)
	}
}

func TestEventFromFrameToolUse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    ToolUseEvent
	}{
		{
			name:    "partial",
			payload: `{"name":"get_weather","toolUseId":"tu_1","input":"{\"city\":\""}`,
			want:    ToolUseEvent{Name: "get_weather", ToolUseID: "tu_1", Input: `{"city":"`},
		},
		{
			name:    "final",
			payload: `{"name":"get_weather","toolUseId":"tu_1","input":"Paris\"}","stop":true}`,
			want:    ToolUseEvent{Name: "get_weather", ToolUseID: "tu_1", Input: `Paris"}`, Stop: true},
		},
		{
			name:    "defaults",
			payload: `{"name":"f","toolUseId":"tu_2"}`,
			want:    ToolUseEvent{Name: "f", ToolUseID: "tu_2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := mustFrame(t, eventFrame("event", "toolUseEvent", tt.payload))
			ev, err := EventFromFrame(frame)
			if err != nil {
				t.Fatalf("EventFromFrame: %v", err)
			}
			if got := ev.(ToolUseEvent); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEventFromFrameContextUsage(t *testing.T) {
	frame := mustFrame(t, eventFrame("event", "contextUsageEvent", `{"contextUsagePercentage":42.5}`))

	ev, err := EventFromFrame(frame)
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	if cu := ev.(ContextUsageEvent); cu.Percentage != 42.5 {
		t.Errorf("percentage = %v", cu.Percentage)
	}
}

func TestEventFromFrameMetering(t *testing.T) {
	frame := mustFrame(t, eventFrame("event", "meteringEvent", `{"unitsBilled":3}`))

	ev, err := EventFromFrame(frame)
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	if _, ok := ev.(MeteringEvent); !ok {
		t.Errorf("event type = %T", ev)
	}
}

func TestEventFromFrameUnknown(t *testing.T) {
	frame := mustFrame(t, eventFrame("event", "someFutureEvent", `{"x":1}`))

	ev, err := EventFromFrame(frame)
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	unknown := ev.(UnknownEvent)
	if unknown.EventType != "someFutureEvent" {
		t.Errorf("event type = %q", unknown.EventType)
	}
	if string(unknown.Payload) != `{"x":1}` {
		t.Errorf("payload = %q", unknown.Payload)
	}
}

func TestEventFromFrameError(t *testing.T) {
	msg := encodeFrame([]rawHeader{
		stringHeader(":message-type", "error"),
		stringHeader(":error-code", "ThrottlingException"),
	}, []byte("rate exceeded"))

	ev, err := EventFromFrame(mustFrame(t, msg))
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	e := ev.(ErrorEvent)
	if e.Code != "ThrottlingException" || e.Message != "rate exceeded" {
		t.Errorf("got %+v", e)
	}
}

func TestEventFromFrameErrorDefaults(t *testing.T) {
	msg := encodeFrame([]rawHeader{
		stringHeader(":message-type", "error"),
	}, []byte("boom"))

	ev, err := EventFromFrame(mustFrame(t, msg))
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	if e := ev.(ErrorEvent); e.Code != "UnknownError" {
		t.Errorf("code = %q, want UnknownError", e.Code)
	}
}

func TestEventFromFrameException(t *testing.T) {
	msg := encodeFrame([]rawHeader{
		stringHeader(":message-type", "exception"),
		stringHeader(":exception-type", "ValidationException"),
	}, []byte("bad input"))

	ev, err := EventFromFrame(mustFrame(t, msg))
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	e := ev.(ExceptionEvent)
	if e.Type != "ValidationException" || e.Message != "bad input" {
		t.Errorf("got %+v", e)
	}
}

func TestEventFromFrameInvalidMessageType(t *testing.T) {
	msg := encodeFrame([]rawHeader{
		stringHeader(":message-type", "gossip"),
	}, nil)

	_, err := EventFromFrame(mustFrame(t, msg))
	if !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("error = %v, want ErrInvalidMessageType", err)
	}
}

func TestEventFromFrameMissingMessageTypeDefaultsToEvent(t *testing.T) {
	frame := mustFrame(t, encodeFrame([]rawHeader{
		stringHeader(":event-type", "assistantResponseEvent"),
	}, []byte(`{"content":"x"}`)))

	ev, err := EventFromFrame(frame)
	if err != nil {
		t.Fatalf("EventFromFrame: %v", err)
	}
	if _, ok := ev.(AssistantResponseEvent); !ok {
		t.Errorf("event type = %T", ev)
	}
}
