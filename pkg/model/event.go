package model

// EventType identifies a streaming turn event
type EventType string

const (
	// EventToken is an incremental fragment of the answer text
	EventToken EventType = "token"
	// EventToolStart marks the beginning of a tool invocation
	EventToolStart EventType = "tool_start"
	// EventToolEnd marks the completion of a tool invocation
	EventToolEnd EventType = "tool_end"
	// EventDone marks turn completion
	EventDone EventType = "done"
	// EventError marks a turn-level failure, distinct from a normal answer
	EventError EventType = "error"
)

// StreamEvent is one element of the turn output stream
type StreamEvent struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Message string    `json:"message,omitempty"`
}

// EventSink consumes streaming events. A nil sink is valid and discards.
type EventSink func(StreamEvent)

// Emit sends an event if the sink is non-nil
func (f EventSink) Emit(ev StreamEvent) {
	if f != nil {
		f(ev)
	}
}
