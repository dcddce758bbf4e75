package model

// EventType discriminates the events emitted on a message stream.
type EventType string

const (
	EventUserMessageEcho   EventType = "user_message_echo"
	EventAssistantStart    EventType = "assistant_start"
	EventAssistantChunk    EventType = "assistant_chunk"
	EventAssistantComplete EventType = "assistant_complete"
	EventError             EventType = "error"
	EventDone              EventType = "done"
)

// EventMessage is the message payload carried by echo and complete events.
type EventMessage struct {
	ID      int64  `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamEvent is one framed event on a message stream. It exists only for
// the duration of a single streaming request and is never persisted.
type StreamEvent struct {
	Type    EventType     `json:"type"`
	Message *EventMessage `json:"message,omitempty"`
	Content string        `json:"content,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// UserEchoEvent confirms durability of the persisted user message.
func UserEchoEvent(msg *Message) StreamEvent {
	return StreamEvent{
		Type:    EventUserMessageEcho,
		Message: &EventMessage{ID: msg.ID, Role: msg.Role, Content: msg.Content},
	}
}

// AssistantStartEvent signals that reply generation has begun.
func AssistantStartEvent() StreamEvent {
	return StreamEvent{Type: EventAssistantStart}
}

// AssistantChunkEvent carries one reply fragment.
func AssistantChunkEvent(fragment string) StreamEvent {
	return StreamEvent{Type: EventAssistantChunk, Content: fragment}
}

// AssistantCompleteEvent carries the persisted assistant message.
func AssistantCompleteEvent(msg *Message) StreamEvent {
	return StreamEvent{
		Type:    EventAssistantComplete,
		Message: &EventMessage{ID: msg.ID, Role: msg.Role, Content: msg.Content},
	}
}

// ErrorEvent reports an in-band failure without closing the stream.
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Error: msg}
}

// DoneEvent is the terminal end-of-stream marker. Every stream emits it
// exactly once, success or failure.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}
