package api

// EventType enumerates the SSE-shaped event grammar emitted by
// ConversationEngine.StreamMessage.
type EventType string

const (
	EventThinking     EventType = "thinking"
	EventText         EventType = "text"
	EventProducts     EventType = "products"
	EventTip          EventType = "tip"
	EventQuickReplies EventType = "quick_replies"
	EventRetry        EventType = "retry"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Event is one SSE-shaped message sent to the client during a streamed
// conversation turn. Only the field relevant to Type is populated; the
// others stay at their zero value.
type Event struct {
	Type EventType `json:"type"`

	Text         string           `json:"text,omitempty"`
	Products     []ProductPayload `json:"products,omitempty"`
	Tip          string           `json:"tip,omitempty"`
	QuickReplies []string         `json:"quick_replies,omitempty"`
	Error        string           `json:"error,omitempty"`

	// Done-only fields.
	SessionID string `json:"session_id,omitempty"`
	ModelUsed string `json:"model_used,omitempty"`
}

// ProductPayload is the wire shape of a catalog item surfaced in a
// "products" event.
type ProductPayload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Brand string  `json:"brand,omitempty"`
}

// NewTextEvent builds a "text" event.
func NewTextEvent(text string) Event {
	return Event{Type: EventText, Text: text}
}

// NewThinkingEvent builds a "thinking" event.
func NewThinkingEvent(text string) Event {
	return Event{Type: EventThinking, Text: text}
}

// NewErrorEvent builds an "error" event.
func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}

// NewRetryEvent builds a "retry" event, signaling the client to invalidate
// previously rendered text for this turn.
func NewRetryEvent() Event {
	return Event{Type: EventRetry}
}

// NewDoneEvent builds the terminal "done" event carrying the canonical
// session id and the model that produced the final response.
func NewDoneEvent(sessionID, modelUsed string) Event {
	return Event{Type: EventDone, SessionID: sessionID, ModelUsed: modelUsed}
}
