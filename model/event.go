package model

import (
	"fmt"
	"time"
)

// EventType enumerates the delivery lifecycle events recorded per message.
type EventType string

const (
	EventSend        EventType = "send"
	EventDelivered   EventType = "delivered"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventComplaint   EventType = "complaint"
	EventReject      EventType = "reject"
	EventSendFail    EventType = "send_fail"
	EventUnsubscribe EventType = "unsubscribe"
)

func ParseEventType(raw string) (EventType, error) {
	switch EventType(raw) {
	case EventSend, EventDelivered, EventOpen, EventClick, EventBounce,
		EventComplaint, EventReject, EventSendFail, EventUnsubscribe:
		return EventType(raw), nil
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}

// EmailEvent is an append-only record of something that happened to a
// message after it left the outbox.
type EmailEvent struct {
	EventID    string                 `json:"event_id"`
	MessageID  string                 `json:"message_id,omitempty"`
	ContactID  string                 `json:"contact_id,omitempty"`
	Type       EventType              `json:"type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	CreatedAt  time.Time              `json:"created_at"`
}
