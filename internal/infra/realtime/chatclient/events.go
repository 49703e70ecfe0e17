package chatclient

import (
	"time"

	"rentchat/internal/app/dto"
)

type EventKind string

const (
	EventMessageReceived   EventKind = "message-received"
	EventMessageRead       EventKind = "message-read"
	EventUserTyping        EventKind = "user-typing"
	EventUserStoppedTyping EventKind = "user-stopped-typing"
	EventPresence          EventKind = "presence"
	EventConnectionError   EventKind = "connection-error"
	EventReconnected       EventKind = "reconnected"
	// EventRejected carries a gateway error frame answering one of our events.
	EventRejected EventKind = "rejected"
)

// Event is what subscribers see. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	ListingID string
	// UserID is the sender, reader, typist or presence subject.
	UserID    string
	Online    bool
	Message   *dto.Message
	MessageID string
	At        time.Time
	Err       error
}
