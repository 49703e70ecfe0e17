package chat

import "time"

// MessageSentEvent is published for the notification collaborator so it can
// reach recipients that are offline.
type MessageSentEvent struct {
	MessageID      MessageID      `json:"message_id"`
	ConversationID ConversationID `json:"conversation_id"`
	ListingID      string         `json:"listing_id"`
	SenderID       string         `json:"sender_id"`
	RecipientID    string         `json:"recipient_id"`
	Kind           Kind           `json:"kind"`
	Preview        string         `json:"preview"`
	At             time.Time      `json:"at"`
}

func (e MessageSentEvent) EventName() string     { return "chat.message_sent" }
func (e MessageSentEvent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageSentEvent) OccurredAt() time.Time { return e.At }

type ConversationStartedEvent struct {
	ConversationID ConversationID `json:"conversation_id"`
	ListingID      string         `json:"listing_id"`
	Participants   []string       `json:"participants"`
	At             time.Time      `json:"at"`
}

func (e ConversationStartedEvent) EventName() string     { return "chat.conversation_started" }
func (e ConversationStartedEvent) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationStartedEvent) OccurredAt() time.Time { return e.At }
