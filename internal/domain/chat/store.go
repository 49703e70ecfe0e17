package chat

import (
	"context"
	"time"
)

// ConversationStore persists conversations. Implementations enforce the
// (listing, participant key) uniqueness themselves.
type ConversationStore interface {
	// FindOrCreate returns the conversation for draft's listing and
	// participant key, inserting draft when none exists. created reports
	// whether draft was inserted. A store that loses a concurrent insert
	// race may return ErrKeyConflict; the caller retries once.
	FindOrCreate(ctx context.Context, draft Conversation) (conv Conversation, created bool, err error)
	ByID(ctx context.Context, id ConversationID) (Conversation, error)
	// ByListing returns the listing's conversations that userID takes part
	// in, most recently active first.
	ByListing(ctx context.Context, listingID, userID string) ([]Conversation, error)
	// ListByParticipant returns active conversations of userID, most
	// recently active first.
	ListByParticipant(ctx context.Context, userID string) ([]Conversation, error)
	// RecordLastMessage moves the last-message pointer forward to msg. It
	// never moves the pointer back to an older message.
	RecordLastMessage(ctx context.Context, msg Message) error
}

// MessageStore persists messages of conversations.
type MessageStore interface {
	Append(ctx context.Context, msg Message) error
	ByID(ctx context.Context, id MessageID) (Message, error)
	// Page returns up to limit messages newest-first, skipping offset
	// newer ones, plus the conversation's total message count.
	Page(ctx context.Context, conversationID ConversationID, offset, limit int) ([]Message, int, error)
	// MarkRead flips one message; false when it was already read.
	MarkRead(ctx context.Context, id MessageID, at time.Time) (bool, error)
	// MarkConversationRead flips every unread message addressed to
	// recipientID and returns how many changed.
	MarkConversationRead(ctx context.Context, conversationID ConversationID, recipientID string, at time.Time) (int, error)
	CountUnread(ctx context.Context, conversationID ConversationID, recipientID string) (int, error)
}
