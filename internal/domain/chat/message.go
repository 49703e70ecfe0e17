package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

type MessageID string

// Kind discriminates message payloads. Only text is produced today; the
// attachment kinds are accepted so clients can start sending them once
// uploads exist.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// MaxContentChars bounds message length in runes.
const MaxContentChars = 4000

// PreviewChars bounds the last-message preview kept on a conversation.
const PreviewChars = 140

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindText:
		return KindText, nil
	case KindImage:
		return KindImage, nil
	case KindFile:
		return KindFile, nil
	default:
		return "", Invalidf("unsupported message kind %q", raw)
	}
}

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	ListingID      string
	SenderID       string
	RecipientID    string
	Content        string
	Kind           Kind
	ClientMsgID    string
	Read           bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

type NewMessageParams struct {
	Conversation Conversation
	SenderID     string
	RecipientID  string
	Content      string
	Kind         Kind
	ClientMsgID  string
	Now          time.Time
}

// NewMessage validates and builds an unread message for the conversation.
func NewMessage(p NewMessageParams) (Message, error) {
	content, err := NormalizeContent(p.Content)
	if err != nil {
		return Message{}, err
	}
	if !p.Conversation.HasParticipant(p.SenderID) || !p.Conversation.HasParticipant(p.RecipientID) || p.SenderID == p.RecipientID {
		return Message{}, Invalidf("sender and recipient must be the two conversation members")
	}
	kind := p.Kind
	if kind == "" {
		kind = KindText
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	return Message{
		ID:             MessageID(NewID()),
		ConversationID: p.Conversation.ID,
		ListingID:      p.Conversation.ListingID,
		SenderID:       p.SenderID,
		RecipientID:    p.RecipientID,
		Content:        content,
		Kind:           kind,
		ClientMsgID:    strings.TrimSpace(p.ClientMsgID),
		CreatedAt:      now.UTC(),
	}, nil
}

func NormalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", Invalidf("content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return "", Invalidf("content exceeds %d characters", MaxContentChars)
	}
	return content, nil
}

// Preview trims content to the conversation preview size.
func Preview(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= PreviewChars {
		return string(runes)
	}
	return string(runes[:PreviewChars])
}

// Before orders messages by creation time, then id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// MarkRead flips the read flag. It reports false when the message was
// already read; the flag never goes back to false.
func (m *Message) MarkRead(at time.Time) bool {
	if m.Read {
		return false
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	m.Read = true
	m.ReadAt = &at
	return true
}

func (m Message) Clone() Message {
	if m.ReadAt != nil {
		at := *m.ReadAt
		m.ReadAt = &at
	}
	return m
}
