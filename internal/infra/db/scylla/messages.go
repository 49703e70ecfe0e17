package scylla

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"

	domainchat "rentchat/internal/domain/chat"
)

const messageColumns = `conversation_id, created_at, message_id, listing_id, sender_id, recipient_id, content, kind, client_msg_id, is_read, read_at`

// MessageStore keeps each conversation in one partition clustered newest
// first, with messages_by_id resolving a bare message id to its row key.
type MessageStore struct {
	session *gocql.Session
}

func NewMessageStore(session *gocql.Session) *MessageStore {
	return &MessageStore{session: session}
}

func (s *MessageStore) Append(ctx context.Context, msg domainchat.Message) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(msg.ConversationID), msg.CreatedAt.UTC(), string(msg.ID), msg.ListingID, msg.SenderID, msg.RecipientID,
		msg.Content, string(msg.Kind), msg.ClientMsgID, msg.Read, msg.ReadAt)
	batch.Query(`INSERT INTO messages_by_id (message_id, conversation_id, created_at) VALUES (?, ?, ?)`,
		string(msg.ID), string(msg.ConversationID), msg.CreatedAt.UTC())
	if err := s.session.ExecuteBatch(batch); err != nil {
		return domainchat.Transient("append message", err)
	}
	return nil
}

func (s *MessageStore) ByID(ctx context.Context, id domainchat.MessageID) (domainchat.Message, error) {
	convID, createdAt, err := s.locate(ctx, id)
	if err != nil {
		return domainchat.Message{}, err
	}
	var row messageRow
	err = s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
			convID, createdAt, string(id)).
		WithContext(ctx).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return domainchat.Message{}, domainchat.NotFoundf("message %q", id)
		}
		return domainchat.Message{}, domainchat.Transient("load message", err)
	}
	return row.toDomain(), nil
}

// Page walks the partition newest-first. Offsets are skipped client side;
// pages are bounded by MaxPageLimit so the walk stays short for the pages
// people actually read.
func (s *MessageStore) Page(ctx context.Context, conversationID domainchat.ConversationID, offset, limit int) ([]domainchat.Message, int, error) {
	var total int
	if err := s.session.
		Query(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, string(conversationID)).
		WithContext(ctx).
		Scan(&total); err != nil {
		return nil, 0, domainchat.Transient("count messages", err)
	}
	if offset < 0 {
		offset = 0
	}
	out := make([]domainchat.Message, 0, min(limit, total))
	if offset >= total || limit <= 0 {
		return out, total, nil
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? LIMIT ?`, string(conversationID), offset+limit).
		WithContext(ctx).
		PageSize(limit).
		Iter()
	var row messageRow
	skipped := 0
	for iter.Scan(row.dest()...) {
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, row.toDomain())
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, 0, domainchat.Transient("page messages", err)
	}
	return out, total, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, id domainchat.MessageID, at time.Time) (bool, error) {
	convID, createdAt, err := s.locate(ctx, id)
	if err != nil {
		return false, err
	}
	return s.markRead(ctx, convID, createdAt, string(id), at)
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID domainchat.ConversationID, recipientID string, at time.Time) (int, error) {
	keys, err := s.unread(ctx, conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		changed, err := s.markRead(ctx, string(conversationID), k.createdAt, k.messageID, at)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID domainchat.ConversationID, recipientID string) (int, error) {
	keys, err := s.unread(ctx, conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *MessageStore) markRead(ctx context.Context, convID string, createdAt time.Time, messageID string, at time.Time) (bool, error) {
	var current bool
	applied, err := s.session.
		Query(`UPDATE messages SET is_read = true, read_at = ? WHERE conversation_id = ? AND created_at = ? AND message_id = ? IF is_read = false`,
			at.UTC(), convID, createdAt, messageID).
		WithContext(ctx).
		ScanCAS(&current)
	if err != nil {
		return false, domainchat.Transient("mark message read", err)
	}
	return applied, nil
}

type rowKey struct {
	createdAt time.Time
	messageID string
}

func (s *MessageStore) unread(ctx context.Context, conversationID domainchat.ConversationID, recipientID string) ([]rowKey, error) {
	iter := s.session.
		Query(`SELECT created_at, message_id, recipient_id, is_read FROM messages WHERE conversation_id = ?`, string(conversationID)).
		WithContext(ctx).
		Iter()
	var (
		keys      []rowKey
		createdAt time.Time
		messageID string
		recipient string
		read      bool
	)
	for iter.Scan(&createdAt, &messageID, &recipient, &read) {
		if recipient == recipientID && !read {
			keys = append(keys, rowKey{createdAt: createdAt, messageID: messageID})
		}
	}
	if err := iter.Close(); err != nil {
		return nil, domainchat.Transient("scan unread messages", err)
	}
	return keys, nil
}

func (s *MessageStore) locate(ctx context.Context, id domainchat.MessageID) (string, time.Time, error) {
	var (
		convID    string
		createdAt time.Time
	)
	err := s.session.
		Query(`SELECT conversation_id, created_at FROM messages_by_id WHERE message_id = ?`, string(id)).
		WithContext(ctx).
		Scan(&convID, &createdAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", time.Time{}, domainchat.NotFoundf("message %q", id)
		}
		return "", time.Time{}, domainchat.Transient("locate message", err)
	}
	return convID, createdAt, nil
}

type messageRow struct {
	ConversationID string
	CreatedAt      time.Time
	MessageID      string
	ListingID      string
	SenderID       string
	RecipientID    string
	Content        string
	Kind           string
	ClientMsgID    string
	Read           bool
	ReadAt         time.Time
}

func (r *messageRow) dest() []any {
	return []any{&r.ConversationID, &r.CreatedAt, &r.MessageID, &r.ListingID, &r.SenderID, &r.RecipientID,
		&r.Content, &r.Kind, &r.ClientMsgID, &r.Read, &r.ReadAt}
}

func (r messageRow) toDomain() domainchat.Message {
	msg := domainchat.Message{
		ID:             domainchat.MessageID(r.MessageID),
		ConversationID: domainchat.ConversationID(r.ConversationID),
		ListingID:      r.ListingID,
		SenderID:       r.SenderID,
		RecipientID:    r.RecipientID,
		Content:        r.Content,
		Kind:           domainchat.Kind(r.Kind),
		ClientMsgID:    r.ClientMsgID,
		Read:           r.Read,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.Read && !r.ReadAt.IsZero() {
		at := r.ReadAt.UTC()
		msg.ReadAt = &at
	}
	return msg
}

var _ domainchat.MessageStore = (*MessageStore)(nil)
