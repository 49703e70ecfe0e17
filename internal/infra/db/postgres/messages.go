package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainchat "rentchat/internal/domain/chat"
)

const messageColumns = `id, conversation_id, listing_id, sender_id, recipient_id, content, kind, client_msg_id, is_read, read_at, created_at`

const uniqueViolation = "23505"

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Append(ctx context.Context, msg domainchat.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(msg.ID), string(msg.ConversationID), msg.ListingID, msg.SenderID, msg.RecipientID,
		msg.Content, string(msg.Kind), msg.ClientMsgID, msg.Read, msg.ReadAt, msg.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domainchat.Invalidf("message %q already stored", msg.ID)
		}
		return domainchat.Transient("append message", err)
	}
	return nil
}

func (s *MessageStore) ByID(ctx context.Context, id domainchat.MessageID) (domainchat.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, string(id))
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainchat.Message{}, domainchat.NotFoundf("message %q", id)
	}
	if err != nil {
		return domainchat.Message{}, domainchat.Transient("load message", err)
	}
	return msg, nil
}

func (s *MessageStore) Page(ctx context.Context, conversationID domainchat.ConversationID, offset, limit int) ([]domainchat.Message, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_messages WHERE conversation_id = $1`, string(conversationID)).Scan(&total); err != nil {
		return nil, 0, domainchat.Transient("count messages", err)
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM chat_messages
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC, id DESC
		  OFFSET $2 LIMIT $3`,
		string(conversationID), offset, limit)
	if err != nil {
		return nil, 0, domainchat.Transient("page messages", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domainchat.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, 0, domainchat.Transient("page messages", err)
	}
	return out, total, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, id domainchat.MessageID, at time.Time) (bool, error) {
	var changed bool
	err := s.pool.QueryRow(ctx,
		`WITH flipped AS (
		     UPDATE chat_messages SET is_read = true, read_at = $2
		      WHERE id = $1 AND NOT is_read
		  RETURNING id
		 )
		 SELECT EXISTS (SELECT 1 FROM flipped)
		   FROM chat_messages WHERE id = $1`,
		string(id), at.UTC()).Scan(&changed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domainchat.NotFoundf("message %q", id)
	}
	if err != nil {
		return false, domainchat.Transient("mark message read", err)
	}
	return changed, nil
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID domainchat.ConversationID, recipientID string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET is_read = true, read_at = $3
		  WHERE conversation_id = $1 AND recipient_id = $2 AND NOT is_read`,
		string(conversationID), recipientID, at.UTC())
	if err != nil {
		return 0, domainchat.Transient("mark conversation read", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID domainchat.ConversationID, recipientID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_messages WHERE conversation_id = $1 AND recipient_id = $2 AND NOT is_read`,
		string(conversationID), recipientID).Scan(&n)
	if err != nil {
		return 0, domainchat.Transient("count unread", err)
	}
	return n, nil
}

func scanMessage(row pgx.Row) (domainchat.Message, error) {
	var (
		msg              domainchat.Message
		id, convID, kind string
		readAt           *time.Time
	)
	if err := row.Scan(&id, &convID, &msg.ListingID, &msg.SenderID, &msg.RecipientID, &msg.Content, &kind,
		&msg.ClientMsgID, &msg.Read, &readAt, &msg.CreatedAt); err != nil {
		return domainchat.Message{}, err
	}
	msg.ID = domainchat.MessageID(id)
	msg.ConversationID = domainchat.ConversationID(convID)
	msg.Kind = domainchat.Kind(kind)
	msg.CreatedAt = msg.CreatedAt.UTC()
	if readAt != nil {
		at := readAt.UTC()
		msg.ReadAt = &at
	}
	return msg, nil
}

var _ domainchat.MessageStore = (*MessageStore)(nil)
