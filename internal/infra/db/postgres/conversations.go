package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainchat "rentchat/internal/domain/chat"
)

const conversationColumns = `id, listing_id, participants, participant_key, active, created_at,
	last_message_id, last_message_sender_id, last_message_preview, last_message_at`

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// FindOrCreate relies on the (listing_id, participant_key) unique
// constraint: the insert is a no-op when the pair already has a
// conversation, and the follow-up select returns whichever row won.
func (s *ConversationStore) FindOrCreate(ctx context.Context, draft domainchat.Conversation) (domainchat.Conversation, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_conversations (
		     id, listing_id, participants, participant_key, active, created_at, last_activity_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)
		   ON CONFLICT (listing_id, participant_key) DO NOTHING`,
		string(draft.ID), draft.ListingID, draft.Participants, draft.ParticipantKey, draft.Active, draft.CreatedAt.UTC())
	if err != nil {
		return domainchat.Conversation{}, false, domainchat.Transient("insert conversation", err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM chat_conversations WHERE listing_id = $1 AND participant_key = $2`,
		draft.ListingID, draft.ParticipantKey)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainchat.Conversation{}, false, domainchat.ErrKeyConflict
	}
	if err != nil {
		return domainchat.Conversation{}, false, domainchat.Transient("load conversation", err)
	}
	return conv, tag.RowsAffected() == 1 && conv.ID == draft.ID, nil
}

func (s *ConversationStore) ByID(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM chat_conversations WHERE id = $1`, string(id))
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainchat.Conversation{}, domainchat.NotFoundf("conversation %q", id)
	}
	if err != nil {
		return domainchat.Conversation{}, domainchat.Transient("load conversation", err)
	}
	return conv, nil
}

func (s *ConversationStore) ByListing(ctx context.Context, listingID, userID string) ([]domainchat.Conversation, error) {
	return s.query(ctx,
		`SELECT `+conversationColumns+` FROM chat_conversations
		  WHERE listing_id = $1 AND participants @> ARRAY[$2]::text[]
		  ORDER BY last_activity_at DESC, id DESC`,
		listingID, userID)
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	return s.query(ctx,
		`SELECT `+conversationColumns+` FROM chat_conversations
		  WHERE active AND participants @> ARRAY[$1]::text[]
		  ORDER BY last_activity_at DESC, id DESC`,
		userID)
}

func (s *ConversationStore) RecordLastMessage(ctx context.Context, msg domainchat.Message) error {
	at := msg.CreatedAt.UTC()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`WITH moved AS (
		     UPDATE chat_conversations
		        SET last_message_id = $2, last_message_sender_id = $3, last_message_preview = $4,
		            last_message_at = $5, last_activity_at = $5
		      WHERE id = $1 AND last_activity_at <= $5
		  RETURNING id
		 )
		 SELECT EXISTS (SELECT 1 FROM chat_conversations WHERE id = $1)`,
		string(msg.ConversationID), string(msg.ID), msg.SenderID, domainchat.Preview(msg.Content), at).Scan(&exists)
	if err != nil {
		return domainchat.Transient("record last message", err)
	}
	if !exists {
		return domainchat.NotFoundf("conversation %q", msg.ConversationID)
	}
	return nil
}

func (s *ConversationStore) query(ctx context.Context, sql string, args ...any) ([]domainchat.Conversation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domainchat.Transient("query conversations", err)
	}
	defer rows.Close()
	out := make([]domainchat.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, domainchat.Transient("scan conversation", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, domainchat.Transient("query conversations", err)
	}
	return out, nil
}

func scanConversation(row pgx.Row) (domainchat.Conversation, error) {
	var (
		conv          domainchat.Conversation
		id, lastID    string
		lastMessageAt *time.Time
	)
	if err := row.Scan(&id, &conv.ListingID, &conv.Participants, &conv.ParticipantKey, &conv.Active, &conv.CreatedAt,
		&lastID, &conv.LastMessageSenderID, &conv.LastMessagePreview, &lastMessageAt); err != nil {
		return domainchat.Conversation{}, err
	}
	conv.ID = domainchat.ConversationID(id)
	conv.LastMessageID = domainchat.MessageID(lastID)
	conv.CreatedAt = conv.CreatedAt.UTC()
	if lastMessageAt != nil && lastID != "" {
		conv.LastMessageAt = lastMessageAt.UTC()
	}
	return conv, nil
}

var _ domainchat.ConversationStore = (*ConversationStore)(nil)
