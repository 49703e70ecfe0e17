package scylla

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/gocql/gocql"

	domainchat "rentchat/internal/domain/chat"
)

const conversationColumns = `id, listing_id, participants, participant_key, active, created_at, last_message_id, last_message_sender_id, last_message_preview, last_message_at`

// ConversationStore keeps conversations in Scylla. Uniqueness of
// (listing, participant pair) is enforced by an INSERT ... IF NOT EXISTS on
// conversation_keys.
type ConversationStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewConversationStore(session *gocql.Session, logger *slog.Logger) *ConversationStore {
	return &ConversationStore{session: session, logger: logger}
}

func (s *ConversationStore) FindOrCreate(ctx context.Context, draft domainchat.Conversation) (domainchat.Conversation, bool, error) {
	// The row is written before the key is claimed, so whoever loses the
	// claim can always read the winner's row.
	if err := s.insertRow(ctx, draft); err != nil {
		return domainchat.Conversation{}, false, domainchat.Transient("insert conversation", err)
	}
	existing := map[string]any{}
	applied, err := s.session.
		Query(`INSERT INTO conversation_keys (listing_id, participant_key, conversation_id) VALUES (?, ?, ?) IF NOT EXISTS`,
			draft.ListingID, draft.ParticipantKey, string(draft.ID)).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		return domainchat.Conversation{}, false, domainchat.Transient("claim conversation key", err)
	}
	if applied {
		if err := s.indexParticipants(ctx, draft); err != nil {
			return domainchat.Conversation{}, false, domainchat.Transient("index conversation", err)
		}
		return draft.Clone(), true, nil
	}

	s.dropRow(ctx, draft.ID)
	winner, _ := existing["conversation_id"].(string)
	if winner == "" {
		return domainchat.Conversation{}, false, domainchat.ErrKeyConflict
	}
	conv, err := s.ByID(ctx, domainchat.ConversationID(winner))
	if errors.Is(err, domainchat.ErrNotFound) {
		return domainchat.Conversation{}, false, domainchat.ErrKeyConflict
	}
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	// Rewriting the index rows repairs a creator whose index write failed
	// after the key was claimed. The writes are idempotent upserts.
	if err := s.indexParticipants(ctx, conv); err != nil && s.logger != nil {
		s.logger.Warn("failed to repair conversation index", "error", err, "conversation_id", conv.ID)
	}
	return conv, false, nil
}

func (s *ConversationStore) insertRow(ctx context.Context, c domainchat.Conversation) error {
	return s.session.
		Query(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(c.ID), c.ListingID, c.Participants, c.ParticipantKey, c.Active, c.CreatedAt.UTC(),
			string(c.LastMessageID), c.LastMessageSenderID, c.LastMessagePreview, c.LastActivity().UTC()).
		WithContext(ctx).
		Exec()
}

// indexParticipants writes the per-user lookup rows, trying twice.
func (s *ConversationStore) indexParticipants(ctx context.Context, c domainchat.Conversation) error {
	err := s.writeIndex(ctx, c)
	if err != nil && ctx.Err() == nil {
		err = s.writeIndex(ctx, c)
	}
	return err
}

func (s *ConversationStore) writeIndex(ctx context.Context, c domainchat.Conversation) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, p := range c.Participants {
		batch.Query(`INSERT INTO conversations_by_user (user_id, conversation_id, listing_id) VALUES (?, ?, ?)`,
			p, string(c.ID), c.ListingID)
	}
	return s.session.ExecuteBatch(batch)
}

func (s *ConversationStore) dropRow(ctx context.Context, id domainchat.ConversationID) {
	if err := s.session.Query(`DELETE FROM conversations WHERE id = ?`, string(id)).WithContext(ctx).Exec(); err != nil && s.logger != nil {
		s.logger.Warn("failed to drop losing conversation draft", "error", err, "conversation_id", id)
	}
}

func (s *ConversationStore) ByID(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	var row conversationRow
	err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, string(id)).
		WithContext(ctx).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return domainchat.Conversation{}, domainchat.NotFoundf("conversation %q", id)
		}
		return domainchat.Conversation{}, domainchat.Transient("load conversation", err)
	}
	return row.toDomain(), nil
}

func (s *ConversationStore) ByListing(ctx context.Context, listingID, userID string) ([]domainchat.Conversation, error) {
	return s.forUser(ctx, userID, func(rowListing string) bool { return rowListing == listingID }, false)
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	return s.forUser(ctx, userID, func(string) bool { return true }, true)
}

// RecordLastMessage only moves the pointer forward; the condition is
// evaluated by the replica set as a lightweight transaction.
func (s *ConversationStore) RecordLastMessage(ctx context.Context, msg domainchat.Message) error {
	at := msg.CreatedAt.UTC()
	previous := map[string]any{}
	applied, err := s.session.
		Query(`UPDATE conversations SET last_message_id = ?, last_message_sender_id = ?, last_message_preview = ?, last_message_at = ? WHERE id = ? IF last_message_at <= ?`,
			string(msg.ID), msg.SenderID, domainchat.Preview(msg.Content), at, string(msg.ConversationID), at).
		WithContext(ctx).
		MapScanCAS(previous)
	if err != nil {
		return domainchat.Transient("record last message", err)
	}
	if applied {
		return nil
	}
	if _, err := s.ByID(ctx, msg.ConversationID); err != nil {
		return err
	}
	return nil
}

func (s *ConversationStore) forUser(ctx context.Context, userID string, keep func(listingID string) bool, activeOnly bool) ([]domainchat.Conversation, error) {
	iter := s.session.
		Query(`SELECT conversation_id, listing_id FROM conversations_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).
		Iter()
	var (
		ids       []string
		convID    string
		listingID string
	)
	for iter.Scan(&convID, &listingID) {
		if keep(listingID) {
			ids = append(ids, convID)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, domainchat.Transient("list conversations", err)
	}

	out := make([]domainchat.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.ByID(ctx, domainchat.ConversationID(id))
		if errors.Is(err, domainchat.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if activeOnly && !conv.Active {
			continue
		}
		out = append(out, conv)
	}
	slices.SortFunc(out, func(a, b domainchat.Conversation) int {
		if c := b.LastActivity().Compare(a.LastActivity()); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

type conversationRow struct {
	ID                  string
	ListingID           string
	Participants        []string
	ParticipantKey      string
	Active              bool
	CreatedAt           time.Time
	LastMessageID       string
	LastMessageSenderID string
	LastMessagePreview  string
	LastMessageAt       time.Time
}

func (r *conversationRow) dest() []any {
	return []any{&r.ID, &r.ListingID, &r.Participants, &r.ParticipantKey, &r.Active, &r.CreatedAt,
		&r.LastMessageID, &r.LastMessageSenderID, &r.LastMessagePreview, &r.LastMessageAt}
}

func (r conversationRow) toDomain() domainchat.Conversation {
	conv := domainchat.Conversation{
		ID:                  domainchat.ConversationID(r.ID),
		ListingID:           r.ListingID,
		Participants:        append([]string(nil), r.Participants...),
		ParticipantKey:      r.ParticipantKey,
		Active:              r.Active,
		CreatedAt:           r.CreatedAt.UTC(),
		LastMessageID:       domainchat.MessageID(r.LastMessageID),
		LastMessageSenderID: r.LastMessageSenderID,
		LastMessagePreview:  r.LastMessagePreview,
	}
	if r.LastMessageID != "" {
		conv.LastMessageAt = r.LastMessageAt.UTC()
	}
	return conv
}

var _ domainchat.ConversationStore = (*ConversationStore)(nil)
