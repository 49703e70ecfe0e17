package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	domainchat "rentchat/internal/domain/chat"
)

// ConversationStore keeps conversations in memory. Find-or-create is atomic
// under the store lock, which plays the role of the unique index.
type ConversationStore struct {
	mu    sync.RWMutex
	byID  map[domainchat.ConversationID]*domainchat.Conversation
	byKey map[string]domainchat.ConversationID
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byID:  make(map[domainchat.ConversationID]*domainchat.Conversation),
		byKey: make(map[string]domainchat.ConversationID),
	}
}

func conversationKey(listingID, participantKey string) string {
	return listingID + "#" + participantKey
}

func (s *ConversationStore) FindOrCreate(ctx context.Context, draft domainchat.Conversation) (domainchat.Conversation, bool, error) {
	key := conversationKey(draft.ListingID, draft.ParticipantKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return s.byID[id].Clone(), false, nil
	}
	stored := draft.Clone()
	s.byID[stored.ID] = &stored
	s.byKey[key] = stored.ID
	return stored.Clone(), true, nil
}

func (s *ConversationStore) ByID(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.NotFoundf("conversation %q", id)
	}
	return conv.Clone(), nil
}

func (s *ConversationStore) ByListing(ctx context.Context, listingID, userID string) ([]domainchat.Conversation, error) {
	return s.collect(func(c *domainchat.Conversation) bool {
		return c.ListingID == listingID && c.HasParticipant(userID)
	}), nil
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	return s.collect(func(c *domainchat.Conversation) bool {
		return c.Active && c.HasParticipant(userID)
	}), nil
}

func (s *ConversationStore) RecordLastMessage(ctx context.Context, msg domainchat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[msg.ConversationID]
	if !ok {
		return domainchat.NotFoundf("conversation %q", msg.ConversationID)
	}
	if conv.LastMessageAt.After(msg.CreatedAt) {
		return nil
	}
	conv.LastMessageID = msg.ID
	conv.LastMessageSenderID = msg.SenderID
	conv.LastMessagePreview = domainchat.Preview(msg.Content)
	conv.LastMessageAt = msg.CreatedAt
	return nil
}

func (s *ConversationStore) collect(match func(*domainchat.Conversation) bool) []domainchat.Conversation {
	s.mu.RLock()
	out := make([]domainchat.Conversation, 0)
	for _, conv := range s.byID {
		if match(conv) {
			out = append(out, conv.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domainchat.Conversation) int {
		if c := b.LastActivity().Compare(a.LastActivity()); c != 0 {
			return c
		}
		return compareStrings(string(b.ID), string(a.ID))
	})
	return out
}

// MessageStore keeps messages in memory, per conversation in creation order.
type MessageStore struct {
	mu     sync.RWMutex
	byID   map[domainchat.MessageID]*domainchat.Message
	byConv map[domainchat.ConversationID][]*domainchat.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID:   make(map[domainchat.MessageID]*domainchat.Message),
		byConv: make(map[domainchat.ConversationID][]*domainchat.Message),
	}
}

func (s *MessageStore) Append(ctx context.Context, msg domainchat.Message) error {
	stored := msg.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[stored.ID]; exists {
		return domainchat.Invalidf("message %q already stored", stored.ID)
	}
	s.byID[stored.ID] = &stored
	log := s.byConv[stored.ConversationID]
	idx := len(log)
	for idx > 0 && stored.Before(*log[idx-1]) {
		idx--
	}
	s.byConv[stored.ConversationID] = slices.Insert(log, idx, &stored)
	return nil
}

func (s *MessageStore) ByID(ctx context.Context, id domainchat.MessageID) (domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	if !ok {
		return domainchat.Message{}, domainchat.NotFoundf("message %q", id)
	}
	return msg.Clone(), nil
}

func (s *MessageStore) Page(ctx context.Context, conversationID domainchat.ConversationID, offset, limit int) ([]domainchat.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.byConv[conversationID]
	total := len(log)
	if offset < 0 {
		offset = 0
	}
	out := make([]domainchat.Message, 0, min(limit, total))
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, log[i].Clone())
	}
	return out, total, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, id domainchat.MessageID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return false, domainchat.NotFoundf("message %q", id)
	}
	return msg.MarkRead(at), nil
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID domainchat.ConversationID, recipientID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.byConv[conversationID] {
		if msg.RecipientID == recipientID && msg.MarkRead(at) {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID domainchat.ConversationID, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msg := range s.byConv[conversationID] {
		if msg.RecipientID == recipientID && !msg.Read {
			n++
		}
	}
	return n, nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var _ domainchat.ConversationStore = (*ConversationStore)(nil)
var _ domainchat.MessageStore = (*MessageStore)(nil)
