package chat

import (
	"context"
	"strings"

	domainchat "rentchat/internal/domain/chat"
)

// SendLedger remembers which message a (sender, client message id) pair
// produced, so a send retried after a dropped reply returns the stored
// message instead of appending a second copy.
type SendLedger interface {
	Lookup(ctx context.Context, key string) (domainchat.MessageID, bool, error)
	Remember(ctx context.Context, key string, id domainchat.MessageID) error
}

// ledgerKey scopes a client message id to the sender, listing and
// recipient it was first used with. Reusing an id towards another
// conversation is a fresh send.
func ledgerKey(senderID, listingID, recipientID, clientMsgID string) string {
	clientMsgID = strings.TrimSpace(clientMsgID)
	if clientMsgID == "" {
		return ""
	}
	return strings.Join([]string{senderID, listingID, recipientID, clientMsgID}, "|")
}

// replay returns the message a key already produced. A stored message whose
// content or kind differs from the retried request is a validation error:
// the client reused an id for a different message.
func (s *Service) replay(ctx context.Context, key, content string, kind domainchat.Kind) (SendResult, bool, error) {
	if s.Ledger == nil || key == "" {
		return SendResult{}, false, nil
	}
	id, ok, err := s.Ledger.Lookup(ctx, key)
	if err != nil {
		s.logWarn("send ledger lookup failed", "error", err, "key", key)
		return SendResult{}, false, nil
	}
	if !ok {
		return SendResult{}, false, nil
	}
	msg, err := s.Messages.ByID(ctx, id)
	if err != nil {
		return SendResult{}, false, nil
	}
	if msg.Content != content || msg.Kind != kind {
		return SendResult{}, false, domainchat.Invalidf("client message id %q was already used for a different message", msg.ClientMsgID)
	}
	conv, err := s.Conversations.ByID(ctx, msg.ConversationID)
	if err != nil {
		return SendResult{}, false, nil
	}
	return SendResult{Message: msg, Conversation: conv, Replayed: true}, true, nil
}

func (s *Service) remember(ctx context.Context, key string, id domainchat.MessageID) {
	if s.Ledger == nil || key == "" {
		return
	}
	if err := s.Ledger.Remember(ctx, key, id); err != nil {
		s.logWarn("send ledger write failed", "error", err, "key", key, "message_id", id)
	}
}
