package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"rentchat/internal/app/outbox"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/domain/listings"
	domainuser "rentchat/internal/domain/user"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var ErrServiceNotConfigured = errors.New("chat: service missing dependencies")

// Messaging is the request/response surface of the message service. The
// in-process Service and the gRPC client both implement it.
type Messaging interface {
	SendMessage(ctx context.Context, params SendParams) (SendResult, error)
	GetConversationByListing(ctx context.Context, query ThreadQuery) (Thread, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]Overview, error)
	MarkMessageRead(ctx context.Context, messageID, userID string) (domainchat.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

// SendObserver receives the outcome of every durable write.
type SendObserver interface {
	ObserveSend(outcome string)
}

// Service is the single authority over conversation and message state.
type Service struct {
	Conversations domainchat.ConversationStore
	Messages      domainchat.MessageStore
	Users         domainuser.Directory
	Listings      listings.Directory
	Ledger        SendLedger
	Outbox        outbox.Outbox
	Encoder       outbox.Encoder
	Observer      SendObserver
	Now           func() time.Time
	Logger        *slog.Logger
}

type SendParams struct {
	SenderID    string
	RecipientID string
	ListingID   string
	Content     string
	Kind        string
	ClientMsgID string
}

type SendResult struct {
	Message      domainchat.Message
	Conversation domainchat.Conversation
	Created      bool
	// Replayed is set when the client message id was seen before and the
	// original message is returned unchanged.
	Replayed bool
}

type ThreadQuery struct {
	ListingID     string
	UserID        string
	CounterpartID string
	Page          int
	Limit         int
}

type ListingSummary struct {
	ID           string
	Title        string
	Address      string
	ThumbnailURL string
	OwnerID      string
}

// Thread is one conversation page as shown by the detail view. Conversation
// is nil on first contact.
type Thread struct {
	Conversation *domainchat.Conversation
	Messages     []domainchat.Message
	Total        int
	Page         int
	Limit        int
	HasMore      bool
	Listing      ListingSummary
	Counterpart  *domainuser.Profile
}

type LastMessage struct {
	ID       domainchat.MessageID
	SenderID string
	Preview  string
	At       time.Time
}

// Overview is one row of the conversation list view.
type Overview struct {
	Conversation domainchat.Conversation
	Counterpart  domainuser.Profile
	Listing      *ListingSummary
	LastMessage  *LastMessage
	UnreadCount  int
}

func (s *Service) SendMessage(ctx context.Context, params SendParams) (SendResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return SendResult{}, err
	}
	senderID := strings.TrimSpace(params.SenderID)
	recipientID := strings.TrimSpace(params.RecipientID)
	listingID := strings.TrimSpace(params.ListingID)
	if senderID == "" || recipientID == "" || listingID == "" {
		s.observe("invalid")
		return SendResult{}, domainchat.Invalidf("sender, recipient and listing are required")
	}
	content, err := domainchat.NormalizeContent(params.Content)
	if err != nil {
		s.observe("invalid")
		return SendResult{}, err
	}
	kind, err := domainchat.ParseKind(params.Kind)
	if err != nil {
		s.observe("invalid")
		return SendResult{}, err
	}
	key := ledgerKey(senderID, listingID, recipientID, params.ClientMsgID)
	res, ok, err := s.replay(ctx, key, content, kind)
	if err != nil {
		s.observe("invalid")
		return SendResult{}, err
	}
	if ok {
		s.observe("replayed")
		return res, nil
	}
	if _, err := s.user(ctx, senderID); err != nil {
		s.observe("not_found")
		return SendResult{}, err
	}
	if _, err := s.user(ctx, recipientID); err != nil {
		s.observe("not_found")
		return SendResult{}, err
	}
	if _, err := s.listing(ctx, listingID); err != nil {
		s.observe("not_found")
		return SendResult{}, err
	}

	now := s.now()
	draft, err := domainchat.NewConversation(listingID, senderID, recipientID, now)
	if err != nil {
		s.observe("invalid")
		return SendResult{}, err
	}
	conv, created, err := s.findOrCreate(ctx, draft)
	if err != nil {
		s.observe("store_error")
		return SendResult{}, err
	}

	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		Conversation: conv,
		SenderID:     senderID,
		RecipientID:  recipientID,
		Content:      params.Content,
		Kind:         kind,
		ClientMsgID:  params.ClientMsgID,
		Now:          now,
	})
	if err != nil {
		s.observe("invalid")
		return SendResult{}, err
	}
	// Writes are not retried: a retry after an ambiguous failure could
	// store the message twice.
	if err := s.Messages.Append(ctx, msg); err != nil {
		s.observe("store_error")
		return SendResult{}, translate("append message", err)
	}
	s.remember(ctx, key, msg.ID)
	if err := s.Conversations.RecordLastMessage(ctx, msg); err != nil {
		s.logWarn("failed to update last message pointer", "error", err, "conversation_id", conv.ID, "message_id", msg.ID)
	} else if !conv.LastMessageAt.After(msg.CreatedAt) {
		conv.LastMessageID = msg.ID
		conv.LastMessageSenderID = msg.SenderID
		conv.LastMessagePreview = domainchat.Preview(msg.Content)
		conv.LastMessageAt = msg.CreatedAt
	}

	if created {
		s.logInfo("conversation created", "conversation_id", conv.ID, "listing_id", conv.ListingID, "participants", conv.Participants)
		s.record(ctx, domainchat.ConversationStartedEvent{
			ConversationID: conv.ID,
			ListingID:      conv.ListingID,
			Participants:   append([]string(nil), conv.Participants...),
			At:             conv.CreatedAt,
		})
	}
	s.record(ctx, domainchat.MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ListingID:      msg.ListingID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Kind:           msg.Kind,
		Preview:        domainchat.Preview(msg.Content),
		At:             msg.CreatedAt,
	})
	s.observe("ok")
	return SendResult{Message: msg, Conversation: conv, Created: created}, nil
}

func (s *Service) GetConversationByListing(ctx context.Context, query ThreadQuery) (Thread, error) {
	if err := s.ensureDependencies(); err != nil {
		return Thread{}, err
	}
	listingID := strings.TrimSpace(query.ListingID)
	userID := strings.TrimSpace(query.UserID)
	counterpartID := strings.TrimSpace(query.CounterpartID)
	if listingID == "" || userID == "" {
		return Thread{}, domainchat.Invalidf("listing and user are required")
	}
	page, limit := normalizePage(query.Page, query.Limit)

	listing, err := s.listing(ctx, listingID)
	if err != nil {
		return Thread{}, err
	}
	thread := Thread{
		Page:     page,
		Limit:    limit,
		Messages: []domainchat.Message{},
		Listing:  summarize(listing),
	}

	candidates, err := retryRead(ctx, "conversations by listing", func() ([]domainchat.Conversation, error) {
		return s.Conversations.ByListing(ctx, listingID, userID)
	})
	if err != nil {
		return Thread{}, err
	}
	var conv *domainchat.Conversation
	for i := range candidates {
		if !candidates[i].HasParticipant(userID) {
			continue
		}
		if counterpartID != "" && candidates[i].Other(userID) != counterpartID {
			continue
		}
		conv = &candidates[i]
		break
	}

	if conv == nil {
		// First contact: no history yet, but the prospective counterpart is
		// still resolved so the view can address the first message.
		prospect := counterpartID
		if prospect == "" && string(listing.Host) != userID {
			prospect = string(listing.Host)
		}
		if prospect != "" && prospect != userID {
			u, err := s.user(ctx, prospect)
			if err != nil {
				return Thread{}, err
			}
			profile := u.Profile()
			thread.Counterpart = &profile
		}
		return thread, nil
	}

	thread.Conversation = conv
	offset := (page - 1) * limit
	type pageResult struct {
		items []domainchat.Message
		total int
	}
	res, err := retryRead(ctx, "message page", func() (pageResult, error) {
		items, total, err := s.Messages.Page(ctx, conv.ID, offset, limit)
		return pageResult{items: items, total: total}, err
	})
	if err != nil {
		return Thread{}, err
	}
	// The store pages newest-first; the view reads oldest-first.
	items := slices.Clone(res.items)
	slices.Reverse(items)
	thread.Messages = items
	thread.Total = res.total
	thread.HasMore = offset+len(items) < res.total

	if other := conv.Other(userID); other != "" {
		if u, err := s.user(ctx, other); err == nil {
			profile := u.Profile()
			thread.Counterpart = &profile
		} else if !errors.Is(err, domainchat.ErrNotFound) {
			return Thread{}, err
		}
	}
	return thread, nil
}

func (s *Service) ListConversationsForUser(ctx context.Context, userID string) ([]Overview, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.Invalidf("user is required")
	}
	conversations, err := retryRead(ctx, "list conversations", func() ([]domainchat.Conversation, error) {
		return s.Conversations.ListByParticipant(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	listingCache := make(map[string]*ListingSummary)
	out := make([]Overview, 0, len(conversations))
	for _, conv := range conversations {
		if !conv.Active || !conv.HasParticipant(userID) {
			continue
		}
		other := conv.Other(userID)
		item := Overview{
			Conversation: conv,
			Counterpart:  domainuser.Profile{ID: domainuser.ID(other)},
		}
		if u, err := s.user(ctx, other); err == nil {
			item.Counterpart = u.Profile()
		} else if !errors.Is(err, domainchat.ErrNotFound) {
			return nil, err
		}

		summary, ok := listingCache[conv.ListingID]
		if !ok {
			if l, err := s.listing(ctx, conv.ListingID); err == nil {
				sum := summarize(l)
				summary = &sum
			} else if !errors.Is(err, domainchat.ErrNotFound) {
				return nil, err
			}
			listingCache[conv.ListingID] = summary
		}
		item.Listing = summary

		if conv.LastMessageID != "" {
			item.LastMessage = &LastMessage{
				ID:       conv.LastMessageID,
				SenderID: conv.LastMessageSenderID,
				Preview:  conv.LastMessagePreview,
				At:       conv.LastMessageAt,
			}
		}
		unread, err := retryRead(ctx, "count unread", func() (int, error) {
			return s.Messages.CountUnread(ctx, conv.ID, userID)
		})
		if err != nil {
			return nil, err
		}
		item.UnreadCount = unread
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b Overview) int {
		return b.Conversation.LastActivity().Compare(a.Conversation.LastActivity())
	})
	return out, nil
}

func (s *Service) MarkMessageRead(ctx context.Context, messageID, userID string) (domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return domainchat.Message{}, err
	}
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	if messageID == "" || userID == "" {
		return domainchat.Message{}, domainchat.Invalidf("message and user are required")
	}
	msg, err := retryRead(ctx, "load message", func() (domainchat.Message, error) {
		return s.Messages.ByID(ctx, domainchat.MessageID(messageID))
	})
	if err != nil {
		return domainchat.Message{}, err
	}
	if msg.RecipientID != userID {
		return domainchat.Message{}, domainchat.Deniedf("only the recipient can mark message %s read", messageID)
	}
	if msg.Read {
		return msg, nil
	}
	at := s.now()
	changed, err := s.Messages.MarkRead(ctx, msg.ID, at)
	if err != nil {
		return domainchat.Message{}, translate("mark message read", err)
	}
	if changed {
		msg.MarkRead(at)
		return msg, nil
	}
	// Lost a race with another reader; return the stored state.
	return retryRead(ctx, "reload message", func() (domainchat.Message, error) {
		return s.Messages.ByID(ctx, msg.ID)
	})
}

func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	if err := s.ensureDependencies(); err != nil {
		return 0, err
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return 0, domainchat.Invalidf("conversation and user are required")
	}
	conv, err := retryRead(ctx, "load conversation", func() (domainchat.Conversation, error) {
		return s.Conversations.ByID(ctx, domainchat.ConversationID(conversationID))
	})
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(userID) {
		return 0, domainchat.Deniedf("user is not a participant of conversation %s", conversationID)
	}
	n, err := s.Messages.MarkConversationRead(ctx, conv.ID, userID, s.now())
	if err != nil {
		return 0, translate("mark conversation read", err)
	}
	return n, nil
}

func (s *Service) UnreadTotal(ctx context.Context, userID string) (int, error) {
	overviews, err := s.ListConversationsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, o := range overviews {
		total += o.UnreadCount
	}
	return total, nil
}

func (s *Service) findOrCreate(ctx context.Context, draft domainchat.Conversation) (domainchat.Conversation, bool, error) {
	conv, created, err := s.Conversations.FindOrCreate(ctx, draft)
	if errors.Is(err, domainchat.ErrKeyConflict) {
		conv, created, err = s.Conversations.FindOrCreate(ctx, draft)
	}
	if err != nil {
		return domainchat.Conversation{}, false, translate("find or create conversation", err)
	}
	return conv, created, nil
}

func (s *Service) user(ctx context.Context, id string) (*domainuser.User, error) {
	u, err := s.Users.ByID(ctx, domainuser.ID(id))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, domainchat.NotFoundf("user %q", id)
		}
		return nil, domainchat.Transient("load user", err)
	}
	return u, nil
}

func (s *Service) listing(ctx context.Context, id string) (*listings.Listing, error) {
	l, err := s.Listings.ByID(ctx, listings.ListingID(id))
	if err != nil {
		if errors.Is(err, listings.ErrNotFound) {
			return nil, domainchat.NotFoundf("listing %q", id)
		}
		return nil, domainchat.Transient("load listing", err)
	}
	return l, nil
}

func (s *Service) ensureDependencies() error {
	if s == nil || s.Conversations == nil || s.Messages == nil || s.Users == nil || s.Listings == nil {
		return ErrServiceNotConfigured
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) observe(outcome string) {
	if s.Observer != nil {
		s.Observer.ObserveSend(outcome)
	}
}

func (s *Service) logInfo(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Info(msg, args...)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func summarize(l *listings.Listing) ListingSummary {
	return ListingSummary{
		ID:           string(l.ID),
		Title:        l.Title,
		Address:      l.Address.String(),
		ThumbnailURL: l.ThumbnailURL,
		OwnerID:      string(l.Host),
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

var _ Messaging = (*Service)(nil)
