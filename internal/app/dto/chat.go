package dto

import (
	"time"

	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	domainuser "rentchat/internal/domain/user"
)

// Message is the persisted message shape. The realtime gateway relays
// exactly this shape, so live and fetched messages look the same.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	ListingID      string     `json:"listing_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Content        string     `json:"content"`
	Kind           string     `json:"kind"`
	ClientMsgID    string     `json:"client_msg_id,omitempty"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Conversation describes chat metadata.
type Conversation struct {
	ID                 string    `json:"id"`
	ListingID          string    `json:"listing_id"`
	Participants       []string  `json:"participants"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	LastMessageID      string    `json:"last_message_id,omitempty"`
	LastMessageSender  string    `json:"last_message_sender_id,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	LastMessageAt      time.Time `json:"last_message_at,omitempty"`
}

type ListingSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Address      string `json:"address,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	OwnerID      string `json:"owner_id"`
}

type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type LastMessage struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id"`
	Preview  string    `json:"preview"`
	At       time.Time `json:"at"`
}

// ConversationOverview is one row of the inbox.
type ConversationOverview struct {
	Conversation Conversation    `json:"conversation"`
	Counterpart  Profile         `json:"counterpart"`
	Listing      *ListingSummary `json:"listing,omitempty"`
	LastMessage  *LastMessage    `json:"last_message,omitempty"`
	UnreadCount  int             `json:"unread_count"`
}

type ConversationList struct {
	Items []ConversationOverview `json:"items"`
}

// Thread is one page of a listing conversation, oldest message first.
type Thread struct {
	Conversation *Conversation  `json:"conversation,omitempty"`
	Messages     []Message      `json:"messages"`
	Total        int            `json:"total"`
	Page         int            `json:"page"`
	Limit        int            `json:"limit"`
	HasMore      bool           `json:"has_more"`
	Listing      ListingSummary `json:"listing"`
	Counterpart  *Profile       `json:"counterpart,omitempty"`
}

type SendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	ListingID   string `json:"listing_id"`
	Content     string `json:"content"`
	Kind        string `json:"kind,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type SendMessageResponse struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
	Created      bool         `json:"created"`
	Replayed     bool         `json:"replayed,omitempty"`
}

type MarkReadResponse struct {
	Message Message `json:"message"`
}

type MarkConversationReadResponse struct {
	Updated int `json:"updated"`
}

type UnreadTotal struct {
	Unread int `json:"unread"`
}

func FromMessage(m domainchat.Message) Message {
	out := Message{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		ListingID:      m.ListingID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Kind:           string(m.Kind),
		ClientMsgID:    m.ClientMsgID,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		out.ReadAt = &at
	}
	return out
}

func (m Message) Domain() domainchat.Message {
	out := domainchat.Message{
		ID:             domainchat.MessageID(m.ID),
		ConversationID: domainchat.ConversationID(m.ConversationID),
		ListingID:      m.ListingID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Kind:           domainchat.Kind(m.Kind),
		ClientMsgID:    m.ClientMsgID,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		out.ReadAt = &at
	}
	return out
}

func FromMessages(items []domainchat.Message) []Message {
	out := make([]Message, 0, len(items))
	for _, m := range items {
		out = append(out, FromMessage(m))
	}
	return out
}

func FromConversation(c domainchat.Conversation) Conversation {
	return Conversation{
		ID:                 string(c.ID),
		ListingID:          c.ListingID,
		Participants:       append([]string(nil), c.Participants...),
		Active:             c.Active,
		CreatedAt:          c.CreatedAt,
		LastMessageID:      string(c.LastMessageID),
		LastMessageSender:  c.LastMessageSenderID,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
	}
}

func (c Conversation) Domain() domainchat.Conversation {
	out := domainchat.Conversation{
		ID:                  domainchat.ConversationID(c.ID),
		ListingID:           c.ListingID,
		Participants:        append([]string(nil), c.Participants...),
		Active:              c.Active,
		CreatedAt:           c.CreatedAt,
		LastMessageID:       domainchat.MessageID(c.LastMessageID),
		LastMessageSenderID: c.LastMessageSender,
		LastMessagePreview:  c.LastMessagePreview,
		LastMessageAt:       c.LastMessageAt,
	}
	if len(out.Participants) == 2 {
		if pair, err := domainchat.NewPair(out.Participants[0], out.Participants[1]); err == nil {
			out.ParticipantKey = pair.Key()
		}
	}
	return out
}

func FromProfile(p domainuser.Profile) Profile {
	return Profile{ID: string(p.ID), Name: p.Name, AvatarURL: p.AvatarURL}
}

func (p Profile) Domain() domainuser.Profile {
	return domainuser.Profile{ID: domainuser.ID(p.ID), Name: p.Name, AvatarURL: p.AvatarURL}
}

func FromListingSummary(s chatsvc.ListingSummary) ListingSummary {
	return ListingSummary{
		ID:           s.ID,
		Title:        s.Title,
		Address:      s.Address,
		ThumbnailURL: s.ThumbnailURL,
		OwnerID:      s.OwnerID,
	}
}

func (s ListingSummary) Domain() chatsvc.ListingSummary {
	return chatsvc.ListingSummary{
		ID:           s.ID,
		Title:        s.Title,
		Address:      s.Address,
		ThumbnailURL: s.ThumbnailURL,
		OwnerID:      s.OwnerID,
	}
}

func FromSendResult(res chatsvc.SendResult) SendMessageResponse {
	return SendMessageResponse{
		Message:      FromMessage(res.Message),
		Conversation: FromConversation(res.Conversation),
		Created:      res.Created,
		Replayed:     res.Replayed,
	}
}

func (r SendMessageResponse) Domain() chatsvc.SendResult {
	return chatsvc.SendResult{
		Message:      r.Message.Domain(),
		Conversation: r.Conversation.Domain(),
		Created:      r.Created,
		Replayed:     r.Replayed,
	}
}

func FromThread(t chatsvc.Thread) Thread {
	out := Thread{
		Messages: FromMessages(t.Messages),
		Total:    t.Total,
		Page:     t.Page,
		Limit:    t.Limit,
		HasMore:  t.HasMore,
		Listing:  FromListingSummary(t.Listing),
	}
	if t.Conversation != nil {
		conv := FromConversation(*t.Conversation)
		out.Conversation = &conv
	}
	if t.Counterpart != nil {
		p := FromProfile(*t.Counterpart)
		out.Counterpart = &p
	}
	return out
}

func (t Thread) Domain() chatsvc.Thread {
	out := chatsvc.Thread{
		Messages: make([]domainchat.Message, 0, len(t.Messages)),
		Total:    t.Total,
		Page:     t.Page,
		Limit:    t.Limit,
		HasMore:  t.HasMore,
		Listing:  t.Listing.Domain(),
	}
	for _, m := range t.Messages {
		out.Messages = append(out.Messages, m.Domain())
	}
	if t.Conversation != nil {
		conv := t.Conversation.Domain()
		out.Conversation = &conv
	}
	if t.Counterpart != nil {
		p := t.Counterpart.Domain()
		out.Counterpart = &p
	}
	return out
}

func FromOverviews(items []chatsvc.Overview) ConversationList {
	out := ConversationList{Items: make([]ConversationOverview, 0, len(items))}
	for _, o := range items {
		row := ConversationOverview{
			Conversation: FromConversation(o.Conversation),
			Counterpart:  FromProfile(o.Counterpart),
			UnreadCount:  o.UnreadCount,
		}
		if o.Listing != nil {
			l := FromListingSummary(*o.Listing)
			row.Listing = &l
		}
		if o.LastMessage != nil {
			row.LastMessage = &LastMessage{
				ID:       string(o.LastMessage.ID),
				SenderID: o.LastMessage.SenderID,
				Preview:  o.LastMessage.Preview,
				At:       o.LastMessage.At,
			}
		}
		out.Items = append(out.Items, row)
	}
	return out
}

func (l ConversationList) Domain() []chatsvc.Overview {
	out := make([]chatsvc.Overview, 0, len(l.Items))
	for _, row := range l.Items {
		o := chatsvc.Overview{
			Conversation: row.Conversation.Domain(),
			Counterpart:  row.Counterpart.Domain(),
			UnreadCount:  row.UnreadCount,
		}
		if row.Listing != nil {
			s := row.Listing.Domain()
			o.Listing = &s
		}
		if row.LastMessage != nil {
			o.LastMessage = &chatsvc.LastMessage{
				ID:       domainchat.MessageID(row.LastMessage.ID),
				SenderID: row.LastMessage.SenderID,
				Preview:  row.LastMessage.Preview,
				At:       row.LastMessage.At,
			}
		}
		out = append(out, o)
	}
	return out
}
