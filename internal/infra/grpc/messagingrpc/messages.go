package messagingrpc

import "rentchat/internal/app/dto"

type SendMessageRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	ListingID   string `json:"listing_id"`
	Content     string `json:"content"`
	Kind        string `json:"kind,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type GetConversationByListingRequest struct {
	ListingID     string `json:"listing_id"`
	UserID        string `json:"user_id"`
	CounterpartID string `json:"counterpart_id,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

type ListConversationsRequest struct {
	UserID string `json:"user_id"`
}

type MarkMessageReadRequest struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

type MarkConversationReadRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type UnreadTotalRequest struct {
	UserID string `json:"user_id"`
}

type (
	SendMessageResponse          = dto.SendMessageResponse
	ThreadResponse               = dto.Thread
	ListConversationsResponse    = dto.ConversationList
	MarkMessageReadResponse      = dto.MarkReadResponse
	MarkConversationReadResponse = dto.MarkConversationReadResponse
	UnreadTotalResponse          = dto.UnreadTotal
)
