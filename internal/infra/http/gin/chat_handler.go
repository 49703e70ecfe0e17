package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentchat/internal/app/dto"
	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/obs"
)

// ChatHTTP exposes chat endpoints.
type ChatHTTP interface {
	ListMyConversations(c *gin.Context)
	UnreadTotal(c *gin.Context)
	ListingConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkMessageRead(c *gin.Context)
	MarkConversationRead(c *gin.Context)
}

// ChatHandler bridges HTTP with the message service, in process or over gRPC.
type ChatHandler struct {
	Messaging chatsvc.Messaging
	Logger    *slog.Logger
}

// ListMyConversations returns the caller's inbox. Admins may look at another
// user's inbox with ?user_id=.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	who, ok := requireCaller(c)
	if !ok {
		return
	}
	if !h.available(c) {
		return
	}
	target := who.UserID()
	if filter := strings.TrimSpace(c.Query("user_id")); filter != "" && filter != who.UserID() {
		if !who.Admin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		target = filter
	}
	items, err := h.Messaging.ListConversationsForUser(c.Request.Context(), target)
	if err != nil {
		h.respondMessagingError(c, err, "list conversations", "user_id", target)
		return
	}
	c.JSON(http.StatusOK, dto.FromOverviews(items))
}

func (h ChatHandler) UnreadTotal(c *gin.Context) {
	who, ok := requireCaller(c)
	if !ok {
		return
	}
	if !h.available(c) {
		return
	}
	total, err := h.Messaging.UnreadTotal(c.Request.Context(), who.UserID())
	if err != nil {
		h.respondMessagingError(c, err, "unread total", "user_id", who.UserID())
		return
	}
	c.JSON(http.StatusOK, dto.UnreadTotal{Unread: total})
}

// ListingConversation returns one page of the caller's conversation about a
// listing. Landlords pick the tenant with ?counterpart_id=.
func (h ChatHandler) ListingConversation(c *gin.Context) {
	who, ok := requireCaller(c)
	if !ok {
		return
	}
	if !h.available(c) {
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	if listingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	thread, err := h.Messaging.GetConversationByListing(c.Request.Context(), chatsvc.ThreadQuery{
		ListingID:     listingID,
		UserID:        who.UserID(),
		CounterpartID: c.Query("counterpart_id"),
		Page:          parsePositiveIntStrict(c.Query("page"), 1),
		Limit:         parsePositiveIntStrict(c.Query("limit"), chatsvc.DefaultPageLimit),
	})
	if err != nil {
		h.respondMessagingError(c, err, "load conversation", "listing_id", listingID, "user_id", who.UserID())
		return
	}
	c.JSON(http.StatusOK, dto.FromThread(thread))
}

// SendMessage stores a message from the caller. The sender is always the
// authenticated user.
func (h ChatHandler) SendMessage(c *gin.Context) {
	who, ok := requireCaller(c)
	if !ok {
		return
	}
	if !h.available(c) {
		return
	}
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.Messaging.SendMessage(c.Request.Context(), chatsvc.SendParams{
		SenderID:    who.UserID(),
		RecipientID: req.RecipientID,
		ListingID:   req.ListingID,
		Content:     req.Content,
		Kind:        req.Kind,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		h.respondMessagingError(c, err, "send message", "listing_id", req.ListingID, "user_id", who.UserID())
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	c.JSON(code, dto.FromSendResult(res))
}

func (h ChatHandler) MarkMessageRead(c *gin.Context) {
	who, ok := requireCaller(c)
	if !ok {
		return
	}
	if !h.available(c) {
		return
	}
	messageID := strings.TrimSpace(c.Param("id"))
	msg, err := h.Messaging.MarkMessageRead(c.Request.Context(), messageID, who.UserID())
	if err != nil {
		h.respondMessagingError(c, err, "mark message read", "message_id", messageID, "user_id", who.UserID())
		return
	}
	c.JSON(http.StatusOK, dto.MarkReadResponse{Message: dto.FromMessage(msg)})
}

func (h ChatHandler) MarkConversationRead(c *gin.Context) {
	who, ok := requireCaller(c)
	if !ok {
		return
	}
	if !h.available(c) {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	n, err := h.Messaging.MarkConversationRead(c.Request.Context(), conversationID, who.UserID())
	if err != nil {
		h.respondMessagingError(c, err, "mark conversation read", "conversation_id", conversationID, "user_id", who.UserID())
		return
	}
	c.JSON(http.StatusOK, dto.MarkConversationReadResponse{Updated: n})
}

func (h ChatHandler) available(c *gin.Context) bool {
	if h.Messaging == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return false
	}
	return true
}

func (h ChatHandler) respondMessagingError(c *gin.Context, err error, action string, attrs ...any) {
	status, body := httpError(err)
	if h.Logger != nil {
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		ctx := c.Request.Context()
		attrs = append([]any{"action", action, "request_id", obs.RequestIDFromContext(ctx), "error", err}, attrs...)
		h.Logger.Log(ctx, level, "messaging call failed", attrs...)
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func httpError(err error) (int, gin.H) {
	switch {
	case errors.Is(err, domainchat.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, domainchat.ErrValidation):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, domainchat.ErrAccessDenied):
		return http.StatusForbidden, gin.H{"error": "forbidden"}
	case errors.Is(err, domainchat.ErrTransientStore),
		errors.Is(err, domainchat.ErrGatewayUnavailable),
		errors.Is(err, chatsvc.ErrServiceNotConfigured):
		return http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = (*ChatHandler)(nil)
