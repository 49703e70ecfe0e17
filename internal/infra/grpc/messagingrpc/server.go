package messagingrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rentchat/internal/app/dto"
	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

// Server exposes the message service over gRPC.
type Server struct {
	Messaging chatsvc.Messaging
	Logger    *slog.Logger
}

func (s *Server) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if s.Messaging == nil {
		return nil, status.Error(codes.Unavailable, "messaging unavailable")
	}
	if err := authorize(ctx, req.SenderID); err != nil {
		return nil, err
	}
	res, err := s.Messaging.SendMessage(ctx, chatsvc.SendParams{
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		ListingID:   req.ListingID,
		Content:     req.Content,
		Kind:        req.Kind,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		return nil, s.toStatus(ctx, "send message", err)
	}
	resp := dto.FromSendResult(res)
	return &resp, nil
}

func (s *Server) GetConversationByListing(ctx context.Context, req *GetConversationByListingRequest) (*ThreadResponse, error) {
	if s.Messaging == nil {
		return nil, status.Error(codes.Unavailable, "messaging unavailable")
	}
	if err := authorizeRead(ctx, req.UserID); err != nil {
		return nil, err
	}
	thread, err := s.Messaging.GetConversationByListing(ctx, chatsvc.ThreadQuery{
		ListingID:     req.ListingID,
		UserID:        req.UserID,
		CounterpartID: req.CounterpartID,
		Page:          req.Page,
		Limit:         req.Limit,
	})
	if err != nil {
		return nil, s.toStatus(ctx, "get conversation", err)
	}
	resp := dto.FromThread(thread)
	return &resp, nil
}

func (s *Server) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	if s.Messaging == nil {
		return nil, status.Error(codes.Unavailable, "messaging unavailable")
	}
	if err := authorizeRead(ctx, req.UserID); err != nil {
		return nil, err
	}
	items, err := s.Messaging.ListConversationsForUser(ctx, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, "list conversations", err)
	}
	resp := dto.FromOverviews(items)
	return &resp, nil
}

func (s *Server) MarkMessageRead(ctx context.Context, req *MarkMessageReadRequest) (*MarkMessageReadResponse, error) {
	if s.Messaging == nil {
		return nil, status.Error(codes.Unavailable, "messaging unavailable")
	}
	if err := authorize(ctx, req.UserID); err != nil {
		return nil, err
	}
	msg, err := s.Messaging.MarkMessageRead(ctx, req.MessageID, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, "mark message read", err)
	}
	return &MarkMessageReadResponse{Message: dto.FromMessage(msg)}, nil
}

func (s *Server) MarkConversationRead(ctx context.Context, req *MarkConversationReadRequest) (*MarkConversationReadResponse, error) {
	if s.Messaging == nil {
		return nil, status.Error(codes.Unavailable, "messaging unavailable")
	}
	if err := authorize(ctx, req.UserID); err != nil {
		return nil, err
	}
	n, err := s.Messaging.MarkConversationRead(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, "mark conversation read", err)
	}
	return &MarkConversationReadResponse{Updated: n}, nil
}

func (s *Server) UnreadTotal(ctx context.Context, req *UnreadTotalRequest) (*UnreadTotalResponse, error) {
	if s.Messaging == nil {
		return nil, status.Error(codes.Unavailable, "messaging unavailable")
	}
	if err := authorizeRead(ctx, req.UserID); err != nil {
		return nil, err
	}
	n, err := s.Messaging.UnreadTotal(ctx, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, "unread total", err)
	}
	return &UnreadTotalResponse{Unread: n}, nil
}

func (s *Server) toStatus(ctx context.Context, action string, err error) error {
	code := StatusCode(err)
	if s.Logger != nil {
		level := slog.LevelWarn
		if code == codes.Internal || code == codes.Unavailable {
			level = slog.LevelError
		}
		s.Logger.Log(ctx, level, "grpc call failed", "action", action, "code", code.String(), "error", err)
	}
	return status.Error(code, err.Error())
}

// StatusCode maps the chat error taxonomy onto gRPC codes.
func StatusCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, domainchat.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domainchat.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domainchat.ErrAccessDenied):
		return codes.PermissionDenied
	case errors.Is(err, domainchat.ErrTransientStore),
		errors.Is(err, domainchat.ErrGatewayUnavailable),
		errors.Is(err, chatsvc.ErrServiceNotConfigured):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// FromStatus turns a gRPC error back into the chat taxonomy so callers on
// the client side can keep using errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch st.Code() {
	case codes.NotFound:
		return remoteError(domainchat.ErrNotFound, msg)
	case codes.InvalidArgument:
		return remoteError(domainchat.ErrValidation, msg)
	case codes.PermissionDenied, codes.Unauthenticated:
		return remoteError(domainchat.ErrAccessDenied, msg)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return domainchat.Transient("messaging rpc", err)
	default:
		return err
	}
}

func remoteError(sentinel error, msg string) error {
	msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	if msg == "" || msg == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

var _ MessagingServer = (*Server)(nil)
