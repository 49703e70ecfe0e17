package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/grpc/messagingrpc"
)

// Config defines gRPC client settings.
type Config struct {
	Addr        string
	CallTimeout time.Duration
	// Token is sent as a bearer credential on every call.
	Token string
	// DialOptions are appended to the defaults; tests use them to dial an
	// in-memory listener.
	DialOptions []grpc.DialOption
}

// Client is the message service reached over gRPC. It satisfies the same
// interface as the in-process service.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewClient prepares a connection to the messaging gRPC endpoint. The
// connection is established lazily on the first call.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("messaging: address required")
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(messagingrpc.CodecName)),
	}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(messagingrpc.BearerCredentials{Token: cfg.Token}))
	}
	opts = append(opts, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("messaging grpc client ready", "addr", cfg.Addr)
	}
	return &Client{conn: conn, callTimeout: callTimeout, logger: logger}, nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) SendMessage(ctx context.Context, params chatsvc.SendParams) (chatsvc.SendResult, error) {
	var resp messagingrpc.SendMessageResponse
	err := c.invoke(ctx, messagingrpc.SendMessageMethod, &messagingrpc.SendMessageRequest{
		SenderID:    params.SenderID,
		RecipientID: params.RecipientID,
		ListingID:   params.ListingID,
		Content:     params.Content,
		Kind:        params.Kind,
		ClientMsgID: params.ClientMsgID,
	}, &resp)
	if err != nil {
		return chatsvc.SendResult{}, err
	}
	return resp.Domain(), nil
}

func (c *Client) GetConversationByListing(ctx context.Context, query chatsvc.ThreadQuery) (chatsvc.Thread, error) {
	var resp messagingrpc.ThreadResponse
	err := c.invoke(ctx, messagingrpc.GetConversationByListingMethod, &messagingrpc.GetConversationByListingRequest{
		ListingID:     query.ListingID,
		UserID:        query.UserID,
		CounterpartID: query.CounterpartID,
		Page:          query.Page,
		Limit:         query.Limit,
	}, &resp)
	if err != nil {
		return chatsvc.Thread{}, err
	}
	return resp.Domain(), nil
}

func (c *Client) ListConversationsForUser(ctx context.Context, userID string) ([]chatsvc.Overview, error) {
	var resp messagingrpc.ListConversationsResponse
	if err := c.invoke(ctx, messagingrpc.ListConversationsMethod, &messagingrpc.ListConversationsRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return resp.Domain(), nil
}

func (c *Client) MarkMessageRead(ctx context.Context, messageID, userID string) (domainchat.Message, error) {
	var resp messagingrpc.MarkMessageReadResponse
	err := c.invoke(ctx, messagingrpc.MarkMessageReadMethod, &messagingrpc.MarkMessageReadRequest{
		MessageID: messageID,
		UserID:    userID,
	}, &resp)
	if err != nil {
		return domainchat.Message{}, err
	}
	return resp.Message.Domain(), nil
}

func (c *Client) MarkConversationRead(ctx context.Context, conversationID, userID string) (int, error) {
	var resp messagingrpc.MarkConversationReadResponse
	err := c.invoke(ctx, messagingrpc.MarkConversationReadMethod, &messagingrpc.MarkConversationReadRequest{
		ConversationID: conversationID,
		UserID:         userID,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (c *Client) UnreadTotal(ctx context.Context, userID string) (int, error) {
	var resp messagingrpc.UnreadTotalResponse
	if err := c.invoke(ctx, messagingrpc.UnreadTotalMethod, &messagingrpc.UnreadTotalRequest{UserID: userID}, &resp); err != nil {
		return 0, err
	}
	return resp.Unread, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()
	if err := c.conn.Invoke(callCtx, method, req, resp); err != nil {
		if c.logger != nil {
			c.logger.Debug("messaging call failed", "method", method, "error", err)
		}
		return messagingrpc.FromStatus(err)
	}
	return nil
}

func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

var _ chatsvc.Messaging = (*Client)(nil)
