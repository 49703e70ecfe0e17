package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"rentchat/internal/app/dto"
	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/realtime/protocol"
)

var (
	ErrNotConnected = fmt.Errorf("%w: not connected", domainchat.ErrGatewayUnavailable)
	ErrUnauthorized = errors.New("chatclient: credential rejected")
	ErrNoIdentity   = errors.New("chatclient: connect before sending")
	ErrRejected     = errors.New("chatclient: gateway rejected event")
)

type Options struct {
	// URL is the gateway endpoint, e.g. ws://localhost:8080/ws.
	URL            string
	Messaging      chatsvc.Messaging
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	TypingTTL      time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	SendQueue      int
	ReadLimit      int64
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 5 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = 30 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Adapter is the client side of realtime chat. Every send is a dual write:
// a best-effort live event through the gateway and a durable call to the
// message service. Only the durable result is returned to callers.
type Adapter struct {
	opts   Options
	logger *slog.Logger

	connectMu sync.Mutex

	mu         sync.Mutex
	credential string
	userID     string
	sess       *session
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	room       string
	typing     map[string]*time.Timer
	remote     map[string]*time.Timer

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(opts Options) *Adapter {
	opts = opts.withDefaults()
	return &Adapter{
		opts:   opts,
		logger: opts.Logger,
		typing: make(map[string]*time.Timer),
		remote: make(map[string]*time.Timer),
		subs:   make(map[int]chan Event),
	}
}

// Connect opens the live connection for an identity. Calling it again with
// the same identity is a no-op; a different identity replaces the old
// connection.
func (a *Adapter) Connect(ctx context.Context, credential, userID string) error {
	credential = strings.TrimSpace(credential)
	userID = strings.TrimSpace(userID)
	if credential == "" || userID == "" {
		return fmt.Errorf("%w: credential and user id are required", domainchat.ErrValidation)
	}

	a.connectMu.Lock()
	defer a.connectMu.Unlock()

	a.mu.Lock()
	same := a.cancelLoop != nil && a.credential == credential && a.userID == userID
	a.mu.Unlock()
	if same {
		return nil
	}
	a.teardown("identity change")

	sess, err := a.dial(ctx, credential)
	if err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.credential = credential
	a.userID = userID
	a.room = ""
	a.sess = sess
	a.cancelLoop = cancel
	a.loopDone = done
	a.mu.Unlock()

	a.logger.Info("chat.connect", "user_id", userID)
	go a.loop(loopCtx, sess, done)
	return nil
}

// Disconnect closes the live connection and forgets the identity.
func (a *Adapter) Disconnect() {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	a.teardown("disconnect")
	a.mu.Lock()
	a.credential = ""
	a.userID = ""
	a.room = ""
	a.mu.Unlock()
}

func (a *Adapter) teardown(reason string) {
	a.mu.Lock()
	cancel, done, sess := a.cancelLoop, a.loopDone, a.sess
	a.cancelLoop, a.loopDone, a.sess = nil, nil, nil
	for key, t := range a.typing {
		t.Stop()
		delete(a.typing, key)
	}
	for key, t := range a.remote {
		t.Stop()
		delete(a.remote, key)
	}
	a.mu.Unlock()

	if sess != nil {
		sess.close(true, reason)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Connected reports whether a live connection is currently up.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess != nil
}

func (a *Adapter) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// Room is the last joined listing, rejoined after a reconnect.
func (a *Adapter) Room() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.room
}

func (a *Adapter) JoinRoom(listingID string) error {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return fmt.Errorf("%w: listing id is required", domainchat.ErrValidation)
	}
	a.mu.Lock()
	a.room = listingID
	a.mu.Unlock()
	return a.emit(protocol.Join{ListingID: listingID})
}

func (a *Adapter) LeaveRoom() error {
	a.mu.Lock()
	had := a.room != ""
	a.room = ""
	a.mu.Unlock()
	if !had {
		return nil
	}
	return a.emit(protocol.Leave{})
}

// SendMessage emits the live event, then performs the durable write and
// returns its result. A live failure is logged and otherwise ignored.
func (a *Adapter) SendMessage(ctx context.Context, listingID, recipientID, content string) (chatsvc.SendResult, error) {
	userID := a.UserID()
	if userID == "" {
		return chatsvc.SendResult{}, ErrNoIdentity
	}
	if a.opts.Messaging == nil {
		return chatsvc.SendResult{}, chatsvc.ErrServiceNotConfigured
	}
	clientMsgID := protocol.NewID(time.Now())

	a.cancelTyping(listingID, recipientID)
	if err := a.emit(protocol.SendMessage{
		ListingID:   listingID,
		RecipientID: recipientID,
		Content:     content,
		ClientMsgID: clientMsgID,
	}); err != nil {
		a.logger.Info("chat.live_send.skipped", "listing_id", listingID, "client_msg_id", clientMsgID, "error", err)
	}

	dctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()
	res, err := a.opts.Messaging.SendMessage(dctx, chatsvc.SendParams{
		SenderID:    userID,
		RecipientID: recipientID,
		ListingID:   listingID,
		Content:     content,
		ClientMsgID: clientMsgID,
	})
	if err != nil {
		a.logger.Warn("chat.durable_send.fail", "listing_id", listingID, "client_msg_id", clientMsgID, "error", err)
		return chatsvc.SendResult{}, err
	}
	return res, nil
}

// Thread fetches history through the message service, typically after a
// reconnected event.
func (a *Adapter) Thread(ctx context.Context, listingID, counterpartID string, page, limit int) (chatsvc.Thread, error) {
	if a.opts.Messaging == nil {
		return chatsvc.Thread{}, chatsvc.ErrServiceNotConfigured
	}
	dctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()
	return a.opts.Messaging.GetConversationByListing(dctx, chatsvc.ThreadQuery{
		ListingID:     listingID,
		UserID:        a.UserID(),
		CounterpartID: counterpartID,
		Page:          page,
		Limit:         limit,
	})
}

// MarkRead records the read durably, then tells the sender live.
func (a *Adapter) MarkRead(ctx context.Context, msg dto.Message) (domainchat.Message, error) {
	userID := a.UserID()
	if userID == "" {
		return domainchat.Message{}, ErrNoIdentity
	}
	if a.opts.Messaging == nil {
		return domainchat.Message{}, chatsvc.ErrServiceNotConfigured
	}
	dctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()
	updated, err := a.opts.Messaging.MarkMessageRead(dctx, msg.ID, userID)
	if err != nil {
		return domainchat.Message{}, err
	}
	if err := a.emit(protocol.MarkRead{
		MessageID: string(updated.ID),
		ListingID: updated.ListingID,
		SenderID:  updated.SenderID,
	}); err != nil {
		a.logger.Info("chat.live_read.skipped", "message_id", updated.ID, "error", err)
	}
	return updated, nil
}

// StartTyping emits a typing notice and stops it automatically after the
// typing TTL unless called again.
func (a *Adapter) StartTyping(listingID, recipientID string) error {
	err := a.emit(protocol.TypingStart{ListingID: listingID, RecipientID: recipientID})
	a.mu.Lock()
	if t := a.typing[listingID]; t != nil {
		t.Stop()
	}
	a.typing[listingID] = time.AfterFunc(a.opts.TypingTTL, func() {
		_ = a.StopTyping(listingID, recipientID)
	})
	a.mu.Unlock()
	return err
}

func (a *Adapter) StopTyping(listingID, recipientID string) error {
	a.mu.Lock()
	if t := a.typing[listingID]; t != nil {
		t.Stop()
		delete(a.typing, listingID)
	}
	a.mu.Unlock()
	return a.emit(protocol.TypingStop{ListingID: listingID, RecipientID: recipientID})
}

// cancelTyping stops a pending typing notice, if any.
func (a *Adapter) cancelTyping(listingID, recipientID string) {
	a.mu.Lock()
	_, pending := a.typing[listingID]
	a.mu.Unlock()
	if pending {
		_ = a.StopTyping(listingID, recipientID)
	}
}

func (a *Adapter) emit(ev protocol.Event) error {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.enqueue(ev)
}

func (a *Adapter) dial(ctx context.Context, credential string) (*session, error) {
	dctx, cancel := context.WithTimeout(ctx, a.opts.DialTimeout)
	defer cancel()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+credential)
	ws, resp, err := websocket.Dial(dctx, a.opts.URL, &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: %v", domainchat.ErrGatewayUnavailable, err)
	}
	ws.SetReadLimit(a.opts.ReadLimit)
	s := &session{
		ws:   ws,
		out:  make(chan []byte, a.opts.SendQueue),
		done: make(chan struct{}),
	}
	go s.writer(a.opts.WriteTimeout, a.logger)
	return s, nil
}
