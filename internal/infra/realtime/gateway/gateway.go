package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"rentchat/internal/app/dto"
	"rentchat/internal/app/services/auth"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/config"
	"rentchat/internal/infra/realtime/protocol"
)

const closeGrace = time.Second

// TokenResolver authenticates the credential presented on the handshake.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*auth.ResolveResult, error)
}

// Metrics receives gateway counters. *obs.Metrics implements it.
type Metrics interface {
	ConnOpened()
	ConnClosed()
	RoomsActive(n int)
	Relayed(kind string)
	Dropped(kind, reason string)
}

// ConversationLookup lists a user's conversations on a listing. The gateway
// uses it to confirm read receipts go to a conversation partner.
type ConversationLookup interface {
	ByListing(ctx context.Context, listingID, userID string) ([]domainchat.Conversation, error)
}

type Options struct {
	// Conversations, when set, gates read receipts on shared conversations.
	Conversations     ConversationLookup
	AllowedOrigins    []string
	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HeartbeatFailures int
	SendQueue         int
	RateEvents        int
	RateWindow        time.Duration
	MaxMessageBytes   int64
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AllowedOrigins:    append([]string(nil), cfg.WSAllowedOrigins...),
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadIdleTimeout:   cfg.WSReadIdleTimeout,
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		HeartbeatTimeout:  cfg.WSHeartbeatTimeout,
		HeartbeatFailures: cfg.WSHeartbeatFailures,
		SendQueue:         cfg.WSSendQueue,
		RateEvents:        cfg.WSRateEvents,
		RateWindow:        cfg.WSRateWindow,
		MaxMessageBytes:   cfg.WSMaxMessageBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadIdleTimeout <= 0 {
		o.ReadIdleTimeout = time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 20 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	if o.HeartbeatFailures <= 0 {
		o.HeartbeatFailures = 2
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	return o
}

// Gateway is the websocket endpoint. It authenticates connections, tracks
// room membership in its Registry and relays ephemeral events. It keeps no
// durable state.
type Gateway struct {
	registry *Registry
	auth     TokenResolver
	opts     Options
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

func New(registry *Registry, resolver TokenResolver, opts Options, logger *slog.Logger, metrics Metrics) *Gateway {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Gateway{
		registry: registry,
		auth:     resolver,
		opts:     opts.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// ServeHTTP authenticates the handshake, upgrades and runs the connection
// until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := checkOrigin(r, g.opts.AllowedOrigins); err != nil {
		g.logger.Info("ws.reject.origin", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	token := credential(r)
	if token == "" || g.auth == nil {
		g.logger.Info("ws.reject.auth", "reason", "missing credential", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	resolved, err := g.auth.ResolveToken(r.Context(), token)
	if err != nil {
		g.logger.Info("ws.reject.auth", "reason", err.Error(), "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{protocol.Subprotocol},
		OriginPatterns:     originPatterns(g.opts.AllowedOrigins),
		InsecureSkipVerify: len(g.opts.AllowedOrigins) == 0,
	})
	if err != nil {
		g.logger.Error("ws.accept.fail", "error", err)
		return
	}
	if sp := ws.Subprotocol(); sp != protocol.Subprotocol {
		g.logger.Info("ws.reject.subprotocol", "got", sp, "want", protocol.Subprotocol)
		_ = ws.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}
	ws.SetReadLimit(g.opts.MaxMessageBytes)

	now := g.now()
	conn := newConn(protocol.NewID(now), string(resolved.User.ID), resolved.Identity.ExpiresAt, g.opts.SendQueue)
	g.registry.Add(conn)
	g.metrics.ConnOpened()
	g.logger.Info("ws.accept", "conn_id", conn.ID, "user_id", conn.UserID)

	g.run(r.Context(), ws, conn)
}

func (g *Gateway) run(parent context.Context, ws *websocket.Conn, conn *Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if prev := g.registry.Remove(conn); prev != "" {
				g.announceLeft(conn, prev)
			}
			conn.Close()
			_ = ws.Close(code, reason)
			cancel()
			g.metrics.ConnClosed()
			g.metrics.RoomsActive(g.registry.Rooms())
			g.logger.Info("ws.close", "conn_id", conn.ID, "user_id", conn.UserID, "reason", reason)
		})
	}

	if !conn.ExpiresAt.IsZero() {
		ttl := conn.ExpiresAt.Sub(g.now())
		if ttl <= 0 {
			shutdown(websocket.StatusPolicyViolation, "credential expired")
			return
		}
		timer := time.AfterFunc(ttl, func() {
			g.logger.Info("ws.expired", "conn_id", conn.ID, "user_id", conn.UserID)
			shutdown(websocket.StatusPolicyViolation, "credential expired")
		})
		defer timer.Stop()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case f := <-conn.send:
				wctx, wcancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
				err := ws.Write(wctx, websocket.MessageText, f.data)
				wcancel()
				if err != nil {
					g.logger.Info("ws.write.fail", "conn_id", conn.ID, "kind", f.kind, "error", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.opts.HeartbeatInterval)
		defer t.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case <-t.C:
				hctx, hcancel := context.WithTimeout(ctx, g.opts.HeartbeatTimeout)
				err := ws.Ping(hctx)
				hcancel()
				if err == nil {
					failures = 0
					continue
				}
				failures++
				g.logger.Info("ws.ping.fail", "conn_id", conn.ID, "failures", failures, "error", err)
				if failures >= g.opts.HeartbeatFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
			}
		}
	}()

	limiter := NewRateLimiter(g.opts.RateEvents, g.opts.RateWindow)
	g.readLoop(ctx, ws, conn, limiter, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, limiter *RateLimiter, shutdown func(websocket.StatusCode, string)) {
	for {
		rctx, rcancel := context.WithTimeout(ctx, g.opts.ReadIdleTimeout)
		typ, data, err := ws.Read(rctx)
		rcancel()
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusGoingAway, "idle timeout")
			case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.logger.Info("ws.read.fail", "conn_id", conn.ID, "error", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			g.replyError(conn, "", "unsupported_frame", "text frames only")
			continue
		}
		env, ev, err := protocol.Decode(data)
		if !unlimited(ev) && !limiter.Allow(g.now()) {
			g.replyError(conn, env.ID, "rate_limited", "too many events")
			g.metrics.Dropped("inbound", "rate_limited")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}
		if err != nil {
			g.replyError(conn, env.ID, "bad_event", err.Error())
			continue
		}
		if stop := g.dispatch(ctx, conn, env, ev, shutdown); stop {
			return
		}
	}
}

// unlimited reports whether ev bypasses the per-connection rate limit.
// Typing signals are bounded by connection throughput only.
func unlimited(ev protocol.Event) bool {
	switch ev.(type) {
	case protocol.TypingStart, protocol.TypingStop:
		return true
	}
	return false
}

// dispatch handles one decoded client event. It reports whether the read
// loop should stop.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, env protocol.Envelope, ev protocol.Event, shutdown func(websocket.StatusCode, string)) bool {
	switch e := ev.(type) {
	case protocol.Join:
		g.onJoin(conn, e)
	case protocol.Leave:
		g.onLeave(conn)
	case protocol.SendMessage:
		g.onSendMessage(conn, env, e)
	case protocol.TypingStart:
		g.onTyping(conn, env, e.ListingID, e.RecipientID, true)
	case protocol.TypingStop:
		g.onTyping(conn, env, e.ListingID, e.RecipientID, false)
	case protocol.MarkRead:
		g.onMarkRead(ctx, conn, env, e)
	case protocol.Logout:
		g.logger.Info("ws.logout", "conn_id", conn.ID, "user_id", conn.UserID)
		shutdown(websocket.StatusNormalClosure, "logout")
		return true
	default:
		g.replyError(conn, env.ID, "unsupported", "event not accepted from clients: "+string(ev.Type()))
	}
	return false
}

func (g *Gateway) onJoin(conn *Conn, e protocol.Join) {
	listingID := strings.TrimSpace(e.ListingID)
	wasPresent := g.registry.InRoom(listingID, conn.UserID)
	prev, ok := g.registry.Join(conn, listingID)
	if !ok {
		return
	}
	if prev != "" && prev != listingID {
		g.announceLeft(conn, prev)
	}
	g.metrics.RoomsActive(g.registry.Rooms())
	g.logger.Info("ws.join", "conn_id", conn.ID, "user_id", conn.UserID, "listing_id", listingID, "previous", prev)

	g.sendTo(conn, protocol.Joined{ListingID: listingID, Online: g.registry.Online(listingID, conn.UserID)})
	if !wasPresent {
		g.broadcastRoom(listingID, conn.UserID, "", protocol.Presence{ListingID: listingID, UserID: conn.UserID, Online: true})
	}
}

func (g *Gateway) onLeave(conn *Conn) {
	prev := g.registry.Leave(conn)
	g.metrics.RoomsActive(g.registry.Rooms())
	if prev == "" {
		return
	}
	g.logger.Info("ws.leave", "conn_id", conn.ID, "user_id", conn.UserID, "listing_id", prev)
	g.sendTo(conn, protocol.Left{ListingID: prev})
	g.announceLeft(conn, prev)
}

// announceLeft tells the room a user went offline once their last
// connection in it is gone.
func (g *Gateway) announceLeft(conn *Conn, listingID string) {
	if g.registry.InRoom(listingID, conn.UserID) {
		return
	}
	g.broadcastRoom(listingID, conn.UserID, "", protocol.Presence{ListingID: listingID, UserID: conn.UserID, Online: false})
}

func (g *Gateway) onSendMessage(conn *Conn, env protocol.Envelope, e protocol.SendMessage) {
	listingID := strings.TrimSpace(e.ListingID)
	recipientID := strings.TrimSpace(e.RecipientID)
	if recipientID == conn.UserID {
		g.replyError(conn, env.ID, "invalid", "cannot message yourself")
		return
	}
	content, err := domainchat.NormalizeContent(e.Content)
	if err != nil {
		g.replyError(conn, env.ID, "invalid", err.Error())
		return
	}
	kind, err := domainchat.ParseKind(e.Kind)
	if err != nil {
		g.replyError(conn, env.ID, "invalid", err.Error())
		return
	}
	msg := protocol.MessageReceived{Message: dto.Message{
		ListingID:   listingID,
		SenderID:    conn.UserID,
		RecipientID: recipientID,
		Content:     content,
		Kind:        string(kind),
		ClientMsgID: strings.TrimSpace(e.ClientMsgID),
		CreatedAt:   g.now().UTC(),
	}}
	if n := g.broadcastRoom(listingID, "", recipientID, msg); n == 0 {
		g.metrics.Dropped(string(protocol.TypeMessageReceived), "recipient_offline")
	}
}

func (g *Gateway) onTyping(conn *Conn, env protocol.Envelope, listingID, recipientID string, started bool) {
	listingID = strings.TrimSpace(listingID)
	if conn.Room() != listingID {
		g.replyError(conn, env.ID, "not_joined", "join the listing room first")
		return
	}
	var ev protocol.Event = protocol.UserStoppedTyping{ListingID: listingID, UserID: conn.UserID}
	if started {
		ev = protocol.UserTyping{ListingID: listingID, UserID: conn.UserID}
	}
	g.broadcastRoom(listingID, conn.UserID, strings.TrimSpace(recipientID), ev)
}

func (g *Gateway) onMarkRead(ctx context.Context, conn *Conn, env protocol.Envelope, e protocol.MarkRead) {
	senderID := strings.TrimSpace(e.SenderID)
	listingID := strings.TrimSpace(e.ListingID)
	if err := g.checkPartner(ctx, listingID, conn.UserID, senderID); err != nil {
		g.logger.Info("ws.read.reject", "conn_id", conn.ID, "user_id", conn.UserID, "sender_id", senderID, "listing_id", listingID, "error", err)
		code := "forbidden"
		if errors.Is(err, domainchat.ErrTransientStore) {
			code = "unavailable"
		}
		g.replyError(conn, env.ID, code, err.Error())
		return
	}
	ev := protocol.MessageRead{
		MessageID: strings.TrimSpace(e.MessageID),
		ListingID: listingID,
		ReaderID:  conn.UserID,
		ReadAt:    g.now().UTC(),
	}
	data, err := protocol.Encode(ev, g.now())
	if err != nil {
		g.logger.Error("ws.encode.fail", "kind", ev.Type(), "error", err)
		return
	}
	delivered := 0
	for _, target := range g.registry.UserConns(senderID) {
		if g.deliver(target, frame{kind: ev.Type(), data: data}) {
			delivered++
		}
	}
	if delivered == 0 {
		g.metrics.Dropped(string(ev.Type()), "recipient_offline")
	}
}

// checkPartner confirms userID and partnerID share a conversation on the
// listing. Without a lookup every pair passes.
func (g *Gateway) checkPartner(ctx context.Context, listingID, userID, partnerID string) error {
	if partnerID == "" || partnerID == userID {
		return domainchat.Deniedf("read receipt needs the message sender")
	}
	if g.opts.Conversations == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
	defer cancel()
	convs, err := g.opts.Conversations.ByListing(lctx, listingID, userID)
	if err != nil {
		if domainchat.IsClientError(err) {
			return err
		}
		return domainchat.Transient("lookup conversations", err)
	}
	for _, c := range convs {
		if c.HasParticipant(partnerID) {
			return nil
		}
	}
	return domainchat.Deniedf("no conversation with %s on listing %s", partnerID, listingID)
}

// broadcastRoom relays ev to the room's connections, skipping exclude's
// connections and, when only is set, everyone but only. It returns the
// number of connections the event was queued on.
func (g *Gateway) broadcastRoom(listingID, exclude, only string, ev protocol.Event) int {
	data, err := protocol.Encode(ev, g.now())
	if err != nil {
		g.logger.Error("ws.encode.fail", "kind", ev.Type(), "error", err)
		return 0
	}
	delivered := 0
	for _, target := range g.registry.Members(listingID) {
		if exclude != "" && target.UserID == exclude {
			continue
		}
		if only != "" && target.UserID != only {
			continue
		}
		if g.deliver(target, frame{kind: ev.Type(), data: data}) {
			delivered++
		}
	}
	return delivered
}

func (g *Gateway) sendTo(conn *Conn, ev protocol.Event) {
	data, err := protocol.Encode(ev, g.now())
	if err != nil {
		g.logger.Error("ws.encode.fail", "kind", ev.Type(), "error", err)
		return
	}
	g.deliver(conn, frame{kind: ev.Type(), data: data})
}

func (g *Gateway) deliver(conn *Conn, f frame) bool {
	if conn.enqueue(f) {
		g.metrics.Relayed(string(f.kind))
		return true
	}
	g.metrics.Dropped(string(f.kind), "queue_full")
	g.logger.Debug("ws.drop", "conn_id", conn.ID, "kind", f.kind)
	return false
}

func (g *Gateway) replyError(conn *Conn, ref, code, message string) {
	g.sendTo(conn, protocol.Error{Code: code, Message: message, Ref: ref})
}

// credential reads the bearer token from the Authorization header, falling
// back to the token query parameter for browser clients.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type noopMetrics struct{}

func (noopMetrics) ConnOpened()            {}
func (noopMetrics) ConnClosed()            {}
func (noopMetrics) RoomsActive(int)        {}
func (noopMetrics) Relayed(string)         {}
func (noopMetrics) Dropped(string, string) {}
