package chatclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rentchat/internal/app/dto"
	authsvc "rentchat/internal/app/services/auth"
	chatsvc "rentchat/internal/app/services/chat"
	"rentchat/internal/infra/fixtures"
	"rentchat/internal/infra/realtime/gateway"
	"rentchat/internal/infra/realtime/protocol"
	"rentchat/internal/infra/storage/memory"
)

const listingID = "listing-1"

type harness struct {
	url  string
	gw   *gateway.Gateway
	auth *authsvc.Service
	svc  *chatsvc.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	users := memory.NewUserDirectory()
	lst := memory.NewListingDirectory()
	auth := &authsvc.Service{Users: users, Sessions: memory.NewSessionStore(), SessionTTL: time.Hour}
	if err := fixtures.Demo().Seed(ctx, users, lst, auth, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := &chatsvc.Service{
		Conversations: memory.NewConversationStore(),
		Messages:      memory.NewMessageStore(),
		Users:         users,
		Listings:      lst,
		Ledger:        memory.NewSendLedger(),
	}
	gw := gateway.New(gateway.NewRegistry(), auth, gateway.Options{}, nil, nil)
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{
		url:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		gw:   gw,
		auth: auth,
		svc:  svc,
	}
}

func (h *harness) adapter(t *testing.T, opts Options) *Adapter {
	t.Helper()
	opts.URL = h.url
	opts.Messaging = h.svc
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 10 * time.Millisecond
		opts.BackoffMax = 50 * time.Millisecond
	}
	a := New(opts)
	t.Cleanup(a.Disconnect)
	return a
}

func (h *harness) connected(t *testing.T, token, userID string, opts Options) *Adapter {
	t.Helper()
	a := h.adapter(t, opts)
	if err := a.Connect(context.Background(), token, userID); err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	return a
}

// joined connects and joins the room, waiting until the gateway has
// registered the membership.
func (h *harness) joined(t *testing.T, token, userID string, opts Options) *Adapter {
	t.Helper()
	a := h.connected(t, token, userID, opts)
	if err := a.JoinRoom(listingID); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return h.gw.Registry().InRoom(listingID, userID) })
	return a
}

func next(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSendMessageDualWrite(t *testing.T) {
	h := newHarness(t)
	tenant := h.joined(t, "tok-tenant-1", "tenant-1", Options{})
	landlord := h.joined(t, "tok-landlord-1", "landlord-1", Options{})
	events, unsubscribe := landlord.Subscribe(8)
	defer unsubscribe()

	res, err := tenant.SendMessage(context.Background(), listingID, "landlord-1", "Is the flat free in May?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Created || res.Message.ID == "" {
		t.Fatalf("expected a persisted first-contact message, got %+v", res)
	}

	ev := next(t, events, EventMessageReceived)
	if ev.Message.ClientMsgID != res.Message.ClientMsgID {
		t.Fatalf("live message %q does not reconcile with %q", ev.Message.ClientMsgID, res.Message.ClientMsgID)
	}
	if ev.Message.ID != "" || ev.UserID != "tenant-1" {
		t.Fatalf("unexpected live message: %+v", ev)
	}

	thread, err := landlord.Thread(context.Background(), listingID, "tenant-1", 1, 20)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread.Messages) != 1 || thread.Messages[0].ID != res.Message.ID {
		t.Fatalf("history does not hold the durable message: %+v", thread.Messages)
	}
}

func TestSendMessageWithoutGateway(t *testing.T) {
	h := newHarness(t)
	a := h.adapter(t, Options{})

	if _, err := a.SendMessage(context.Background(), listingID, "landlord-1", "hi"); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}

	// Identity known but no live connection: the durable write still lands.
	a.mu.Lock()
	a.userID = "tenant-1"
	a.mu.Unlock()
	res, err := a.SendMessage(context.Background(), listingID, "landlord-1", "hi")
	if err != nil {
		t.Fatalf("durable write failed with the gateway down: %v", err)
	}
	if res.Message.ClientMsgID == "" {
		t.Fatal("client message id not propagated to the durable write")
	}
	if err := a.JoinRoom(listingID); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if a.Room() != listingID {
		t.Fatal("room should be remembered for the next connection")
	}
}

func TestSendMessageReturnsDurableFailure(t *testing.T) {
	h := newHarness(t)
	tenant := h.joined(t, "tok-tenant-1", "tenant-1", Options{})

	_, err := tenant.SendMessage(context.Background(), "listing-missing", "landlord-1", "hello")
	if err == nil {
		t.Fatal("expected durable failure for an unknown listing")
	}
	if !strings.Contains(err.Error(), "listing") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConnectIdempotentAndIdentitySwitch(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t, "tok-tenant-1", "tenant-1", Options{})
	a.mu.Lock()
	first := a.sess
	a.mu.Unlock()

	if err := a.Connect(context.Background(), "tok-tenant-1", "tenant-1"); err != nil {
		t.Fatalf("reconnect same identity: %v", err)
	}
	a.mu.Lock()
	same := a.sess == first
	a.mu.Unlock()
	if !same {
		t.Fatal("same identity should reuse the connection")
	}
	waitFor(t, func() bool { return len(h.gw.Registry().UserConns("tenant-1")) == 1 })

	if err := a.Connect(context.Background(), "tok-tenant-2", "tenant-2"); err != nil {
		t.Fatalf("switch identity: %v", err)
	}
	if a.UserID() != "tenant-2" {
		t.Fatalf("identity not switched: %q", a.UserID())
	}
	waitFor(t, func() bool {
		return len(h.gw.Registry().UserConns("tenant-1")) == 0 && len(h.gw.Registry().UserConns("tenant-2")) == 1
	})

	if err := a.Connect(context.Background(), "tok-unknown", "ghost"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReconnectRejoinsLastRoom(t *testing.T) {
	h := newHarness(t)
	tenant := h.joined(t, "tok-tenant-1", "tenant-1", Options{})
	events, unsubscribe := tenant.Subscribe(8)
	defer unsubscribe()

	// A logout frame makes the gateway drop just this connection.
	if err := tenant.emit(protocol.Logout{}); err != nil {
		t.Fatalf("emit logout: %v", err)
	}
	next(t, events, EventConnectionError)
	ev := next(t, events, EventReconnected)
	if ev.ListingID != listingID {
		t.Fatalf("reconnected event room = %q", ev.ListingID)
	}
	waitFor(t, func() bool { return h.gw.Registry().InRoom(listingID, "tenant-1") })
	if !tenant.Connected() {
		t.Fatal("adapter should report connected after reconnect")
	}
}

func TestReconnectStopsWhenCredentialRevoked(t *testing.T) {
	h := newHarness(t)
	tenant := h.joined(t, "tok-tenant-1", "tenant-1", Options{})
	events, unsubscribe := tenant.Subscribe(8)
	defer unsubscribe()

	if err := h.auth.Logout(context.Background(), "tok-tenant-1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := tenant.emit(protocol.Logout{}); err != nil {
		t.Fatalf("emit logout: %v", err)
	}
	next(t, events, EventConnectionError)
	ev := next(t, events, EventConnectionError)
	if !errors.Is(ev.Err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", ev.Err)
	}
	waitFor(t, func() bool { return !tenant.Connected() })
}

func TestTypingAutoStops(t *testing.T) {
	h := newHarness(t)
	tenant := h.joined(t, "tok-tenant-1", "tenant-1", Options{TypingTTL: 50 * time.Millisecond})
	landlord := h.joined(t, "tok-landlord-1", "landlord-1", Options{TypingTTL: time.Minute})
	events, unsubscribe := landlord.Subscribe(8)
	defer unsubscribe()

	if err := tenant.StartTyping(listingID, "landlord-1"); err != nil {
		t.Fatalf("start typing: %v", err)
	}
	if ev := next(t, events, EventUserTyping); ev.UserID != "tenant-1" {
		t.Fatalf("unexpected typist %q", ev.UserID)
	}
	if ev := next(t, events, EventUserStoppedTyping); ev.UserID != "tenant-1" {
		t.Fatalf("unexpected stop event %+v", ev)
	}
}

func TestReceiverTypingExpires(t *testing.T) {
	a := New(Options{TypingTTL: 20 * time.Millisecond})
	events, unsubscribe := a.Subscribe(4)
	defer unsubscribe()

	a.handle(protocol.UserTyping{ListingID: listingID, UserID: "tenant-1"})
	next(t, events, EventUserTyping)
	ev := next(t, events, EventUserStoppedTyping)
	if ev.UserID != "tenant-1" || ev.ListingID != listingID {
		t.Fatalf("unexpected synthesized stop: %+v", ev)
	}

	// A message from the typist clears the indicator without a stop event.
	a.handle(protocol.UserTyping{ListingID: listingID, UserID: "tenant-1"})
	next(t, events, EventUserTyping)
	a.handle(protocol.MessageReceived{Message: dto.Message{ListingID: listingID, SenderID: "tenant-1", Content: "hi"}})
	next(t, events, EventMessageReceived)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after message: %+v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestMarkReadNotifiesSender(t *testing.T) {
	h := newHarness(t)
	tenant := h.joined(t, "tok-tenant-1", "tenant-1", Options{})
	landlord := h.joined(t, "tok-landlord-1", "landlord-1", Options{})
	tenantEvents, unsubscribe := tenant.Subscribe(8)
	defer unsubscribe()

	res, err := tenant.SendMessage(context.Background(), listingID, "landlord-1", "Hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	updated, err := landlord.MarkRead(context.Background(), dto.FromMessage(res.Message))
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !updated.Read || updated.ReadAt == nil {
		t.Fatalf("message not marked read: %+v", updated)
	}
	ev := next(t, tenantEvents, EventMessageRead)
	if ev.MessageID != string(res.Message.ID) || ev.UserID != "landlord-1" {
		t.Fatalf("unexpected receipt: %+v", ev)
	}

	if _, err := tenant.MarkRead(context.Background(), dto.FromMessage(res.Message)); err == nil {
		t.Fatal("sender must not be able to mark their own message read")
	}
}

func TestSubscribeDropsForSlowListener(t *testing.T) {
	a := New(Options{})
	events, unsubscribe := a.Subscribe(1)
	for range 3 {
		a.publish(Event{Kind: EventPresence})
	}
	if len(events) != 1 {
		t.Fatalf("expected a full buffer of 1, got %d", len(events))
	}
	unsubscribe()
	unsubscribe()
	<-events
	if _, ok := <-events; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestBackoffBounds(t *testing.T) {
	base, limit := 100*time.Millisecond, time.Second
	for attempt := range 12 {
		d := backoff(base, limit, attempt)
		ceiling := min(base<<attempt, limit)
		if d < ceiling/2 || d > ceiling {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, ceiling/2, ceiling)
		}
	}
}
