package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	authsvc "rentchat/internal/app/services/auth"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/fixtures"
	"rentchat/internal/infra/realtime/protocol"
	"rentchat/internal/infra/storage/memory"
)

const testListing = "listing-1"

func newTestAuth(t *testing.T) *authsvc.Service {
	t.Helper()
	users := memory.NewUserDirectory()
	auth := &authsvc.Service{Users: users, Sessions: memory.NewSessionStore(), SessionTTL: time.Hour}
	if err := fixtures.Demo().Seed(context.Background(), users, memory.NewListingDirectory(), auth, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return auth
}

func startGateway(t *testing.T, opts Options, metrics Metrics) (*Gateway, *httptest.Server) {
	t.Helper()
	gw := New(NewRegistry(), newTestAuth(t), opts, nil, metrics)
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return gw, srv
}

func dial(t *testing.T, base, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDial(t *testing.T, base, token string) *websocket.Conn {
	t.Helper()
	c, _, err := dial(t, base, token)
	if err != nil {
		t.Fatalf("dial %s: %v", token, err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, ev protocol.Event) {
	t.Helper()
	data, err := protocol.Encode(ev, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_, ev, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

// readUntil reads frames until one of type typ arrives and returns it along
// with the types skipped on the way.
func readUntil(t *testing.T, c *websocket.Conn, typ protocol.Type) (protocol.Event, []protocol.Type) {
	t.Helper()
	var skipped []protocol.Type
	for range 10 {
		ev := read(t, c)
		if ev.Type() == typ {
			return ev, skipped
		}
		skipped = append(skipped, ev.Type())
	}
	t.Fatalf("no %s frame, saw %v", typ, skipped)
	return nil, nil
}

func join(t *testing.T, c *websocket.Conn, listingID string) protocol.Joined {
	t.Helper()
	send(t, c, protocol.Join{ListingID: listingID})
	ev, _ := readUntil(t, c, protocol.TypeJoined)
	return ev.(protocol.Joined)
}

func TestHandshakeRequiresCredential(t *testing.T) {
	_, srv := startGateway(t, Options{}, nil)

	for _, token := range []string{"", "tok-unknown"} {
		_, resp, err := dial(t, srv.URL, token)
		if err == nil {
			t.Fatalf("dial with %q: expected failure", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("dial with %q: expected 401, got %+v", token, resp)
		}
	}
}

func TestHandshakeAcceptsQueryToken(t *testing.T) {
	gw, srv := startGateway(t, Options{}, nil)
	u := strings.Replace(srv.URL, "http", "ws", 1) + "/ws?token=tok-tenant-1"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{Subprotocols: []string{protocol.Subprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	join(t, c, testListing)
	if got := gw.Registry().UserConns("tenant-1"); len(got) != 1 {
		t.Fatalf("expected one registered connection, got %d", len(got))
	}
}

func TestJoinAckAndPresence(t *testing.T) {
	_, srv := startGateway(t, Options{}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	landlord := mustDial(t, srv.URL, "tok-landlord-1")

	if ack := join(t, tenant, testListing); ack.ListingID != testListing || len(ack.Online) != 0 {
		t.Fatalf("unexpected first ack: %+v", ack)
	}
	ack := join(t, landlord, testListing)
	if !slices.Equal(ack.Online, []string{"tenant-1"}) {
		t.Fatalf("expected tenant online, got %v", ack.Online)
	}

	ev, _ := readUntil(t, tenant, protocol.TypePresence)
	p := ev.(protocol.Presence)
	if p.UserID != "landlord-1" || !p.Online || p.ListingID != testListing {
		t.Fatalf("unexpected presence: %+v", p)
	}

	send(t, landlord, protocol.Leave{})
	if ev, _ := readUntil(t, landlord, protocol.TypeLeft); ev.(protocol.Left).ListingID != testListing {
		t.Fatalf("unexpected left ack: %+v", ev)
	}
	ev, _ = readUntil(t, tenant, protocol.TypePresence)
	if p := ev.(protocol.Presence); p.UserID != "landlord-1" || p.Online {
		t.Fatalf("expected landlord offline, got %+v", p)
	}
}

func TestMessageRelayedToRecipientOnly(t *testing.T) {
	_, srv := startGateway(t, Options{}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	other := mustDial(t, srv.URL, "tok-tenant-2")
	landlord := mustDial(t, srv.URL, "tok-landlord-1")
	join(t, tenant, testListing)
	join(t, other, testListing)
	join(t, landlord, testListing)

	send(t, tenant, protocol.SendMessage{
		ListingID:   testListing,
		RecipientID: "landlord-1",
		Content:     "  is it still available?  ",
		ClientMsgID: "c-1",
	})
	ev, _ := readUntil(t, landlord, protocol.TypeMessageReceived)
	msg := ev.(protocol.MessageReceived).Message
	if msg.ID != "" || msg.ClientMsgID != "c-1" {
		t.Fatalf("live message ids: %+v", msg)
	}
	if msg.SenderID != "tenant-1" || msg.Content != "is it still available?" || msg.Kind != "text" {
		t.Fatalf("unexpected live message: %+v", msg)
	}

	// A targeted typing frame is the next thing tenant-2 should see.
	send(t, landlord, protocol.TypingStart{ListingID: testListing, RecipientID: "tenant-2"})
	ev, skipped := readUntil(t, other, protocol.TypeUserTyping)
	if slices.Contains(skipped, protocol.TypeMessageReceived) {
		t.Fatalf("message leaked to non-recipient: %v", skipped)
	}
	if typing := ev.(protocol.UserTyping); typing.UserID != "landlord-1" {
		t.Fatalf("unexpected typing event: %+v", typing)
	}
}

func TestSendWithoutJoiningRelays(t *testing.T) {
	_, srv := startGateway(t, Options{}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	landlord := mustDial(t, srv.URL, "tok-landlord-1")
	join(t, landlord, testListing)

	send(t, tenant, protocol.SendMessage{ListingID: testListing, RecipientID: "landlord-1", Content: "hi", ClientMsgID: "c-1"})
	ev, _ := readUntil(t, landlord, protocol.TypeMessageReceived)
	if msg := ev.(protocol.MessageReceived).Message; msg.SenderID != "tenant-1" || msg.ClientMsgID != "c-1" {
		t.Fatalf("unexpected live message: %+v", msg)
	}

	send(t, tenant, protocol.SendMessage{ListingID: testListing, RecipientID: "tenant-1", Content: "hi", ClientMsgID: "c-2"})
	ev, _ = readUntil(t, tenant, protocol.TypeError)
	if e := ev.(protocol.Error); e.Code != "invalid" {
		t.Fatalf("expected invalid, got %+v", e)
	}
}

func TestJoinAfterShutdownIsIgnored(t *testing.T) {
	metrics := &recordingMetrics{}
	gw := New(NewRegistry(), nil, Options{}, nil, metrics)
	watcher := newConn("w", "tenant-1", time.Time{}, 8)
	gw.Registry().Add(watcher)
	gw.Registry().Join(watcher, testListing)

	dead := newConn("d", "landlord-1", time.Time{}, 8)
	gw.Registry().Add(dead)
	gw.Registry().Remove(dead)
	dead.Close()
	gw.onJoin(dead, protocol.Join{ListingID: testListing})

	if gw.Registry().InRoom(testListing, "landlord-1") {
		t.Fatal("closed connection rejoined the room")
	}
	if got := gw.Registry().Online(testListing, "tenant-1"); len(got) != 0 {
		t.Fatalf("expected nobody else online, got %v", got)
	}
	select {
	case f := <-watcher.send:
		t.Fatalf("unexpected frame for watcher: %s", f.kind)
	default:
	}
}

func TestMalformedFrameReportsError(t *testing.T) {
	_, srv := startGateway(t, Options{}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tenant.Write(ctx, websocket.MessageText, []byte(`{"v":9,"type":"room.join"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev, _ := readUntil(t, tenant, protocol.TypeError)
	if e := ev.(protocol.Error); e.Code != "bad_event" {
		t.Fatalf("expected bad_event, got %+v", e)
	}
	join(t, tenant, testListing)
}

func TestMarkReadReachesSenderConnections(t *testing.T) {
	_, srv := startGateway(t, Options{}, nil)
	tenantA := mustDial(t, srv.URL, "tok-tenant-1")
	tenantB := mustDial(t, srv.URL, "tok-tenant-1")
	landlord := mustDial(t, srv.URL, "tok-landlord-1")
	join(t, landlord, testListing)

	send(t, landlord, protocol.MarkRead{MessageID: "m-1", ListingID: testListing, SenderID: "tenant-1"})
	for _, c := range []*websocket.Conn{tenantA, tenantB} {
		ev, _ := readUntil(t, c, protocol.TypeMessageRead)
		r := ev.(protocol.MessageRead)
		if r.MessageID != "m-1" || r.ReaderID != "landlord-1" || r.ReadAt.IsZero() {
			t.Fatalf("unexpected receipt: %+v", r)
		}
	}
}

func TestMarkReadRequiresSharedConversation(t *testing.T) {
	convs := memory.NewConversationStore()
	draft, err := domainchat.NewConversation(testListing, "tenant-1", "landlord-1", time.Now())
	if err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	if _, _, err := convs.FindOrCreate(context.Background(), draft); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	_, srv := startGateway(t, Options{Conversations: convs}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	stranger := mustDial(t, srv.URL, "tok-tenant-2")
	landlord := mustDial(t, srv.URL, "tok-landlord-1")

	send(t, stranger, protocol.MarkRead{MessageID: "m-0", ListingID: testListing, SenderID: "landlord-1"})
	ev, _ := readUntil(t, stranger, protocol.TypeError)
	if e := ev.(protocol.Error); e.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", e)
	}

	send(t, landlord, protocol.MarkRead{MessageID: "m-1", ListingID: testListing, SenderID: "tenant-1"})
	ev, skipped := readUntil(t, tenant, protocol.TypeMessageRead)
	if r := ev.(protocol.MessageRead); r.MessageID != "m-1" || r.ReaderID != "landlord-1" {
		t.Fatalf("unexpected receipt: %+v", r)
	}
	if len(skipped) != 0 {
		t.Fatalf("tenant saw unexpected frames %v", skipped)
	}
}

func TestPresenceOfflineOnlyAfterLastConnection(t *testing.T) {
	gw, srv := startGateway(t, Options{}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	landlordA := mustDial(t, srv.URL, "tok-landlord-1")
	landlordB := mustDial(t, srv.URL, "tok-landlord-1")
	join(t, tenant, testListing)
	join(t, landlordA, testListing)
	readUntil(t, tenant, protocol.TypePresence)
	join(t, landlordB, testListing)

	send(t, landlordA, protocol.Logout{})
	waitFor(t, func() bool { return len(gw.Registry().UserConns("landlord-1")) == 1 })

	send(t, landlordB, protocol.Leave{})
	ev, _ := readUntil(t, tenant, protocol.TypePresence)
	if p := ev.(protocol.Presence); p.UserID != "landlord-1" || p.Online {
		t.Fatalf("expected a single offline event after the last leave, got %+v", p)
	}
}

func TestLogoutClosesConnection(t *testing.T) {
	gw, srv := startGateway(t, Options{}, nil)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	join(t, tenant, testListing)

	send(t, tenant, protocol.Logout{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := tenant.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v (%v)", status, err)
	}
	waitFor(t, func() bool { return gw.Registry().Conns() == 0 && gw.Registry().Rooms() == 0 })
}

func TestRateLimitClosesConnection(t *testing.T) {
	metrics := &recordingMetrics{}
	_, srv := startGateway(t, Options{RateEvents: 3, RateWindow: time.Minute}, metrics)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	join(t, tenant, testListing)

	for range 5 {
		data, _ := protocol.Encode(protocol.Join{ListingID: testListing}, time.Now())
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := tenant.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			break
		}
	}

	var err error
	for range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err = tenant.Read(ctx)
		cancel()
		if err != nil {
			break
		}
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", status, err)
	}
	if !metrics.dropped("inbound", "rate_limited") {
		t.Fatalf("rate limit drop not recorded: %v", metrics.drops)
	}
}

func TestTypingIsNotRateLimited(t *testing.T) {
	metrics := &recordingMetrics{}
	_, srv := startGateway(t, Options{RateEvents: 2, RateWindow: time.Minute}, metrics)
	tenant := mustDial(t, srv.URL, "tok-tenant-1")
	landlord := mustDial(t, srv.URL, "tok-landlord-1")
	join(t, tenant, testListing)

	for range 10 {
		send(t, tenant, protocol.TypingStart{ListingID: testListing})
		send(t, tenant, protocol.TypingStop{ListingID: testListing})
	}
	if ack := join(t, tenant, testListing); ack.ListingID != testListing {
		t.Fatalf("unexpected ack %+v", ack)
	}
	join(t, landlord, testListing)
	if metrics.dropped("inbound", "rate_limited") {
		t.Fatal("typing frames counted against the rate limit")
	}
}

func TestSlowConsumerDropsFrames(t *testing.T) {
	metrics := &recordingMetrics{}
	gw := New(NewRegistry(), nil, Options{}, nil, metrics)
	slow := newConn("c-1", "landlord-1", time.Time{}, 1)
	gw.Registry().Add(slow)
	gw.Registry().Join(slow, testListing)

	ev := protocol.UserTyping{ListingID: testListing, UserID: "tenant-1"}
	if n := gw.broadcastRoom(testListing, "tenant-1", "", ev); n != 1 {
		t.Fatalf("expected first frame queued, got %d", n)
	}
	if n := gw.broadcastRoom(testListing, "tenant-1", "", ev); n != 0 {
		t.Fatalf("expected second frame dropped, got %d", n)
	}
	if !metrics.dropped(string(protocol.TypeUserTyping), "queue_full") {
		t.Fatalf("queue_full drop not recorded: %v", metrics.drops)
	}

	slow.Close()
	if slow.enqueue(frame{kind: protocol.TypeUserTyping}) {
		t.Fatal("closed connection accepted a frame")
	}
}

func TestOptionsFromDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.SendQueue != 64 || opts.HeartbeatFailures != 2 || opts.MaxMessageBytes != 64<<10 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	if got := credential(r); got != "q" {
		t.Fatalf("query token: %q", got)
	}
	r.Header.Set("Authorization", "Bearer  h ")
	if got := credential(r); got != "h" {
		t.Fatalf("header token: %q", got)
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

type recordingMetrics struct {
	mu    sync.Mutex
	drops []string
}

func (m *recordingMetrics) ConnOpened()     {}
func (m *recordingMetrics) ConnClosed()     {}
func (m *recordingMetrics) RoomsActive(int) {}
func (m *recordingMetrics) Relayed(string)  {}

func (m *recordingMetrics) Dropped(kind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops = append(m.drops, kind+"/"+reason)
}

func (m *recordingMetrics) dropped(kind, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.drops, kind+"/"+reason)
}
