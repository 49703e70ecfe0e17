package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"

	authsvc "rentchat/internal/app/services/auth"
	chatsvc "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	domainuser "rentchat/internal/domain/user"
	"rentchat/internal/infra/fixtures"
	"rentchat/internal/infra/grpc/messagingrpc"
	"rentchat/internal/infra/realtime/chatclient"
	"rentchat/internal/infra/realtime/gateway"
	"rentchat/internal/infra/storage/memory"
)

type endpoints struct {
	grpcAddr string
	wsURL    string
}

func startBackend(t *testing.T) endpoints {
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

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(messagingrpc.UnaryAuthInterceptor(auth, nil)))
	messagingrpc.RegisterMessagingServer(srv, &messagingrpc.Server{Messaging: svc})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.New(gateway.NewRegistry(), auth, gateway.Options{}, nil, nil))
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)

	return endpoints{
		grpcAddr: lis.Addr().String(),
		wsURL:    "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
	}
}

func (e endpoints) run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	full := append([]string{args[0], "--grpc", e.grpcAddr, "--ws", e.wsURL}, args[1:]...)
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dispatch(ctx, full, strings.NewReader(stdin), &out); err != nil {
		t.Fatalf("chatctl %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestSendInboxHistory(t *testing.T) {
	e := startBackend(t)
	tenant := []string{"--token", "tok-tenant-1", "--user", "tenant-1"}
	landlord := []string{"--token", "tok-landlord-1", "--user", "landlord-1"}

	out := e.run(t, "", append(append([]string{"send"}, tenant...), "--listing", "listing-1", "--to", "landlord-1", "is", "it", "free?")...)
	if !strings.Contains(out, "sent ") {
		t.Fatalf("unexpected send output: %s", out)
	}

	out = e.run(t, "", append([]string{"inbox"}, landlord...)...)
	if !strings.Contains(out, "1 conversation(s), 1 unread") || !strings.Contains(out, "(1 unread)") {
		t.Fatalf("unexpected inbox: %s", out)
	}

	out = e.run(t, "", append(append([]string{"history"}, landlord...), "--listing", "listing-1", "--with", "tenant-1", "--mark-read")...)
	if !strings.Contains(out, "tenant-1: is it free?") || !strings.Contains(out, "marked 1 message(s) read") {
		t.Fatalf("unexpected history: %s", out)
	}

	out = e.run(t, "", append([]string{"inbox"}, landlord...)...)
	if !strings.Contains(out, "0 unread") {
		t.Fatalf("expected nothing unread: %s", out)
	}
}

func TestChatSession(t *testing.T) {
	e := startBackend(t)
	out := e.run(t, "/read\nhello from chat\n/quit\n", "chat", "--token", "tok-tenant-1", "--user", "tenant-1", "--listing", "listing-1")
	if !strings.Contains(out, "chatting with landlord-1 on listing-1") {
		t.Fatalf("counterpart should default to the host: %s", out)
	}
	if !strings.Contains(out, "nothing to mark read") {
		t.Fatalf("expected /read without messages to be reported: %s", out)
	}

	out = e.run(t, "", "history", "--token", "tok-landlord-1", "--user", "landlord-1", "--listing", "listing-1")
	if !strings.Contains(out, "tenant-1: hello from chat") {
		t.Fatalf("chat message not persisted: %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	var out bytes.Buffer
	if err := dispatch(context.Background(), []string{"nope"}, nil, &out); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := dispatch(context.Background(), []string{"inbox", "--token", "t"}, nil, &out); err == nil || !strings.Contains(err.Error(), "--user") {
		t.Fatalf("expected missing user error, got %v", err)
	}
	out.Reset()
	if err := dispatch(context.Background(), nil, nil, &out); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "interactive live chat") {
		t.Fatalf("usage missing commands: %s", out.String())
	}
}

func TestFormatting(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mine := domainchat.Message{SenderID: "tenant-1", Content: "hi", Read: true, CreatedAt: at}
	st := newTheme(&bytes.Buffer{})
	if got := formatMessage(mine, "tenant-1", st); !strings.Contains(got, "you: hi ✓") {
		t.Fatalf("own read message: %q", got)
	}
	if got := formatEvent(chatclient.Event{Kind: chatclient.EventPresence, UserID: "landlord-1", Online: true}, "tenant-1"); got != "* landlord-1 is online" {
		t.Fatalf("presence: %q", got)
	}
	if got := formatEvent(chatclient.Event{Kind: chatclient.EventPresence, UserID: "tenant-1"}, "tenant-1"); got != "" {
		t.Fatalf("own presence should be silent: %q", got)
	}
	if got := truncate("Sunny loft near the river", 10); got != "Sunny lof…" {
		t.Fatalf("truncate: %q", got)
	}
}

func TestOverviewColumns(t *testing.T) {
	st := newTheme(&bytes.Buffer{})
	short := chatsvc.Overview{
		Conversation: domainchat.Conversation{ListingID: "listing-1"},
		Counterpart:  domainuser.Profile{ID: "landlord-1"},
	}
	long := chatsvc.Overview{
		Conversation: domainchat.Conversation{ListingID: "listing-2"},
		Listing:      &chatsvc.ListingSummary{Title: "A very long listing title that overflows the column"},
		Counterpart:  domainuser.Profile{ID: "landlord-2", Name: "Dana"},
		UnreadCount:  3,
	}

	a, b := formatOverview(short, st), formatOverview(long, st)
	if !strings.HasPrefix(a, "listing-1 ") || !strings.Contains(a, "landlord-1") {
		t.Fatalf("short row: %q", a)
	}
	if lipgloss.Width(a[:strings.Index(a, "landlord-1")]) != lipgloss.Width(b[:strings.Index(b, "Dana")]) {
		t.Fatalf("counterpart columns misaligned:\n%q\n%q", a, b)
	}
	if !strings.Contains(b, "…") || strings.Contains(b, "overflows") {
		t.Fatalf("long title not cut: %q", b)
	}
	if !strings.HasSuffix(b, "(3 unread)") || strings.Contains(a, "unread") {
		t.Fatalf("unread marker: %q / %q", a, b)
	}
}
