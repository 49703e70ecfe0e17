package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	appoutbox "rentchat/internal/app/outbox"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/storage/storetest"
)

// Integration tests are opt-in and require TEST_POSTGRES_URL.
func TestChatStores(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)

	storetest.Run(t, func(t *testing.T) (domainchat.ConversationStore, domainchat.MessageStore) {
		return NewConversationStore(pool), NewMessageStore(pool)
	})
}

func TestLedgerFirstWriteWins(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)

	ledger := NewSendLedger(pool)
	key := "sender|" + domainchat.NewID()
	if err := ledger.Remember(ctx, key, "m-1"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := ledger.Remember(ctx, key, "m-2"); err != nil {
		t.Fatalf("remember again: %v", err)
	}
	id, ok, err := ledger.Lookup(ctx, key)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if id != "m-1" {
		t.Fatalf("expected first id to win, got %s", id)
	}
}

func TestOutboxClaimCycle(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DELETE FROM chat_outbox`); err != nil {
		t.Fatalf("reset outbox: %v", err)
	}

	box := NewOutbox(pool)
	rec := appoutbox.EventRecord{
		ID:         domainchat.NewID(),
		Name:       "chat.message_sent",
		Payload:    []byte(`{"id":"m-1"}`),
		OccurredAt: time.Now().UTC(),
		Aggregate:  "conv-1",
		Headers:    map[string]string{"listing": "listing-1"},
	}
	if err := box.Add(ctx, rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	p, err := box.Claim(ctx, "w1")
	if err != nil || p == nil {
		t.Fatalf("claim: %v %v", p, err)
	}
	if p.ID != rec.ID || p.Attempts != 1 || p.Headers["listing"] != "listing-1" {
		t.Fatalf("unexpected claim: %+v", p)
	}
	if again, err := box.Claim(ctx, "w2"); err != nil || again != nil {
		t.Fatalf("claimed record handed out twice: %v %v", again, err)
	}

	if err := box.MarkFailed(ctx, rec.ID, time.Now().Add(-time.Second), "broker down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	p, err = box.Claim(ctx, "w2")
	if err != nil || p == nil || p.Attempts != 2 {
		t.Fatalf("retry claim: %+v %v", p, err)
	}
	if err := box.MarkSent(ctx, rec.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if p, err := box.Claim(ctx, "w3"); err != nil || p != nil {
		t.Fatalf("sent record claimed again: %v %v", p, err)
	}
}
