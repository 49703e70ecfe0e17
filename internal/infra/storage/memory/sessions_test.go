package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	appoutbox "rentchat/internal/app/outbox"
	domainauth "rentchat/internal/domain/auth"
	"rentchat/internal/domain/user"
)

func TestSessionStoreExpiry(t *testing.T) {
	store := NewSessionStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	session, err := domainauth.Grant("secret", "u-1", []user.Role{user.RoleTenant}, time.Hour, now)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := store.Save(context.Background(), session); err != nil {
		t.Fatalf("save: %v", err)
	}
	for key := range store.sessions {
		if key == "secret" {
			t.Fatal("expected raw token not to be used as key")
		}
	}

	got, err := store.Get(context.Background(), "secret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u-1" {
		t.Fatalf("expected u-1, got %s", got.UserID)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(context.Background(), "secret"); !errors.Is(err, domainauth.ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := store.Get(context.Background(), "secret"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("expected expired session to be dropped, got %v", err)
	}
}

func TestOutboxClaimAndRetry(t *testing.T) {
	box := NewOutbox()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	box.now = func() time.Time { return now }
	ctx := context.Background()

	if err := box.Add(ctx, appRecord("ev-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	claimed, err := box.Claim(ctx, "w1")
	if err != nil || claimed == nil || claimed.Attempts != 1 {
		t.Fatalf("expected claim with one attempt, got %+v err=%v", claimed, err)
	}
	if again, _ := box.Claim(ctx, "w2"); again != nil {
		t.Fatal("expected locked record not to be claimed twice")
	}
	if err := box.MarkFailed(ctx, "ev-1", now.Add(time.Minute), "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if early, _ := box.Claim(ctx, "w1"); early != nil {
		t.Fatal("expected record to wait for its retry time")
	}
	now = now.Add(2 * time.Minute)
	claimed, _ = box.Claim(ctx, "w1")
	if claimed == nil || claimed.Attempts != 2 {
		t.Fatalf("expected second attempt, got %+v", claimed)
	}
	_ = box.MarkSent(ctx, "ev-1")
	if box.Pending() != 0 {
		t.Fatalf("expected nothing pending, got %d", box.Pending())
	}
}

func appRecord(id string) appoutbox.EventRecord {
	return appoutbox.EventRecord{ID: id, Name: "chat.message_sent", Payload: []byte(`{}`)}
}
