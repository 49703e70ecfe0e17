package fixtures

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	authsvc "rentchat/internal/app/services/auth"
	domainauth "rentchat/internal/domain/auth"
	"rentchat/internal/domain/listings"
	"rentchat/internal/infra/storage/memory"
)

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserDirectory()
	lst := memory.NewListingDirectory()
	sessions := memory.NewSessionStore()
	auth := &authsvc.Service{Users: users, Sessions: sessions, SessionTTL: time.Hour}

	if err := Demo().Seed(ctx, users, lst, auth, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	l, err := lst.ByID(ctx, "listing-1")
	if err != nil {
		t.Fatalf("listing-1: %v", err)
	}
	if l.Host != "landlord-1" || l.Address.String() != "12 Park Lane, Lisbon, PT" {
		t.Fatalf("unexpected listing %+v", l)
	}
	res, err := auth.ResolveToken(ctx, "tok-tenant-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.User.ID != "tenant-1" {
		t.Fatalf("token resolved to %s", res.User.ID)
	}
	if _, err := lst.ByID(ctx, "missing"); !errors.Is(err, listings.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSeedSkipsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserDirectory()
	lst := memory.NewListingDirectory()
	sessions := memory.NewSessionStore()
	auth := &authsvc.Service{Users: users, Sessions: sessions, SessionTTL: time.Hour}
	f := File{
		Users:    []UserFixture{{ID: "u1", Name: ""}, {ID: "u2", Name: "Uma"}},
		Listings: []ListingFixture{{ID: "l1", Host: "u2"}},
		Sessions: []SessionFixture{{Token: "t1", UserID: "u1"}, {Token: "t2", UserID: "u2"}},
	}
	if err := f.Seed(ctx, users, lst, auth, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := users.ByID(ctx, "u1"); err == nil {
		t.Fatalf("user without a name should be skipped")
	}
	if _, err := lst.ByID(ctx, "l1"); err == nil {
		t.Fatalf("listing without a title should be skipped")
	}
	if _, err := auth.ResolveToken(ctx, "t1"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("session for skipped user should not exist, got %v", err)
	}
	if _, err := auth.ResolveToken(ctx, "t2"); err != nil {
		t.Fatalf("t2: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	missing, err := Load(filepath.Join(dir, "nope.json"))
	if err != nil || len(missing.Users) != 0 {
		t.Fatalf("missing file: %+v, %v", missing, err)
	}
	path := filepath.Join(dir, "fixtures.json")
	body := `{"users":[{"id":"a","name":"A","roles":["host"]}],"sessions":[{"token":"x","user_id":"a"}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Users) != 1 || f.Users[0].Roles[0] != "host" || f.Sessions[0].Token != "x" {
		t.Fatalf("unexpected fixtures %+v", f)
	}
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
