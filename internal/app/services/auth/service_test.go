package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	domainauth "rentchat/internal/domain/auth"
	domainuser "rentchat/internal/domain/user"
	"rentchat/internal/infra/security"
	"rentchat/internal/infra/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.UserDirectory) {
	t.Helper()
	users := memory.NewUserDirectory()
	u, err := domainuser.NewUser(domainuser.CreateParams{
		ID:    "tenant-1",
		Name:  "Tina Tenant",
		Roles: []domainuser.Role{domainuser.RoleTenant},
	})
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if err := users.Save(context.Background(), u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return &Service{
		Users:      users,
		Sessions:   memory.NewSessionStore(),
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: time.Hour,
	}, users
}

func TestIssueAndResolve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, session, err := svc.IssueSession(ctx, "tenant-1", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" || session.UserID != "tenant-1" {
		t.Fatalf("unexpected session %+v token %q", session, token)
	}
	res, err := svc.ResolveToken(ctx, " "+token+" ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Identity.UserID != "tenant-1" || !res.Identity.HasRole(domainuser.RoleTenant) {
		t.Fatalf("unexpected identity %+v", res.Identity)
	}
	if !res.Identity.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", session.ExpiresAt, res.Identity.ExpiresAt)
	}
}

func TestResolveRejectsExpiredAndUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	svc.Now = func() time.Time { return now }

	token, _, err := svc.IssueSession(ctx, "tenant-1", "fixed-token")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token != "fixed-token" {
		t.Fatalf("expected supplied token to be kept, got %q", token)
	}

	if _, err := svc.ResolveToken(ctx, "nope"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.ResolveToken(ctx, ""); !errors.Is(err, domainauth.ErrTokenRequired) {
		t.Fatalf("expected token required, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := svc.ResolveToken(ctx, token); !errors.Is(err, domainauth.ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestIssueUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.IssueSession(context.Background(), "ghost", ""); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}
