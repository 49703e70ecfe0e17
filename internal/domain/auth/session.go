package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"rentchat/internal/domain/user"
)

var (
	ErrTokenRequired   = errors.New("auth: token is required")
	ErrGrantInvalid    = errors.New("auth: invalid session grant")
	ErrSessionNotFound = errors.New("auth: session not found")
	ErrSessionExpired  = errors.New("auth: session expired")
)

// Token is a bearer credential as presented by a client.
type Token string

// Identity is what the identity collaborator vouches for given a credential.
type Identity struct {
	UserID    user.ID
	Roles     []user.Role
	ExpiresAt time.Time
}

func (i Identity) HasRole(role user.Role) bool {
	return slices.Contains(i.Roles, role)
}

func (i Identity) clone() Identity {
	i.Roles = slices.Clone(i.Roles)
	return i
}

// Session binds a token to an identity until the identity expires.
type Session struct {
	Token Token
	Identity
	CreatedAt time.Time
}

// Grant opens a session for userID lasting ttl from now.
func Grant(token Token, userID user.ID, roles []user.Role, ttl time.Duration, now time.Time) (*Session, error) {
	token = Token(strings.TrimSpace(string(token)))
	switch {
	case token == "":
		return nil, ErrTokenRequired
	case strings.TrimSpace(string(userID)) == "":
		return nil, fmt.Errorf("%w: user is required", ErrGrantInvalid)
	case ttl <= 0:
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", ErrGrantInvalid, ttl)
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Session{
		Token: token,
		Identity: Identity{
			UserID:    userID,
			Roles:     slices.Clone(roles),
			ExpiresAt: now.Add(ttl),
		},
		CreatedAt: now,
	}, nil
}

// Expired reports whether the session is no longer valid at the given instant.
func (s *Session) Expired(at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	return !s.ExpiresAt.After(at.UTC())
}

// Vouch returns a detached copy of the session's identity.
func (s *Session) Vouch() Identity {
	return s.Identity.clone()
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Identity = s.Identity.clone()
	return &out
}

type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, token Token) (*Session, error)
	Delete(ctx context.Context, token Token) error
}
