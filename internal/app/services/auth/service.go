package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainauth "rentchat/internal/domain/auth"
	domainuser "rentchat/internal/domain/user"
)

var (
	ErrServiceNotConfigured = errors.New("auth: service missing dependencies")
	ErrUnknownUser          = errors.New("auth: unknown user")
)

type TokenGenerator interface {
	NewToken() (string, error)
}

// Service is the identity collaborator as seen by the messaging core:
// it turns bearer credentials into identities and can mint sessions for
// seeded users.
type Service struct {
	Users      domainuser.Directory
	Sessions   domainauth.SessionStore
	Tokens     TokenGenerator
	SessionTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type ResolveResult struct {
	User     *domainuser.User
	Identity domainauth.Identity
}

// ResolveToken validates a bearer credential. Expired and unknown tokens
// both surface as session errors so callers can answer 401 uniformly.
func (s *Service) ResolveToken(ctx context.Context, token string) (*ResolveResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domainauth.ErrTokenRequired
	}
	session, err := s.Sessions.Get(ctx, domainauth.Token(token))
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		_ = s.Sessions.Delete(ctx, session.Token)
		return nil, domainauth.ErrSessionExpired
	}
	user, err := s.Users.ByID(ctx, session.UserID)
	if err != nil {
		_ = s.Sessions.Delete(ctx, session.Token)
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, domainauth.ErrSessionNotFound
		}
		return nil, err
	}
	return &ResolveResult{User: user, Identity: session.Vouch()}, nil
}

// IssueSession mints a session for an existing user. An empty token asks
// the generator for a fresh one.
func (s *Service) IssueSession(ctx context.Context, userID domainuser.ID, token string) (string, *domainauth.Session, error) {
	if err := s.ensureDependencies(); err != nil {
		return "", nil, err
	}
	user, err := s.Users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return "", nil, ErrUnknownUser
		}
		return "", nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		if s.Tokens == nil {
			return "", nil, ErrServiceNotConfigured
		}
		if token, err = s.Tokens.NewToken(); err != nil {
			return "", nil, err
		}
	}
	session, err := domainauth.Grant(domainauth.Token(token), user.ID, user.Roles, s.sessionTTL(), s.now())
	if err != nil {
		return "", nil, err
	}
	if err := s.Sessions.Save(ctx, session); err != nil {
		return "", nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("session issued", "user_id", user.ID, "expires_at", session.ExpiresAt)
	}
	return token, session, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return s.Sessions.Delete(ctx, domainauth.Token(token))
}

func (s *Service) ensureDependencies() error {
	if s == nil || s.Users == nil || s.Sessions == nil {
		return ErrServiceNotConfigured
	}
	return nil
}

func (s *Service) sessionTTL() time.Duration {
	if s.SessionTTL <= 0 {
		return 24 * time.Hour
	}
	return s.SessionTTL
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
