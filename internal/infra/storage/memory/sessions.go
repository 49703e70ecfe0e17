package memory

import (
	"context"
	"sync"
	"time"

	domainauth "rentchat/internal/domain/auth"
	"rentchat/internal/infra/security"
)

// SessionStore keeps bearer sessions in memory, keyed by token digest so
// raw credentials never sit in the map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domainauth.Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domainauth.Session),
		now:      time.Now,
	}
}

func (s *SessionStore) Save(ctx context.Context, session *domainauth.Session) error {
	if session == nil || session.Token == "" {
		return domainauth.ErrTokenRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[security.TokenDigest(string(session.Token))] = session.Clone()
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token domainauth.Token) (*domainauth.Session, error) {
	key := security.TokenDigest(string(token))
	s.mu.RLock()
	session, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return nil, domainauth.ErrSessionNotFound
	}
	if session.Expired(s.now()) {
		_ = s.Delete(ctx, token)
		return nil, domainauth.ErrSessionExpired
	}
	return session.Clone(), nil
}

func (s *SessionStore) Delete(ctx context.Context, token domainauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, security.TokenDigest(string(token)))
	return nil
}

var _ domainauth.SessionStore = (*SessionStore)(nil)
