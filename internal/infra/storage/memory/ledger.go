package memory

import (
	"context"
	"sync"

	domainchat "rentchat/internal/domain/chat"
)

// SendLedger maps sender-scoped client message ids to stored messages.
// First write wins.
type SendLedger struct {
	mu   sync.RWMutex
	keys map[string]domainchat.MessageID
}

func NewSendLedger() *SendLedger {
	return &SendLedger{keys: make(map[string]domainchat.MessageID)}
}

func (l *SendLedger) Lookup(ctx context.Context, key string) (domainchat.MessageID, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.keys[key]
	return id, ok, nil
}

func (l *SendLedger) Remember(ctx context.Context, key string, id domainchat.MessageID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[key]; !ok {
		l.keys[key] = id
	}
	return nil
}
