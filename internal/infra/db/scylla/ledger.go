package scylla

import (
	"context"
	"errors"

	"github.com/gocql/gocql"

	domainchat "rentchat/internal/domain/chat"
)

// SendLedger rows expire through the table's default TTL.
type SendLedger struct {
	session *gocql.Session
}

func NewSendLedger(session *gocql.Session) *SendLedger {
	return &SendLedger{session: session}
}

func (l *SendLedger) Lookup(ctx context.Context, key string) (domainchat.MessageID, bool, error) {
	var id string
	err := l.session.Query(`SELECT message_id FROM send_ledger WHERE key = ?`, key).WithContext(ctx).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domainchat.MessageID(id), true, nil
}

func (l *SendLedger) Remember(ctx context.Context, key string, id domainchat.MessageID) error {
	_, err := l.session.
		Query(`INSERT INTO send_ledger (key, message_id) VALUES (?, ?) IF NOT EXISTS`, key, string(id)).
		WithContext(ctx).
		MapScanCAS(map[string]any{})
	return err
}
