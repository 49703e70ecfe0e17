package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainchat "rentchat/internal/domain/chat"
)

type SendLedger struct {
	pool *pgxpool.Pool
}

func NewSendLedger(pool *pgxpool.Pool) *SendLedger {
	return &SendLedger{pool: pool}
}

func (l *SendLedger) Lookup(ctx context.Context, key string) (domainchat.MessageID, bool, error) {
	var id string
	err := l.pool.QueryRow(ctx, `SELECT message_id FROM chat_send_ledger WHERE key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domainchat.MessageID(id), true, nil
}

func (l *SendLedger) Remember(ctx context.Context, key string, id domainchat.MessageID) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO chat_send_ledger (key, message_id) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, string(id))
	return err
}
