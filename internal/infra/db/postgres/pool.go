package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open connects a pool and applies the chat schema. The caller owns the
// pool and closes it.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_conversations (
		id                     text PRIMARY KEY,
		listing_id             text NOT NULL,
		participants           text[] NOT NULL,
		participant_key        text NOT NULL,
		active                 boolean NOT NULL DEFAULT true,
		created_at             timestamptz NOT NULL,
		last_message_id        text NOT NULL DEFAULT '',
		last_message_sender_id text NOT NULL DEFAULT '',
		last_message_preview   text NOT NULL DEFAULT '',
		last_message_at        timestamptz,
		last_activity_at       timestamptz NOT NULL,
		UNIQUE (listing_id, participant_key)
	)`,
	`CREATE INDEX IF NOT EXISTS chat_conversations_participants_idx ON chat_conversations USING GIN (participants)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id              text PRIMARY KEY,
		conversation_id text NOT NULL REFERENCES chat_conversations (id),
		listing_id      text NOT NULL,
		sender_id       text NOT NULL,
		recipient_id    text NOT NULL,
		content         text NOT NULL,
		kind            text NOT NULL,
		client_msg_id   text NOT NULL DEFAULT '',
		is_read         boolean NOT NULL DEFAULT false,
		read_at         timestamptz,
		created_at      timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_page_idx ON chat_messages (conversation_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_unread_idx ON chat_messages (conversation_id, recipient_id) WHERE NOT is_read`,
	`CREATE TABLE IF NOT EXISTS chat_send_ledger (
		key        text PRIMARY KEY,
		message_id text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_outbox (
		id              text PRIMARY KEY,
		name            text NOT NULL,
		payload         bytea NOT NULL,
		occurred_at     timestamptz NOT NULL,
		aggregate       text NOT NULL DEFAULT '',
		headers         jsonb NOT NULL DEFAULT '{}',
		state           text NOT NULL,
		attempts        integer NOT NULL DEFAULT 0,
		next_attempt_at timestamptz NOT NULL,
		claimed_by      text NOT NULL DEFAULT '',
		claimed_at      timestamptz,
		sent_at         timestamptz,
		last_error      text NOT NULL DEFAULT '',
		created_at      timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_outbox_due_idx ON chat_outbox (state, next_attempt_at)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
