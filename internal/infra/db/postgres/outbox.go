package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appoutbox "rentchat/internal/app/outbox"
)

const (
	outboxNew     = "NEW"
	outboxClaimed = "CLAIMED"
	outboxSent    = "SENT"
	outboxFailed  = "FAILED"
)

// OutboxLease is how long a claimed record stays invisible to other workers.
const OutboxLease = time.Minute

// Outbox is the durable event queue for the postgres driver. Claims use
// FOR UPDATE SKIP LOCKED so several workers can drain it concurrently.
type Outbox struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool, now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	headers := record.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	now := o.now().UTC()
	_, err := o.pool.Exec(ctx, `
		INSERT INTO chat_outbox (id, name, payload, occurred_at, aggregate, headers, state, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		record.ID, record.Name, record.Payload, record.OccurredAt, record.Aggregate, headers, outboxNew, now)
	return err
}

// Claim picks the oldest due record, including claimed ones whose lease ran
// out.
func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Pending, error) {
	now := o.now().UTC()
	row := o.pool.QueryRow(ctx, `
		UPDATE chat_outbox
		SET state = $1, claimed_by = $2, claimed_at = $3, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM chat_outbox
			WHERE (state IN ($4, $5) AND next_attempt_at <= $3)
			   OR (state = $1 AND claimed_at <= $6)
			ORDER BY next_attempt_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, payload, occurred_at, aggregate, headers, attempts`,
		outboxClaimed, workerID, now, outboxNew, outboxFailed, now.Add(-OutboxLease))

	var p appoutbox.Pending
	err := row.Scan(&p.ID, &p.Name, &p.Payload, &p.OccurredAt, &p.Aggregate, &p.Headers, &p.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	_, err := o.pool.Exec(ctx,
		`UPDATE chat_outbox SET state = $2, sent_at = $3, claimed_by = '' WHERE id = $1`,
		id, outboxSent, o.now().UTC())
	return err
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	_, err := o.pool.Exec(ctx,
		`UPDATE chat_outbox SET state = $2, next_attempt_at = $3, last_error = $4, claimed_by = '' WHERE id = $1`,
		id, outboxFailed, next.UTC(), errMsg)
	return err
}

var _ appoutbox.Outbox = (*Outbox)(nil)
var _ appoutbox.Queue = (*Outbox)(nil)
