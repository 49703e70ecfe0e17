package scylla

import (
	"context"
	"slices"
	"time"

	"github.com/gocql/gocql"

	appoutbox "rentchat/internal/app/outbox"
)

const (
	outboxNew     = "NEW"
	outboxClaimed = "CLAIMED"
	outboxFailed  = "FAILED"

	// Pending records share one partition; delivered ones are deleted so
	// it only ever holds the backlog.
	outboxBucket = 0
)

// OutboxLease is how long a claimed record stays invisible to other workers.
const OutboxLease = time.Minute

// Outbox is the durable event queue for the scylla driver. A claim is a
// compare-and-set on the row's state and attempt count.
type Outbox struct {
	session *gocql.Session
	now     func() time.Time
}

func NewOutbox(session *gocql.Session) *Outbox {
	return &Outbox{session: session, now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	return o.session.Query(`
		INSERT INTO chat_outbox (bucket, id, name, payload, occurred_at, aggregate, headers, state, attempts, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		outboxBucket, record.ID, record.Name, record.Payload, record.OccurredAt, record.Aggregate, record.Headers,
		outboxNew, o.now().UTC()).
		WithContext(ctx).
		Exec()
}

type outboxRow struct {
	pending   appoutbox.Pending
	state     string
	next      time.Time
	claimedAt time.Time
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Pending, error) {
	now := o.now().UTC()
	iter := o.session.Query(`
		SELECT id, name, payload, occurred_at, aggregate, headers, state, attempts, next_attempt_at, claimed_at
		FROM chat_outbox WHERE bucket = ?`, outboxBucket).
		WithContext(ctx).
		Iter()
	var due []outboxRow
	for {
		var r outboxRow
		p := &r.pending
		if !iter.Scan(&p.ID, &p.Name, &p.Payload, &p.OccurredAt, &p.Aggregate, &p.Headers, &r.state, &p.Attempts, &r.next, &r.claimedAt) {
			break
		}
		switch r.state {
		case outboxNew, outboxFailed:
			if !r.next.After(now) {
				due = append(due, r)
			}
		case outboxClaimed:
			if !r.claimedAt.After(now.Add(-OutboxLease)) {
				due = append(due, r)
			}
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	slices.SortFunc(due, func(a, b outboxRow) int { return a.next.Compare(b.next) })

	for _, r := range due {
		applied, err := o.session.Query(`
			UPDATE chat_outbox SET state = ?, claimed_by = ?, claimed_at = ?, attempts = ?
			WHERE bucket = ? AND id = ? IF state = ? AND attempts = ?`,
			outboxClaimed, workerID, now, r.pending.Attempts+1,
			outboxBucket, r.pending.ID, r.state, r.pending.Attempts).
			WithContext(ctx).
			MapScanCAS(map[string]any{})
		if err != nil {
			return nil, err
		}
		if applied {
			claimed := r.pending
			claimed.Attempts++
			return &claimed, nil
		}
	}
	return nil, nil
}

// MarkSent drops the record.
func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	return o.session.Query(`DELETE FROM chat_outbox WHERE bucket = ? AND id = ?`, outboxBucket, id).
		WithContext(ctx).
		Exec()
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	return o.session.Query(`
		UPDATE chat_outbox SET state = ?, next_attempt_at = ?, last_error = ?, claimed_by = ''
		WHERE bucket = ? AND id = ?`,
		outboxFailed, next.UTC(), errMsg, outboxBucket, id).
		WithContext(ctx).
		Exec()
}

var _ appoutbox.Outbox = (*Outbox)(nil)
var _ appoutbox.Queue = (*Outbox)(nil)
