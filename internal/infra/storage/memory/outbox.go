package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "rentchat/internal/app/outbox"
)

type outboxEntry struct {
	pending   appoutbox.Pending
	nextRunAt time.Time
	lockedBy  string
	sent      bool
	lastError string
}

// Outbox queues event records in memory and serves them to the publishing
// worker in insertion order.
type Outbox struct {
	mu      sync.Mutex
	entries []*outboxEntry
	now     func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, &outboxEntry{
		pending:   appoutbox.Pending{EventRecord: record},
		nextRunAt: o.now(),
	})
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, e := range o.entries {
		if e.sent || e.lockedBy != "" || e.nextRunAt.After(now) {
			continue
		}
		e.lockedBy = workerID
		e.pending.Attempts++
		claimed := e.pending
		return &claimed, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e := o.find(id); e != nil {
		e.sent = true
		e.lockedBy = ""
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e := o.find(id); e != nil {
		e.lockedBy = ""
		e.nextRunAt = next
		e.lastError = errMsg
	}
	return nil
}

// Pending reports how many records still await delivery.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.entries {
		if !e.sent {
			n++
		}
	}
	return n
}

// Records returns a snapshot of every queued record, delivered or not.
func (o *Outbox) Records() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]appoutbox.EventRecord, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e.pending.EventRecord)
	}
	return out
}

func (o *Outbox) find(id string) *outboxEntry {
	for _, e := range o.entries {
		if e.pending.ID == id {
			return e
		}
	}
	return nil
}

var _ appoutbox.Outbox = (*Outbox)(nil)
var _ appoutbox.Queue = (*Outbox)(nil)
