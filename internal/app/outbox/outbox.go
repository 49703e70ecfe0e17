package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentchat/internal/domain/shared/events"
)

// EventRecord is a domain event serialized for asynchronous publication.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Outbox queues records for the publishing worker.
type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

// Pending is a queued record together with its delivery bookkeeping.
type Pending struct {
	EventRecord
	Attempts int
}

// Queue is the worker's side of an outbox: claim the next due record and
// report how its delivery went.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*Pending, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

type Encoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

// JSONEncoder stores the event itself as the record payload.
type JSONEncoder struct {
	NewID func() string
}

func (e JSONEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return EventRecord{
		ID:         newID(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt().UTC(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{},
	}, nil
}

// Enqueue encodes evs in order and adds them to box, stopping at the first
// failure. A nil box discards the events.
func Enqueue(ctx context.Context, box Outbox, enc Encoder, evs ...events.DomainEvent) error {
	if box == nil {
		return nil
	}
	if enc == nil {
		enc = JSONEncoder{}
	}
	for _, ev := range evs {
		rec, err := enc.Encode(ev)
		if err != nil {
			return err
		}
		if err := box.Add(ctx, rec); err != nil {
			return fmt.Errorf("outbox: add %s: %w", rec.Name, err)
		}
	}
	return nil
}
