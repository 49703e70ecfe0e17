package chat

import (
	"context"
	"errors"

	"rentchat/internal/app/outbox"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/domain/shared/events"
)

// retryRead runs an idempotent read and repeats it once when the store
// reports a transient failure.
func retryRead[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	out, err := fn()
	if err == nil {
		return out, nil
	}
	if errors.Is(err, domainchat.ErrTransientStore) && ctx.Err() == nil {
		out, err = fn()
	}
	if err != nil {
		var zero T
		return zero, translate(op, err)
	}
	return out, nil
}

// translate keeps taxonomy errors intact and classifies everything else as
// a transient store failure.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if domainchat.IsClientError(err) || errors.Is(err, domainchat.ErrTransientStore) {
		return err
	}
	return domainchat.Transient(op, err)
}

// record hands a domain event to the outbox. Notification delivery is not
// part of the durable write, so failures are only logged.
func (s *Service) record(ctx context.Context, ev events.DomainEvent) {
	if s.Outbox == nil {
		return
	}
	if err := outbox.Enqueue(ctx, s.Outbox, s.Encoder, ev); err != nil {
		s.logWarn("failed to record chat event", "event", ev.EventName(), "aggregate", ev.AggregateID(), "error", err)
	}
}
