package events

import "time"

// DomainEvent is anything the domain wants published after a state change.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}
