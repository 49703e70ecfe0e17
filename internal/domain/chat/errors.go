package chat

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the stores, the message service and the transports.
var (
	ErrNotFound           = errors.New("chat: not found")
	ErrValidation         = errors.New("chat: validation failed")
	ErrAccessDenied       = errors.New("chat: access denied")
	ErrTransientStore     = errors.New("chat: store unavailable")
	ErrGatewayUnavailable = errors.New("chat: realtime gateway unavailable")

	// ErrKeyConflict is returned by a store when a concurrent find-or-create
	// won the race on the (listing, pair) key. Callers retry the lookup.
	ErrKeyConflict = errors.New("chat: conversation key conflict")
)

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Deniedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccessDenied, fmt.Sprintf(format, args...))
}

// Transient marks a driver error as a TransientStoreError while keeping the
// original error in the chain.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
}

// IsClientError reports whether err belongs to the non-retryable caller faults.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrAccessDenied)
}
