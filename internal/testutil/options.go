package testutil

import (
	"time"

	"github.com/zjrosen/croc/internal/engine/event"
)

// EventOption adjusts a single event during builder setup.
type EventOption func(*event.Event)

// By overrides the event's actor.
func By(actor event.Actor) EventOption {
	return func(e *event.Event) { e.Actor = actor }
}

// At overrides the event's timestamp.
func At(ts time.Time) EventOption {
	return func(e *event.Event) { e.Timestamp = ts }
}

// WithField sets one payload field, creating the payload if needed.
func WithField(key string, value any) EventOption {
	return func(e *event.Event) {
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		e.Payload[key] = value
	}
}

// WithIdempotencyKey sets the event's idempotency key.
func WithIdempotencyKey(key string) EventOption {
	return func(e *event.Event) { e.IdempotencyKey = key }
}
