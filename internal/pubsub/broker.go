package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 64

// Broker fans published events out to any number of subscribers. The
// engine uses one to surface state changes and the logger uses another
// to stream log lines; both sides stay decoupled through it.
//
// Delivery is best-effort per subscriber: a slow consumer loses events
// rather than stalling the publisher.
type Broker[T any] struct {
	mu        sync.RWMutex
	listeners map[chan Event[T]]struct{}
	done      chan struct{}
	buffer    int
}

// NewBroker returns a broker whose subscriber channels hold up to 64
// undelivered events.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer returns a broker with the given per-subscriber
// channel capacity.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		listeners: make(map[chan Event[T]]struct{}),
		done:      make(chan struct{}),
		buffer:    size,
	}
}

// closed reports whether Close has been called. Callers must hold mu.
func (b *Broker[T]) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Subscribe registers a new subscriber. The returned channel closes when
// ctx is cancelled or the broker shuts down; subscribing to a closed
// broker yields an already-closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	ch := make(chan Event[T], b.buffer)
	b.listeners[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed() {
			// Close already tore the channel down.
			return
		}
		delete(b.listeners, ch)
		close(ch)
	}()

	return ch
}

// Publish stamps the payload with the current time and offers it to every
// subscriber. Subscribers whose buffer is full are skipped.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return
	}

	ev := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for ch := range b.listeners {
		select {
		case ch <- ev:
		default:
			// Full buffer, drop rather than block the publisher.
		}
	}
}

// Close shuts the broker down and closes every subscriber channel.
// Subsequent publishes are no-ops.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		return
	}
	close(b.done)
	for ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
