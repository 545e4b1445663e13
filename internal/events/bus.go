// Package events provides a publish/subscribe bus for network-interface
// change notifications. The interface monitor's Orchestrator subscribes to
// learn about connectivity changes out of band from any in-flight attempt.
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so callers
// that construct a monitor without a bus do not need guard checks.
package events

import (
	"sync"
	"time"
)

// ChangeEvent is published whenever the host's active network interface
// fingerprint is observed to change (new default route, Wi-Fi to cellular
// handoff, VPN toggle, etc). Consecutive identical fingerprints are
// coalesced by the publisher, not the bus: the bus delivers whatever its
// caller publishes.
type ChangeEvent struct {
	// Timestamp is when the change was observed.
	Timestamp time.Time
	// Fingerprint identifies the new active-interface state. Opaque to the
	// bus; only equality comparisons are meaningful.
	Fingerprint string
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events on
// buffered channels; slow subscribers miss events rather than blocking
// publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan ChangeEvent]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe back
	// to the bidirectional channel stored in subs, so Unsubscribe can
	// accept <-chan ChangeEvent (the caller's view) without an illegal
	// type conversion.
	recvToSend map[<-chan ChangeEvent]chan ChangeEvent
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan ChangeEvent]struct{}),
		recvToSend: make(map[<-chan ChangeEvent]chan ChangeEvent),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that subscriber.
// Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e ChangeEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block. A
			// missed coalesced notification is harmless: the periodic
			// probe in InterfaceMonitor will still catch the change.
		}
	}
}

// Subscribe returns a channel that receives published events. The caller
// must eventually call Unsubscribe to avoid resource leaks. bufSize
// controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to call
// with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
