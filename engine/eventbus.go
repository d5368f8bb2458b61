package engine

import (
	"sync"
	"time"
)

// SubscriberID identifies a bus listener so it can be detached later,
// for instance when an SSE client disconnects.
type SubscriberID uint64

// SubscriberFunc receives each dispatched event.
type SubscriberFunc func(Event)

type listener struct {
	id    SubscriberID
	fn    SubscriberFunc
	types []EventType // nil means every type
}

func (l listener) wants(t EventType) bool {
	if l.types == nil {
		return true
	}
	for _, want := range l.types {
		if want == t {
			return true
		}
	}
	return false
}

// EventBus fans scheduler progress out to the maintenance surfaces: the
// status snapshot, the SSE stream and the bench MQTT mirror all hang off
// it. Dispatch is synchronous on the emitting goroutine, which is almost
// always the scheduler, so handlers must return quickly and must never
// touch the radio or the modem.
type EventBus struct {
	mu        sync.RWMutex
	listeners []listener
	lastID    SubscriberID
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for every event type.
func (b *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return b.add(fn, nil)
}

// SubscribeTypes registers fn for the given event types only.
func (b *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	return b.add(fn, types)
}

func (b *EventBus) add(fn SubscriberFunc, types []EventType) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	b.listeners = append(b.listeners, listener{id: b.lastID, fn: fn, types: types})
	return b.lastID
}

// Unsubscribe detaches a listener. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Emit delivers evt to every interested listener, in subscription order.
// A zero Timestamp is stamped with the wall clock at emit time; event
// timestamps are for the maintenance trail and deliberately do not use
// the gateway's synced RTC.
func (b *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, l := range snapshot {
		if l.wants(evt.Type) {
			l.fn(evt)
		}
	}
}
