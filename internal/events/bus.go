package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Handler receives the payload emitted for an event.
type Handler func(payload interface{})

type subscription struct {
	id   uint64
	fn   Handler
	once bool
}

// Bus is a typed publish/subscribe event bus. Handlers for one event run in
// registration order; a panicking handler is logged and does not prevent the
// remaining handlers from running.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Event][]subscription
	logger   *logging.Logger
}

// NewBus creates an event bus.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		handlers: make(map[Event][]subscription),
		logger:   logger.Named("events"),
	}
}

// On registers a handler and returns its unsubscribe function.
func (b *Bus) On(event Event, fn Handler) func() {
	return b.subscribe(event, fn, false)
}

// Once registers a handler that is removed after its first invocation.
func (b *Bus) Once(event Event, fn Handler) func() {
	return b.subscribe(event, fn, true)
}

func (b *Bus) subscribe(event Event, fn Handler, once bool) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, fn: fn, once: once})
	b.mu.Unlock()

	return func() { b.off(event, id) }
}

func (b *Bus) off(event Event, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, s := range subs {
		if s.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for the event, in order.
func (b *Bus) Emit(event Event, payload interface{}) {
	b.mu.Lock()
	subs := b.handlers[event]
	// Snapshot before invoking so handlers may unsubscribe mid-fanout.
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	if remaining := withoutOnce(subs); len(remaining) != len(subs) {
		b.handlers[event] = remaining
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		b.invoke(event, s, payload)
	}
}

func (b *Bus) invoke(event Event, s subscription, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", string(event)),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(payload)
}

// RemoveAllListeners drops every handler, or only the handlers for the given
// events when any are named.
func (b *Bus) RemoveAllListeners(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(events) == 0 {
		b.handlers = make(map[Event][]subscription)
		return
	}
	for _, e := range events {
		delete(b.handlers, e)
	}
}

// ListenerCount reports the number of handlers registered for an event.
func (b *Bus) ListenerCount(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

func withoutOnce(subs []subscription) []subscription {
	kept := subs[:0:0]
	for _, s := range subs {
		if !s.once {
			kept = append(kept, s)
		}
	}
	return kept
}
