package events

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives events from the bus.
type Handler func(event *Event)

// Bus fans events out to subscribed handlers. Each dispatch is isolated: a
// panicking listener is recovered and logged, and never prevents the
// remaining listeners from receiving the event.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType]map[int]Handler
	anyAll   map[int]Handler // handlers subscribed to every event type
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		anyAll:   make(map[int]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for a specific event type. The returned
// function removes the handler; transient listeners such as stream
// connections must call it when they go away.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.handlers[eventType][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// SubscribeAll registers a handler for every event type. The returned
// function removes the handler.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.anyAll[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.anyAll, id)
	}
}

// ListenerCount reports the handlers registered for one event type, not
// counting the subscribe-all set.
func (b *Bus) ListenerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Emit builds an event and dispatches it synchronously to all matching
// handlers.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	listeners := make([]Handler, 0, len(b.handlers[eventType])+len(b.anyAll))
	listeners = appendInOrder(listeners, b.handlers[eventType])
	listeners = appendInOrder(listeners, b.anyAll)
	b.mu.RUnlock()

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Int("listeners", len(listeners)).
		Msg("Event emitted")

	for _, h := range listeners {
		b.dispatch(event, h)
	}
}

// appendInOrder copies handlers out of a subscription map in subscription
// order; ids grow monotonically, so sorting them replays insertion order.
func appendInOrder(dst []Handler, src map[int]Handler) []Handler {
	ids := make([]int, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		dst = append(dst, src[id])
	}
	return dst
}

// dispatch runs one handler with panic isolation.
func (b *Bus) dispatch(event *Event, handler Handler) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", p).
				Msg("Event listener panicked, continuing with remaining listeners")
		}
	}()
	handler(event)
}
