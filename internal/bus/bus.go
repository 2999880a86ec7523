package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event types published by the pipeline.
const (
	BootstrapProgress  = "bootstrap.progress"
	BootstrapDone      = "bootstrap.done"
	BootstrapFailed    = "bootstrap.failed"
	ResolverUpdated    = "resolver.updated"
	AlertNew           = "alert.new"
	SignalNew          = "signal.new"
	SignalStateChanged = "signal.state_changed"
	OpsStateChanged    = "ops.state_changed"
)

// Event is the flat envelope delivered to subscribers. Consumers tolerate
// unknown payload fields.
type Event struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Time    time.Time              `json:"time"`
	Payload map[string]interface{} `json:"payload"`
}

// NewEvent builds an envelope with a fresh id.
func NewEvent(eventType string, payload map[string]interface{}) Event {
	return Event{
		Type:    eventType,
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Payload: payload,
	}
}

// JSON serializes the event for outbound sinks.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Handler receives events synchronously. Handlers must not block; anything
// slow belongs on the handler's own worker.
type Handler func(Event)

type subscription struct {
	id      string
	types   map[string]struct{} // empty set means all events
	handler Handler
}

// Bus is the in-process typed pub/sub. Delivery is synchronous and
// best-effort: a panicking subscriber is isolated and never propagates
// to the publisher. Events are not persisted.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger zerolog.Logger
}

func New() *Bus {
	return &Bus{
		logger: log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a handler for the given event types. An empty type
// list subscribes to every event. The returned id feeds Unsubscribe.
func (b *Bus) Subscribe(handler Handler, eventTypes ...string) string {
	sub := &subscription{
		id:      uuid.NewString(),
		types:   make(map[string]struct{}, len(eventTypes)),
		handler: handler,
	}
	for _, et := range eventTypes {
		sub.types[et] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := b.subs[:0]
	for _, s := range b.subs {
		if s.id != id {
			filtered = append(filtered, s)
		}
	}
	b.subs = filtered
}

// Publish delivers the event to every matching subscriber in registration
// order.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if len(s.types) > 0 {
			if _, ok := s.types[event.Type]; !ok {
				continue
			}
		}
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_type", event.Type).
				Str("subscription", s.id).
				Interface("panic", r).
				Msg("subscriber panicked, isolated")
		}
	}()
	s.handler(event)
}

// Emit builds and publishes in one step.
func (b *Bus) Emit(eventType string, payload map[string]interface{}) {
	b.Publish(NewEvent(eventType, payload))
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
