// Package events provides the in-process publish/subscribe bus used for
// operational visibility. It is decoupled from the durable swarm bus: these
// events never persist and exist so the admin stream and metrics can watch
// the system live without touching SQLite.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies the kind of event
type EventType string

const (
	DecisionExecuted   EventType = "decision_executed"
	ApprovalQueued     EventType = "approval_queued"
	ApprovalResolved   EventType = "approval_resolved"
	PostPublished      EventType = "post_published"
	BriefingSent       EventType = "briefing_sent"
	ChildSpawned       EventType = "child_spawned"
	ChildStopped       EventType = "child_stopped"
	AgentStatusChanged EventType = "agent_status_changed"
	CycleCompleted     EventType = "cycle_completed"
	BackupCompleted    EventType = "backup_completed"
	GCCompleted        EventType = "gc_completed"
)

// Event is one published occurrence with its typed data attached.
type Event struct {
	Type      EventType   `json:"type"`
	Module    string      `json:"module"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block; stream consumers buffer into a
// channel and drop when full.
type Handler func(*Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	byType   map[EventType]map[int]Handler
	wildcard map[int]Handler
	log      zerolog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		byType:   make(map[EventType]map[int]Handler),
		wildcard: make(map[int]Handler),
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(t EventType, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.byType[t] == nil {
		b.byType[t] = make(map[int]Handler)
	}
	b.byType[t][b.nextID] = h
	return b.nextID
}

// SubscribeAll registers a handler for every event type. Used by the ops
// stream, which filters on the client side.
func (b *Bus) SubscribeAll(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.wildcard[b.nextID] = h
	return b.nextID
}

// Unsubscribe removes a subscription by id. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.wildcard, id)
	for _, handlers := range b.byType {
		delete(handlers, id)
	}
}

// Publish delivers an event to all matching handlers. A panicking handler is
// recovered and logged so one bad subscriber cannot take down a publisher.
func (b *Bus) Publish(t EventType, module string, data interface{}) {
	event := &Event{
		Type:      t,
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[t])+len(b.wildcard))
	for _, h := range b.byType[t] {
		handlers = append(handlers, h)
	}
	for _, h := range b.wildcard {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
