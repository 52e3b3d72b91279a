// Package hooks lets other parts of the process observe chat engine and
// server lifecycle events without coupling to them.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/veil/internal/logging"
)

// Event names.
const (
	EventChatReceived   = "chat_received"
	EventCacheHit       = "cache_hit"
	EventToolDispatched = "tool_dispatched"
	EventChatCompleted  = "chat_completed"
	EventChatFailed     = "chat_failed"
	EventStreamAborted  = "stream_aborted"
	EventServerStart    = "server_start"
	EventServerStop     = "server_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventChatReceived,
	EventCacheHit,
	EventToolDispatched,
	EventChatCompleted,
	EventChatFailed,
	EventStreamAborted,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles a hook event. A returned error is logged and does not
// stop later handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager holds hook registrations and dispatches events. A nil *Manager
// is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a named handler for the given event.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

func (m *Manager) snapshot(event string) []namedHandler {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

// Emit calls every handler for event in registration order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		m.run(ctx, h, payload, "hook handler error")
	}
}

// EmitAsync calls every handler for event on its own goroutine and returns
// immediately.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		go m.run(context.WithoutCancel(ctx), h, payload, "async hook handler error")
	}
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload, msg string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("event", p.Event).Str("handler", h.name).Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg(msg)
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	return len(m.snapshot(event))
}

// Events returns the events that have at least one handler, sorted.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}

// LogEvents registers a handler on every known event that writes the
// payload to the debug log.
func (m *Manager) LogEvents() {
	for _, event := range AllEvents {
		m.On(event, "log", func(_ context.Context, p Payload) error {
			ev := m.log.Debug().Str("event", p.Event)
			for k, v := range p.Data {
				ev = ev.Interface(k, v)
			}
			ev.Msg("hook event")
			return nil
		})
	}
}
