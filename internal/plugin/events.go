package plugin

import (
	"sync"

	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// EventKind enumerates the PluginManager lifecycle notifications, adapted
// from streamspace-dev-streamspace's event_bus.go async/sync dual dispatch.
type EventKind string

const (
	EventLoaded         EventKind = "Loaded"
	EventUnloaded       EventKind = "Unloaded"
	EventReloaded       EventKind = "Reloaded"
	EventInitialized    EventKind = "Initialized"
	EventShutdown       EventKind = "Shutdown"
	EventError          EventKind = "Error"
	EventStateChanged   EventKind = "StateChanged"
	EventEnabled        EventKind = "Enabled"
	EventDisabled       EventKind = "Disabled"
	EventPaused         EventKind = "Paused"
	EventResumed        EventKind = "Resumed"
	EventConfigUpdated  EventKind = "ConfigUpdated"
	EventActionExecuted EventKind = "ActionExecuted"
)

// Event is one PluginManager lifecycle notification.
type Event struct {
	Kind   EventKind
	Plugin string
	Detail any
}

// EventHandler receives lifecycle events.
type EventHandler func(Event)

// EventBus fans lifecycle events out to subscribers, either synchronously
// (EmitSync, used by Manager so a given plugin's lifecycle events are
// always observed in the order they were raised) or asynchronously (Emit,
// one goroutine per handler per call, for notifications where delivery
// order across calls does not matter and a slow subscriber must never
// stall the caller).
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

// NewEventBus constructs an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers h to receive every future event.
func (b *EventBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit dispatches ev to all subscribers on their own goroutine each, never
// blocking the caller on a slow or misbehaving handler.
func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Plugin().Error().Interface("panic", r).Str("kind", string(ev.Kind)).Msg("event handler panicked")
				}
			}()
			h(ev)
		}(h)
	}
}

// EmitSync dispatches ev to all subscribers on the caller's goroutine, in
// subscription order, returning only once every handler has run. Manager
// uses this exclusively for its own lifecycle events (Loaded/Enabled/
// Disabled/Unloaded/...) so a given plugin's events are delivered to every
// subscriber in the exact order they were raised, never interleaved or
// reordered the way per-call goroutines in Emit could. A handler panic is
// recovered and logged the same as in Emit, so one bad subscriber cannot
// take down the caller driving the plugin lifecycle.
func (b *EventBus) EmitSync(ev Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Plugin().Error().Interface("panic", r).Str("kind", string(ev.Kind)).Msg("event handler panicked")
				}
			}()
			h(ev)
		}(h)
	}
}
