// Package dispatch implements the name→handler command table shared by
// Tasks, plugin command handlers, and the admin HTTP surface. It is
// deliberately the simplest component in the tree: a lookup
// table plus an invocation under a shared lock, grounded on
// streamspace-dev-streamspace's internal/plugins/api_registry.go rather
// than its internal/services/command_dispatcher.go, which models an
// unrelated async remote-agent work queue (see DESIGN.md).
package dispatch

import (
	"fmt"
	"sync"

	"github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// Handler mutates payload in place; the convention throughout this package
// is that payload carries both inputs and outputs. Declared as an alias
// (not a defined type) so *Dispatcher structurally satisfies
// internal/plugin.CommandRegistrar, whose Register/Unregister signatures
// are spelled out as plain func values to avoid importing this package.
type Handler = func(payload map[string]any)

// Dispatcher is a name→Handler map invoked under a single shared lock.
// Concrete *Dispatcher structurally satisfies internal/plugin.CommandRegistrar
// without importing that package.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds handler under id. Fails with InvalidParameter if id is
// already registered — callers that want replace semantics must
// Unregister first.
func (d *Dispatcher) Register(id string, handler Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[id]; exists {
		return errors.New(errors.InvalidParameter, fmt.Sprintf("command %q already registered", id))
	}
	d.handlers[id] = handler
	return nil
}

// Unregister removes id if present; removing an absent id is a no-op.
func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, id)
	return nil
}

// IDs returns every currently-registered command id.
func (d *Dispatcher) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for id := range d.handlers {
		out = append(out, id)
	}
	return out
}

// Dispatch looks up id and invokes its handler with payload. A handler
// panic, or a missing id, is converted into the payload's own error
// envelope rather than propagated, since payload is the sole channel
// between caller and handler.
func (d *Dispatcher) Dispatch(id string, payload map[string]any) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handler, ok := d.handlers[id]

	if !ok {
		writeError(payload, errors.New(errors.ResourceUnavailable, fmt.Sprintf("no handler registered for command %q", id)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Dispatch().Error().Str("command", id).Interface("panic", r).Msg("command handler panicked")
			writeError(payload, errors.Newf(errors.ExternalFailure, "command %q panicked: %v", id, r))
		}
	}()
	handler(payload)
}

func writeError(payload map[string]any, err *errors.Error) {
	payload["status"] = "error"
	payload["error"] = map[string]any{
		"code":    string(err.Kind),
		"message": err.Message,
	}
}
