package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// Manager owns the Loader plus the lifecycle, grouping, and dispatch-wiring
// concerns layered above it. It is the only component that
// ever calls a plugin's RegisterCommands/RegisterRoutes, since only it holds
// the live CommandRegistrar and RouteInstaller for the running process.
type Manager struct {
	loader     *Loader
	events     *EventBus
	sched      *Scheduler
	dispatcher CommandRegistrar
	router     RouteInstaller

	mu     sync.Mutex
	groups map[string][]string
}

// NewManager wires a Manager over loader using dispatcher/router as the
// process's shared command dispatcher and admin router. Either may be nil
// (e.g. in tests exercising only discovery/lifecycle).
func NewManager(loader *Loader, dispatcher CommandRegistrar, router RouteInstaller) *Manager {
	return &Manager{
		loader:     loader,
		events:     NewEventBus(),
		sched:      NewScheduler(),
		dispatcher: dispatcher,
		router:     router,
		groups:     make(map[string][]string),
	}
}

// Events returns the manager's EventBus for subscription.
func (m *Manager) Events() *EventBus { return m.events }

// Scheduler returns the manager's shared cron scheduler, so plugins
// wishing to register recurring work can be offered it by the admin
// surface without importing this package's internals.
func (m *Manager) Scheduler() *Scheduler { return m.sched }

// LoadPlugin loads path via the underlying Loader and emits EventLoaded.
func (m *Manager) LoadPlugin(path string, config json.RawMessage) (*LoadedPlugin, error) {
	lp, err := m.loader.LoadPlugin(path, config)
	if err != nil {
		m.events.EmitSync(Event{Kind: EventError, Plugin: path, Detail: err})
		return nil, err
	}
	m.events.EmitSync(Event{Kind: EventLoaded, Plugin: lp.Metadata.Name})
	return lp, nil
}

// AssignGroup records name as a member of group, in the order it is added;
// group membership drives EnableGroup/DisableGroup ordering.
func (m *Manager) AssignGroup(group, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lp, ok := m.loader.GetPlugin(name)
	if ok {
		lp.Group = group
	}
	for _, existing := range m.groups[group] {
		if existing == name {
			return
		}
	}
	m.groups[group] = append(m.groups[group], name)
}

// EnablePlugin transitions a Loaded/Initialized/Disabled/Paused plugin to
// Running, registering its commands and/or routes if it advertises them.
func (m *Manager) EnablePlugin(name string) error {
	lp, ok := m.loader.GetPlugin(name)
	if !ok {
		return sequencererr.New(sequencererr.ResourceUnavailable, "plugin "+name+" not loaded")
	}
	switch lp.State() {
	case Running:
		return sequencererr.New(sequencererr.StatePrecondition, "plugin "+name+" already running")
	}

	if err := m.loader.ValidateDependencies(name); err != nil {
		return err
	}

	if cmdPlugin, ok := lp.instanceAsCommand(); ok && m.dispatcher != nil {
		if err := cmdPlugin.RegisterCommands(m.dispatcher); err != nil {
			return sequencererr.Wrap(sequencererr.PluginInitFailed, "register commands for "+name, err)
		}
	}
	if ctrlPlugin, ok := lp.instanceAsController(); ok && m.router != nil {
		if err := ctrlPlugin.RegisterRoutes(m.router); err != nil {
			return sequencererr.Wrap(sequencererr.PluginInitFailed, "register routes for "+name, err)
		}
	}

	lp.setState(Running)
	m.events.EmitSync(Event{Kind: EventEnabled, Plugin: name})
	m.events.EmitSync(Event{Kind: EventStateChanged, Plugin: name, Detail: Running})
	return nil
}

// DisablePlugin transitions name to Disabled, unregistering its commands
// and removing its cron jobs. Routes installed at enable time stay
// installed and keep reaching the plugin instance. The plugin instance
// itself is left initialized so it can later be re-enabled without a full
// reload.
func (m *Manager) DisablePlugin(name string) error {
	lp, ok := m.loader.GetPlugin(name)
	if !ok {
		return sequencererr.New(sequencererr.ResourceUnavailable, "plugin "+name+" not loaded")
	}
	if cmdPlugin, ok := lp.instanceAsCommand(); ok && m.dispatcher != nil {
		_ = cmdPlugin.UnregisterCommands(m.dispatcher)
	}
	m.sched.RemoveAll(name)
	lp.setState(Disabled)
	m.events.EmitSync(Event{Kind: EventDisabled, Plugin: name})
	m.events.EmitSync(Event{Kind: EventStateChanged, Plugin: name, Detail: Disabled})
	return nil
}

// UnloadPlugin disables name (unless it is already Disabled) then fully
// unloads it.
func (m *Manager) UnloadPlugin(name string) error {
	if lp, ok := m.loader.GetPlugin(name); ok && lp.State() != Disabled {
		_ = m.DisablePlugin(name)
	}
	if err := m.loader.UnloadPlugin(name); err != nil {
		return err
	}
	m.events.EmitSync(Event{Kind: EventUnloaded, Plugin: name})
	return nil
}

// EnableGroup enables every member of group in dependency-topological order.
func (m *Manager) EnableGroup(group string) error {
	m.mu.Lock()
	members := append([]string(nil), m.groups[group]...)
	m.mu.Unlock()

	ordered := m.orderWithin(members)
	for _, name := range ordered {
		if err := m.EnablePlugin(name); err != nil {
			return err
		}
	}
	return nil
}

// DisableGroup disables every member of group in reverse dependency order.
func (m *Manager) DisableGroup(group string) error {
	m.mu.Lock()
	members := append([]string(nil), m.groups[group]...)
	m.mu.Unlock()

	ordered := m.orderWithin(members)
	for i := len(ordered) - 1; i >= 0; i-- {
		if err := m.DisablePlugin(ordered[i]); err != nil {
			return err
		}
	}
	return nil
}

// orderWithin restricts the loader's global topological order to members.
func (m *Manager) orderWithin(members []string) []string {
	set := make(map[string]bool, len(members))
	for _, n := range members {
		set[n] = true
	}
	var ordered []string
	for _, n := range m.loader.GetLoadOrder() {
		if set[n] {
			ordered = append(ordered, n)
		}
	}
	return ordered
}

// ExecuteAction invokes fn on behalf of plugin name, recording latency and
// failure into its Statistics and emitting EventActionExecuted. Only calls
// made through ExecuteAction are counted: command handlers invoked by the
// CommandDispatcher and routes served by the admin router reach the
// plugin directly and are neither counted nor reference-held.
// ExecuteAction Acquires lp for the duration of fn and Releases it on
// return, so a plugin with a call in flight through here cannot be
// unloaded out from under it.
func (m *Manager) ExecuteAction(name string, fn func() (map[string]any, error)) (map[string]any, error) {
	lp, ok := m.loader.GetPlugin(name)
	if !ok {
		return nil, sequencererr.New(sequencererr.ResourceUnavailable, "plugin "+name+" not loaded")
	}
	lp.Acquire()
	defer lp.Release()

	start := time.Now()
	result, err := fn()
	lp.Stats.RecordCall(time.Since(start), err != nil)
	m.events.EmitSync(Event{Kind: EventActionExecuted, Plugin: name, Detail: err})
	return result, err
}

// SaveConfiguration writes every loaded plugin's last-known config blob to
// dir/<name>.json, so a restart can later reload it via LoadConfiguration.
func (m *Manager) SaveConfiguration(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "create plugin config dir", err)
	}
	for _, lp := range m.loader.AllPlugins() {
		data := lp.Config
		if data == nil {
			data = []byte("{}")
		}
		path := filepath.Join(dir, lp.Metadata.Name+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Plugin().Warn().Str("plugin", lp.Metadata.Name).Err(err).Msg("failed to persist plugin configuration")
		}
	}
	return nil
}

// LoadConfiguration reads dir/<name>.json for every discoverable plugin and
// returns the per-name config blobs, for use as the config argument to
// LoadPlugin/LoadPluginByName during startup.
func (m *Manager) LoadConfiguration(dir string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".json")]
		out[name] = data
	}
	return out
}

func (lp *LoadedPlugin) instanceAsCommand() (CommandPlugin, bool) {
	p, ok := lp.instance.(CommandPlugin)
	return p, ok
}

func (lp *LoadedPlugin) instanceAsController() (ControllerPlugin, bool) {
	p, ok := lp.instance.(ControllerPlugin)
	return p, ok
}
