// Package plugin implements dynamic loading of native shared-library
// plugins (PluginLoader) and the owning lifecycle/dispatch layer above it
// (PluginManager). Grounded on streamspace-dev-streamspace's
// internal/plugins package — discovery.go's
// dual builtin+dynamic discovery and findPluginFile candidate search,
// event_bus.go's async/sync fan-out, api_registry.go's name-keyed
// registration, base_plugin.go's embeddable no-op defaults, runtime.go's
// LoadedPlugin/PluginContext shape, and scheduler.go's shared-cron-instance
// pattern — re-keyed entirely to this domain's ABI and lifecycle rather
// than streamspace's original session/user plugin hooks.
package plugin

import (
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// APIVersion is the host's PLUGIN_API_VERSION constant.
// A plugin exporting PluginAPIVersion() must return exactly this value.
const APIVersion = 1

// State is a LoadedPlugin's lifecycle state.
type State string

const (
	Unloaded    State = "Unloaded"
	Loading     State = "Loading"
	Loaded      State = "Loaded"
	Initialized State = "Initialized"
	Running     State = "Running"
	Paused      State = "Paused"
	Stopping    State = "Stopping"
	Error       State = "Error"
	Disabled    State = "Disabled"
)

// Kind is the polymorphic kind a plugin instance advertises.
type Kind string

const (
	KindCommand    Kind = "Command"
	KindController Kind = "Controller"
	KindFull       Kind = "Full"
	KindUnknown    Kind = "Unknown"
)

// Metadata is immutable once a plugin is loaded.
type Metadata struct {
	Name                 string   `yaml:"name" json:"name"`
	Version              string   `yaml:"version" json:"version"`
	Description          string   `yaml:"description" json:"description"`
	Author               string   `yaml:"author" json:"author"`
	License              string   `yaml:"license" json:"license"`
	Priority             int      `yaml:"priority" json:"priority"`
	Dependencies         []string `yaml:"dependencies" json:"dependencies"`
	OptionalDependencies []string `yaml:"optionalDependencies" json:"optionalDependencies"`
	Conflicts            []string `yaml:"conflicts" json:"conflicts"`
	Tags                 []string `yaml:"tags" json:"tags"`
	Capabilities         []string `yaml:"capabilities" json:"capabilities"`
}

// HasCapability reports whether m advertises capability c.
func (m Metadata) HasCapability(c string) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ParseManifest reads a plugin.yaml sidecar, letting PluginLoader build a
// dependency graph before any shared library is opened.
func ParseManifest(data []byte) (Metadata, error) {
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Statistics are the live call/error/latency counters tracked on every
// dispatched operation, using atomics since they are updated without the
// loader's serializing mutex held.
type Statistics struct {
	CallCount       atomic.Int64
	ErrorCount      atomic.Int64
	totalLatencyNs  atomic.Int64
	EstimatedMemory atomic.Int64
}

// RecordCall folds one call's latency and success/failure into the stats.
func (s *Statistics) RecordCall(d time.Duration, failed bool) {
	s.CallCount.Add(1)
	s.totalLatencyNs.Add(d.Nanoseconds())
	if failed {
		s.ErrorCount.Add(1)
	}
}

// AverageResponseTime is the mean latency across all recorded calls.
func (s *Statistics) AverageResponseTime() time.Duration {
	n := s.CallCount.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(s.totalLatencyNs.Load() / n)
}

// LoadedPlugin aggregates a plugin's metadata, handle, lifecycle state, and
// statistics. The PluginLoader owns every LoadedPlugin; the
// CommandDispatcher and admin HTTP router only ever see it indirectly
// through the PluginManager's weak handles.
type LoadedPlugin struct {
	Metadata Metadata
	Path     string
	Kind     Kind
	Group    string
	Config   []byte

	stateMu   sync.RWMutex
	state     State
	lastError string
	loadTime  time.Time

	Stats Statistics

	instance  Plugin
	refCount  atomic.Int32
	destroyFn func(Plugin)
}

// State returns the plugin's current lifecycle state.
func (lp *LoadedPlugin) State() State {
	lp.stateMu.RLock()
	defer lp.stateMu.RUnlock()
	return lp.state
}

func (lp *LoadedPlugin) setState(s State) {
	lp.stateMu.Lock()
	lp.state = s
	lp.stateMu.Unlock()
}

// LastError returns the last error string recorded against this plugin.
func (lp *LoadedPlugin) LastError() string {
	lp.stateMu.RLock()
	defer lp.stateMu.RUnlock()
	return lp.lastError
}

func (lp *LoadedPlugin) setLastError(msg string) {
	lp.stateMu.Lock()
	lp.lastError = msg
	lp.stateMu.Unlock()
}

// LoadTime reports when this plugin was successfully loaded.
func (lp *LoadedPlugin) LoadTime() time.Time {
	lp.stateMu.RLock()
	defer lp.stateMu.RUnlock()
	return lp.loadTime
}

// Acquire records one in-flight call into this plugin's instance: a caller
// Acquires before invoking the instance and Releases once it returns, so
// UnloadPlugin's InUse check reflects real outstanding references.
// Manager.ExecuteAction is the only caller; command handlers invoked
// through the CommandDispatcher and routes served by the admin router do
// not Acquire.
func (lp *LoadedPlugin) Acquire() {
	lp.refCount.Add(1)
}

// Release drops one in-flight call recorded by Acquire.
func (lp *LoadedPlugin) Release() {
	lp.refCount.Add(-1)
}
