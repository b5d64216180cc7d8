package plugin

import "encoding/json"

// Plugin is the abstract plugin interface every loaded instance satisfies.
// A shared library is a plugin iff it exports createPlugin() returning a
// value implementing this interface.
type Plugin interface {
	Metadata() Metadata
	Initialize(config json.RawMessage) bool
	Shutdown()
	State() State
	LastError() string
	IsHealthy() bool
}

// CommandPlugin is the optional subtype contract for plugins claiming the
// "command" capability.
type CommandPlugin interface {
	Plugin
	RegisterCommands(dispatcher CommandRegistrar) error
	UnregisterCommands(dispatcher CommandRegistrar) error
	CommandIDs() []string
}

// ControllerPlugin is the optional subtype contract for plugins claiming
// the "controller" capability. RouteInstaller is a narrow interface over
// the admin gin.RouterGroup so this package does not need to import gin
// directly in the ABI surface.
type ControllerPlugin interface {
	Plugin
	RegisterRoutes(router RouteInstaller) error
	RoutePaths() []string
	RoutePrefix() string
}

// CommandRegistrar is the slice of CommandDispatcher a command plugin needs:
// register/unregister by command id. Defined here (not imported from
// internal/dispatch) to avoid a dependency cycle, since dispatch in turn
// has no need to know about plugins.
type CommandRegistrar interface {
	Register(id string, handler func(payload map[string]any)) error
	Unregister(id string) error
}

// RouteInstaller is the slice of gin.RouterGroup a controller plugin needs.
type RouteInstaller interface {
	Handle(method, path string, handler func(params map[string]any) (map[string]any, error))
}

// symbols a dynamic library must or may export
const (
	symCreatePlugin  = "CreatePlugin"
	symDestroyPlugin = "DestroyPlugin"
	symAPIVersion    = "PluginAPIVersion"
)
