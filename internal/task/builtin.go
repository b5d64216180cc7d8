package task

import (
	"fmt"
	"os/exec"
	"strings"
)

// Registry is a name -> constructor map for built-in task types, mirroring
// the way a Target looks up an Executor by the persisted `taskName` field —
// a persisted task carries `{name, taskName, config, ...}`. Concrete types
// below are additive built-ins grounded on
// original_source/src/task/task_*.{hpp,cpp}; they do not change Task's base
// contract.
var Registry = map[string]func() Executor{
	"script":                     func() Executor { return &ScriptTask{} },
	"config_get":                 func() Executor { return &ConfigGetTask{} },
	"config_set":                 func() Executor { return &ConfigSetTask{} },
	"celestial_search":           func() Executor { return &CelestialSearchTask{} },
	"combined_script_celestial":  func() Executor { return &CombinedScriptCelestialTask{} },
}

// ConfigAccessor is the narrow slice of ConfigStore that config_get/
// config_set tasks need; defined here rather than imported directly to
// keep internal/task free of a dependency on internal/config.
type ConfigAccessor interface {
	Get(path string) (any, bool)
	Set(path string, value any) error
}

// CatalogLookup resolves a target name/designation to equatorial
// coordinates; the real star catalog is an external collaborator, so this
// is supplied by the caller.
type CatalogLookup func(name string) (ra, dec float64, ok bool)

// ScriptTask invokes an external command and captures its output,
// grounded on original_source/src/task/task_script.cpp.
type ScriptTask struct{}

func (ScriptTask) TaskName() string { return "script" }

func (ScriptTask) Schema() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Type: ParamString, Required: true, Description: "executable path"},
		{Name: "args", Type: ParamJSON, Required: false, Description: "array of string arguments"},
	}
}

func (ScriptTask) Execute(params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	var args []string
	if raw, ok := params["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}
	cmd := exec.Command(path, args...)
	out, err := cmd.CombinedOutput()
	result := map[string]any{
		"output":   strings.TrimRight(string(out), "\n"),
		"exitCode": cmd.ProcessState.ExitCode(),
	}
	if err != nil {
		return result, fmt.Errorf("script %s failed: %w", path, err)
	}
	return result, nil
}

// ConfigGetTask reads a ConfigStore path into the task result.
type ConfigGetTask struct {
	Store ConfigAccessor
}

func (ConfigGetTask) TaskName() string { return "config_get" }

func (ConfigGetTask) Schema() []ParamSpec {
	return []ParamSpec{{Name: "path", Type: ParamString, Required: true}}
}

func (c *ConfigGetTask) Execute(params map[string]any) (map[string]any, error) {
	path := params["path"].(string)
	v, ok := c.Store.Get(path)
	return map[string]any{"path": path, "value": v, "found": ok}, nil
}

// ConfigSetTask writes a value to a ConfigStore path.
type ConfigSetTask struct {
	Store ConfigAccessor
}

func (ConfigSetTask) TaskName() string { return "config_set" }

func (ConfigSetTask) Schema() []ParamSpec {
	return []ParamSpec{
		{Name: "path", Type: ParamString, Required: true},
		{Name: "value", Type: ParamJSON, Required: true},
	}
}

func (c *ConfigSetTask) Execute(params map[string]any) (map[string]any, error) {
	path := params["path"].(string)
	if err := c.Store.Set(path, params["value"]); err != nil {
		return nil, err
	}
	return map[string]any{"path": path}, nil
}

// CelestialSearchTask resolves a catalog name to RA/Dec, grounded on
// original_source/src/task/task_celestial_search.cpp.
type CelestialSearchTask struct {
	Lookup CatalogLookup
}

func (CelestialSearchTask) TaskName() string { return "celestial_search" }

func (CelestialSearchTask) Schema() []ParamSpec {
	return []ParamSpec{{Name: "name", Type: ParamString, Required: true}}
}

func (c *CelestialSearchTask) Execute(params map[string]any) (map[string]any, error) {
	name := params["name"].(string)
	ra, dec, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("celestial_search: %q not found in catalog", name)
	}
	return map[string]any{"ra": ra, "dec": dec}, nil
}

// CombinedScriptCelestialTask composes CelestialSearchTask then ScriptTask,
// passing the resolved coordinates as extra script arguments — grounded on
// original_source/src/task/task_combined_script_celestial.cpp, itself a
// composition rather than a new primitive.
type CombinedScriptCelestialTask struct {
	Lookup CatalogLookup
}

func (CombinedScriptCelestialTask) TaskName() string { return "combined_script_celestial" }

func (CombinedScriptCelestialTask) Schema() []ParamSpec {
	return []ParamSpec{
		{Name: "name", Type: ParamString, Required: true},
		{Name: "path", Type: ParamString, Required: true},
		{Name: "args", Type: ParamJSON, Required: false},
	}
}

func (c *CombinedScriptCelestialTask) Execute(params map[string]any) (map[string]any, error) {
	search := CelestialSearchTask{Lookup: c.Lookup}
	coords, err := search.Execute(map[string]any{"name": params["name"]})
	if err != nil {
		return nil, err
	}

	var args []any
	if raw, ok := params["args"].([]any); ok {
		args = append(args, raw...)
	}
	args = append(args, fmt.Sprintf("%v", coords["ra"]), fmt.Sprintf("%v", coords["dec"]))

	script := ScriptTask{}
	result, err := script.Execute(map[string]any{"path": params["path"], "args": args})
	if err != nil {
		return result, err
	}
	result["ra"] = coords["ra"]
	result["dec"] = coords["dec"]
	return result, nil
}
