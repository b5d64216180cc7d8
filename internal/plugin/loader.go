package plugin

import (
	"encoding/json"
	"fmt"
	nativeplugin "plugin"
	"strings"
	"sync"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
)

// LoadError is the PluginLoader's granular failure taxonomy,
// grounded on original_source/src/server/plugin/plugin_loader.hpp's
// PluginLoadError enum with InUse added for the explicit unload-while-
// referenced case. Every LoadError maps onto one of the closed errors.Kind
// values at the component boundary via ToKind, so callers outside this
// package only ever see that shared taxonomy.
type LoadError string

const (
	FileNotFound        LoadError = "FileNotFound"
	InvalidPlugin       LoadError = "InvalidPlugin"
	ApiVersionMismatch  LoadError = "ApiVersionMismatch"
	DependencyMissing   LoadError = "DependencyMissing"
	InitializationFailed LoadError = "InitializationFailed"
	AlreadyLoaded       LoadError = "AlreadyLoaded"
	LoadFailed          LoadError = "LoadFailed"
	SymbolNotFound      LoadError = "SymbolNotFound"
	InUse               LoadError = "InUse"
)

// ToKind maps a LoadError onto the closed §7 error-kind taxonomy.
func (le LoadError) ToKind() sequencererr.Kind {
	switch le {
	case ApiVersionMismatch:
		return sequencererr.PluginApiMismatch
	case InvalidPlugin, InitializationFailed, SymbolNotFound:
		return sequencererr.PluginInitFailed
	case FileNotFound, DependencyMissing:
		return sequencererr.ResourceUnavailable
	case AlreadyLoaded, InUse:
		return sequencererr.StatePrecondition
	case LoadFailed:
		return sequencererr.ExternalFailure
	default:
		return sequencererr.ExternalFailure
	}
}

func loadErr(kind LoadError, format string, args ...any) *sequencererr.Error {
	return sequencererr.New(kind.ToKind(), fmt.Sprintf(format, args...)).WithDetails(kind)
}

// Config configures a Loader, mirroring PluginLoaderConfig.
type Config struct {
	PluginDirectory string
	SearchPaths     []string
	APIVersion      int
}

// DefaultConfig matches original_source's default pluginDirectory
// "plugins/server", adapted to this repository's layout.
func DefaultConfig() Config {
	return Config{PluginDirectory: "plugins", APIVersion: APIVersion}
}

// Loader turns a filesystem path into a live LoadedPlugin, enforces ABI
// compatibility, and manages library handle lifetime. All
// state transitions on the registry are serialized by mu; plugin method
// calls never hold it.
type Loader struct {
	cfg Config

	mu      sync.Mutex
	loaded  map[string]*LoadedPlugin
	configs map[string]json.RawMessage
}

// NewLoader constructs a Loader over cfg.
func NewLoader(cfg Config) *Loader {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = APIVersion
	}
	return &Loader{
		cfg:     cfg,
		loaded:  make(map[string]*LoadedPlugin),
		configs: make(map[string]json.RawMessage),
	}
}

func libExt() string { return ".so" }

// LoadPlugin opens the shared library at path, validates its ABI, and
// initializes it with config.
func (l *Loader) LoadPlugin(path string, config json.RawMessage) (*LoadedPlugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	manifest, _ := readManifestBeside(path)

	lib, err := nativeplugin.Open(path)
	if err != nil {
		return nil, loadErr(LoadFailed, "open %s: %v", path, err)
	}

	if versionSym, err := lib.Lookup(symAPIVersion); err == nil {
		versionFn, ok := versionSym.(func() int)
		if !ok {
			return nil, loadErr(SymbolNotFound, "%s has wrong signature in %s", symAPIVersion, path)
		}
		if v := versionFn(); v != l.cfg.APIVersion {
			return nil, loadErr(ApiVersionMismatch, "plugin %s reports API version %d, host requires %d", path, v, l.cfg.APIVersion)
		}
	}

	factorySym, err := lib.Lookup(symCreatePlugin)
	if err != nil {
		return nil, loadErr(SymbolNotFound, "%s missing %s", path, symCreatePlugin)
	}
	factory, ok := factorySym.(func() Plugin)
	if !ok {
		return nil, loadErr(InvalidPlugin, "%s: %s has wrong signature", path, symCreatePlugin)
	}
	instance := factory()
	if instance == nil {
		return nil, loadErr(InvalidPlugin, "%s: %s returned nil", path, symCreatePlugin)
	}

	meta := instance.Metadata()
	if _, exists := l.loaded[meta.Name]; exists {
		return nil, loadErr(AlreadyLoaded, "plugin %s already loaded", meta.Name)
	}
	if manifest.Name != "" {
		meta = manifest // manifest, if present, is authoritative pre-load metadata
	}

	if conflict := l.firstConflict(meta); conflict != "" {
		return nil, loadErr(DependencyMissing, "plugin %s conflicts with loaded plugin %s", meta.Name, conflict)
	}

	var destroyFn func(Plugin)
	if destroySym, err := lib.Lookup(symDestroyPlugin); err == nil {
		if fn, ok := destroySym.(func(Plugin)); ok {
			destroyFn = fn
		}
	}

	lp := &LoadedPlugin{
		Metadata:  meta,
		Path:      path,
		Kind:      classify(instance),
		Config:    config,
		instance:  instance,
		destroyFn: destroyFn,
	}
	lp.setState(Loaded)
	lp.loadTime = nowFunc()

	if !instance.Initialize(config) {
		return nil, loadErr(InitializationFailed, "plugin %s: initialize returned false", meta.Name)
	}
	lp.setState(Initialized)

	l.loaded[meta.Name] = lp
	l.configs[meta.Name] = config
	logger.Plugin().Info().Str("plugin", meta.Name).Str("path", path).Msg("plugin loaded")
	return lp, nil
}

func classify(p Plugin) Kind {
	_, isCmd := p.(CommandPlugin)
	_, isCtrl := p.(ControllerPlugin)
	switch {
	case isCmd && isCtrl:
		return KindFull
	case isCmd:
		return KindCommand
	case isCtrl:
		return KindController
	default:
		return KindUnknown
	}
}

func (l *Loader) firstConflict(meta Metadata) string {
	for name, lp := range l.loaded {
		for _, c := range lp.Metadata.Conflicts {
			if c == meta.Name {
				return name
			}
		}
		for _, c := range meta.Conflicts {
			if c == name {
				return name
			}
		}
	}
	return ""
}

// candidateNames returns the filename candidates LoadPluginByName searches
// for: name, libname, name.<ext>, libname.<ext>.
func candidateNames(name string) []string {
	ext := libExt()
	return []string{name, "lib" + name, name + ext, "lib" + name + ext}
}

// LoadPluginByName searches the configured plugin directory plus
// additional search paths for a matching candidate file.
func (l *Loader) LoadPluginByName(name string, config json.RawMessage) (*LoadedPlugin, error) {
	dirs := append([]string{l.cfg.PluginDirectory}, l.cfg.SearchPaths...)
	for _, dir := range dirs {
		for _, cand := range candidateNames(name) {
			full := joinPath(dir, cand)
			if fileExists(full) {
				return l.LoadPlugin(full, config)
			}
		}
	}
	return nil, loadErr(FileNotFound, "no candidate file for plugin %s in %v", name, dirs)
}

// UnloadPlugin calls Shutdown on the instance and drops the loader's
// reference. Fails with InUse if outstanding references remain.
func (l *Loader) UnloadPlugin(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lp, ok := l.loaded[name]
	if !ok {
		return loadErr(FileNotFound, "plugin %s not loaded", name)
	}
	if lp.refCount.Load() > 0 {
		return loadErr(InUse, "plugin %s has %d outstanding references", name, lp.refCount.Load())
	}

	lp.setState(Stopping)
	lp.instance.Shutdown()
	if lp.destroyFn != nil {
		lp.destroyFn(lp.instance)
	}
	lp.setState(Unloaded)
	delete(l.loaded, name)
	logger.Plugin().Info().Str("plugin", name).Msg("plugin unloaded")
	return nil
}

// ReloadPlugin unloads then loads name again using its last path/config.
func (l *Loader) ReloadPlugin(name string) (*LoadedPlugin, error) {
	l.mu.Lock()
	lp, ok := l.loaded[name]
	if !ok {
		l.mu.Unlock()
		return nil, loadErr(FileNotFound, "plugin %s not loaded", name)
	}
	path, cfg := lp.Path, l.configs[name]
	l.mu.Unlock()

	if err := l.UnloadPlugin(name); err != nil {
		return nil, err
	}
	return l.LoadPlugin(path, cfg)
}

// GetPlugin returns the loaded plugin named name, if any.
func (l *Loader) GetPlugin(name string) (*LoadedPlugin, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lp, ok := l.loaded[name]
	return lp, ok
}

// AllPlugins returns a snapshot of every loaded plugin.
func (l *Loader) AllPlugins() []*LoadedPlugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*LoadedPlugin, 0, len(l.loaded))
	for _, lp := range l.loaded {
		out = append(out, lp)
	}
	return out
}

// ValidateDependencies checks that every dependency of name is loaded.
func (l *Loader) ValidateDependencies(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lp, ok := l.loaded[name]
	if !ok {
		return loadErr(FileNotFound, "plugin %s not loaded", name)
	}
	for _, dep := range lp.Metadata.Dependencies {
		if _, ok := l.loaded[dep]; !ok {
			return loadErr(DependencyMissing, "plugin %s missing dependency %s", name, dep)
		}
	}
	return nil
}

// GetLoadOrder returns a dependency-topological order over the loaded set.
// If a cycle exists, the cycle is logged and every name is still returned,
// with the edge that closes each cycle ignored. Cycles are not refused at
// load time either: LoadAllDiscovered breaks cyclic manifest dependencies
// the same way (see sortFilesByDependency) and loads every file.
func (l *Loader) GetLoadOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadOrderLocked()
}

func (l *Loader) loadOrderLocked() []string {
	order, cyclic := topoSort(l.loaded)
	if cyclic {
		logger.Plugin().Warn().Msg("cyclic plugin dependency graph; load order is unordered")
	}
	return order
}

// topoSort runs a DFS with explicit in-stack (gray) tracking over the
// loaded set, visiting roots in name order, so dependencies precede their
// dependents and a gray hit reports a cycle.
func topoSort(loaded map[string]*LoadedPlugin) (order []string, cyclic bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(loaded))
	for name := range loaded {
		color[name] = white
	}

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		lp, ok := loaded[name]
		if ok {
			for _, dep := range lp.Metadata.Dependencies {
				if _, present := loaded[dep]; !present {
					continue // unloaded dependency, not this function's concern
				}
				switch color[dep] {
				case gray:
					cyclic = true
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		color[name] = black
		order = append(order, name)
		return false
	}

	names := make([]string, 0, len(loaded))
	for name := range loaded {
		names = append(names, name)
	}
	sortStrings(names)
	for _, name := range names {
		if color[name] == white {
			visit(name)
		}
	}
	return order, cyclic
}

// DiscoverPlugins returns candidate shared-library files in the configured
// directories without loading them.
func (l *Loader) DiscoverPlugins() ([]string, error) {
	var found []string
	dirs := append([]string{l.cfg.PluginDirectory}, l.cfg.SearchPaths...)
	for _, dir := range dirs {
		files, err := listDir(dir)
		if err != nil {
			continue // directory absence is not fatal to discovery
		}
		for _, f := range files {
			if strings.HasSuffix(f, libExt()) {
				found = append(found, joinPath(dir, f))
			}
		}
	}
	return found, nil
}

// LoadAllDiscovered loads every discovered plugin, ordering them so that
// for any plugin P depending on D, D loads before P — mirroring
// GetLoadOrder's dependency ordering before any plugin is actually loaded.
// Dependency edges come from each file's manifest sidecar (readManifestBeside,
// the same pre-open metadata source LoadPlugin itself consults), since a
// plugin's real Metadata() is only available after opening its library.
// A file without a manifest, or whose manifest is silent on a name, has no
// knowable dependents or dependencies and keeps its discovery-order
// position. Individual load failures are logged, not fatal.
func (l *Loader) LoadAllDiscovered() int {
	files, _ := l.DiscoverPlugins()
	order := sortFilesByDependency(files, func(f string) (string, []string) {
		meta, err := readManifestBeside(f)
		if err != nil {
			return "", nil
		}
		return meta.Name, meta.Dependencies
	})

	ok := 0
	for _, f := range order {
		if _, err := l.LoadPlugin(f, nil); err != nil {
			logger.Plugin().Warn().Str("file", f).Err(err).Msg("failed to load discovered plugin")
			continue
		}
		ok++
	}
	return ok
}

// sortFilesByDependency topologically sorts files using manifestOf to learn
// each file's declared name and dependencies, so a dependency file always
// precedes a file that names it as a dependency. Files manifestOf can't
// name keep their relative discovery order. Cyclic manifest dependencies
// are broken rather than refused, the same policy topoSort applies to the
// already-loaded graph.
func sortFilesByDependency(files []string, manifestOf func(file string) (name string, deps []string)) []string {
	nameToFile := make(map[string]string, len(files))
	fileDeps := make(map[string][]string, len(files))
	for _, f := range files {
		name, deps := manifestOf(f)
		if name == "" {
			continue
		}
		nameToFile[name] = f
		fileDeps[f] = deps
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(files))
	for _, f := range files {
		color[f] = white
	}

	var order []string
	var visit func(f string)
	visit = func(f string) {
		color[f] = gray
		for _, dep := range fileDeps[f] {
			depFile, ok := nameToFile[dep]
			if !ok || depFile == f || color[depFile] != white {
				continue
			}
			visit(depFile)
		}
		color[f] = black
		order = append(order, f)
	}

	for _, f := range files {
		if color[f] == white {
			visit(f)
		}
	}
	return order
}

func readManifestBeside(soPath string) (Metadata, error) {
	manifestPath := strings.TrimSuffix(soPath, libExt()) + ".yaml"
	data, err := readFile(manifestPath)
	if err != nil {
		return Metadata{}, err
	}
	return ParseManifest(data)
}
