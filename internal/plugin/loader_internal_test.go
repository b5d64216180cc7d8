package plugin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlugin is a minimal Plugin used to exercise Loader/Manager logic
// without opening a real shared library.
type fakePlugin struct {
	meta    Metadata
	healthy bool
	state   State
}

func (f *fakePlugin) Metadata() Metadata                { return f.meta }
func (f *fakePlugin) Initialize(_ json.RawMessage) bool { return true }
func (f *fakePlugin) Shutdown()                         {}
func (f *fakePlugin) State() State                      { return f.state }
func (f *fakePlugin) LastError() string                 { return "" }
func (f *fakePlugin) IsHealthy() bool                   { return f.healthy }

func newFakeLoaded(name string, deps ...string) *LoadedPlugin {
	lp := &LoadedPlugin{
		Metadata: Metadata{Name: name, Dependencies: deps},
		Kind:     KindUnknown,
		instance: &fakePlugin{meta: Metadata{Name: name}, healthy: true},
	}
	lp.setState(Initialized)
	return lp
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	loaded := map[string]*LoadedPlugin{
		"a": newFakeLoaded("a"),
		"b": newFakeLoaded("b", "a"),
		"c": newFakeLoaded("c", "b"),
	}
	order, cyclic := topoSort(loaded)
	require.False(t, cyclic)
	pos := make(map[string]int)
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestTopoSortDetectsCycle(t *testing.T) {
	loaded := map[string]*LoadedPlugin{
		"a": newFakeLoaded("a", "b"),
		"b": newFakeLoaded("b", "a"),
	}
	_, cyclic := topoSort(loaded)
	assert.True(t, cyclic)
}

func TestCandidateNamesIncludesLibPrefixAndExtension(t *testing.T) {
	names := candidateNames("autofocus")
	assert.Contains(t, names, "autofocus")
	assert.Contains(t, names, "libautofocus")
	assert.Contains(t, names, "autofocus.so")
	assert.Contains(t, names, "libautofocus.so")
}

func TestLoadErrorToKindMapping(t *testing.T) {
	assert.Equal(t, "PluginApiMismatch", string(ApiVersionMismatch.ToKind()))
	assert.Equal(t, "PluginInitFailed", string(InitializationFailed.ToKind()))
	assert.Equal(t, "ResourceUnavailable", string(FileNotFound.ToKind()))
	assert.Equal(t, "StatePrecondition", string(AlreadyLoaded.ToKind()))
}

func TestManagerEnableDisableGroupOrdering(t *testing.T) {
	loader := NewLoader(DefaultConfig())
	loader.loaded["a"] = newFakeLoaded("a")
	loader.loaded["b"] = newFakeLoaded("b", "a")

	mgr := NewManager(loader, nil, nil)
	mgr.AssignGroup("imaging", "b")
	mgr.AssignGroup("imaging", "a")

	var enabled, disabled []string
	mgr.Events().Subscribe(func(ev Event) {
		switch ev.Kind {
		case EventEnabled:
			enabled = append(enabled, ev.Plugin)
		case EventDisabled:
			disabled = append(disabled, ev.Plugin)
		}
	})

	require.NoError(t, mgr.EnableGroup("imaging"))
	assert.Equal(t, Running, loader.loaded["a"].State())
	assert.Equal(t, Running, loader.loaded["b"].State())
	assert.Equal(t, []string{"a", "b"}, enabled)

	require.NoError(t, mgr.DisableGroup("imaging"))
	assert.Equal(t, Disabled, loader.loaded["a"].State())
	assert.Equal(t, Disabled, loader.loaded["b"].State())
	assert.Equal(t, []string{"b", "a"}, disabled)
}

func TestSortFilesByDependencyOrdersDependenciesFirst(t *testing.T) {
	manifests := map[string]struct {
		name string
		deps []string
	}{
		"acamera.so": {"acamera", []string{"zcore"}},
		"zcore.so":   {"zcore", nil},
	}
	// Discovery order is alphabetical, so the dependent file sorts first
	// by name alone; the fix must still load zcore.so before acamera.so.
	files := []string{"acamera.so", "zcore.so"}
	order := sortFilesByDependency(files, func(f string) (string, []string) {
		m := manifests[f]
		return m.name, m.deps
	})
	pos := make(map[string]int, len(order))
	for i, f := range order {
		pos[f] = i
	}
	assert.Less(t, pos["zcore.so"], pos["acamera.so"])
}

func TestSortFilesByDependencyDetectsChain(t *testing.T) {
	manifests := map[string]struct {
		name string
		deps []string
	}{
		"c.so": {"c", []string{"b"}},
		"b.so": {"b", []string{"a"}},
		"a.so": {"a", nil},
	}
	files := []string{"a.so", "b.so", "c.so"}
	order := sortFilesByDependency(files, func(f string) (string, []string) {
		m := manifests[f]
		return m.name, m.deps
	})
	pos := make(map[string]int, len(order))
	for i, f := range order {
		pos[f] = i
	}
	assert.Less(t, pos["a.so"], pos["b.so"])
	assert.Less(t, pos["b.so"], pos["c.so"])
}

func TestSortFilesByDependencyLeavesManifestlessFilesInDiscoveryOrder(t *testing.T) {
	files := []string{"a.so", "b.so", "c.so"}
	order := sortFilesByDependency(files, func(f string) (string, []string) {
		return "", nil
	})
	assert.Equal(t, files, order)
}

func TestUnloadPluginRefusesWhileInUse(t *testing.T) {
	loader := NewLoader(DefaultConfig())
	lp := newFakeLoaded("solo")
	lp.refCount.Store(1)
	loader.loaded["solo"] = lp

	err := loader.UnloadPlugin("solo")
	require.Error(t, err)
}
