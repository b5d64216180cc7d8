package plugin

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
)

// TestManagerLifecycleEventsAreTotallyOrdered drives Manager through its
// Enabled/Disabled/Unloaded lifecycle and asserts a subscriber
// observes every event in the exact order it was raised. With Emit (one
// goroutine per handler per call) this would be flaky; EmitSync makes it
// deterministic.
func TestManagerLifecycleEventsAreTotallyOrdered(t *testing.T) {
	loader := NewLoader(DefaultConfig())
	loader.loaded["solo"] = newFakeLoaded("solo")
	loader.loaded["solo"].setState(Initialized)

	mgr := NewManager(loader, nil, nil)

	var mu sync.Mutex
	var seen []EventKind
	mgr.Events().Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Kind)
		mu.Unlock()
	})

	require.NoError(t, mgr.EnablePlugin("solo"))
	require.NoError(t, mgr.DisablePlugin("solo"))
	require.NoError(t, mgr.UnloadPlugin("solo"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{
		EventEnabled, EventStateChanged,
		EventDisabled, EventStateChanged,
		EventUnloaded,
	}, seen)
}

// TestExecuteActionHoldsReferenceForUnloadCheck asserts ExecuteAction's
// Acquire/Release wiring leaves a real, observable refCount while fn runs,
// so UnloadPlugin's InUse gate has something genuine to refuse against.
func TestExecuteActionHoldsReferenceForUnloadCheck(t *testing.T) {
	loader := NewLoader(DefaultConfig())
	lp := newFakeLoaded("solo")
	loader.loaded["solo"] = lp

	mgr := NewManager(loader, nil, nil)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = mgr.ExecuteAction("solo", func() (map[string]any, error) {
			close(inFlight)
			<-release
			return nil, nil
		})
	}()

	<-inFlight
	err := loader.UnloadPlugin("solo")
	require.Error(t, err)
	assert.Equal(t, sequencererr.StatePrecondition, sequencererr.KindOf(err))

	close(release)
}
