package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithium-sequencer/sequencer/internal/dispatch"
)

func TestRegisterRejectsDuplicate(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, d.Register("ping", func(p map[string]any) {}))
	err := d.Register("ping", func(p map[string]any) {})
	assert.Error(t, err)
}

func TestDispatchMutatesPayload(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, d.Register("ping", func(p map[string]any) {
		p["status"] = "success"
		p["pong"] = true
	}))

	payload := map[string]any{}
	d.Dispatch("ping", payload)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, true, payload["pong"])
}

func TestDispatchUnknownCommandWritesError(t *testing.T) {
	d := dispatch.New()
	payload := map[string]any{}
	d.Dispatch("missing", payload)
	assert.Equal(t, "error", payload["status"])
	assert.NotNil(t, payload["error"])
}

func TestUnregisterIsIdempotent(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, d.Register("ping", func(p map[string]any) {}))
	require.NoError(t, d.Unregister("ping"))
	require.NoError(t, d.Unregister("ping"))
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, d.Register("boom", func(p map[string]any) {
		panic("handler exploded")
	}))
	payload := map[string]any{}
	assert.NotPanics(t, func() { d.Dispatch("boom", payload) })
	assert.Equal(t, "error", payload["status"])
}
