package plugin

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusEmitSyncPreservesSubscriptionOrder(t *testing.T) {
	bus := NewEventBus()
	var order []int
	var mu sync.Mutex

	bus.Subscribe(func(Event) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	bus.Subscribe(func(Event) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	bus.Subscribe(func(Event) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	})

	bus.EmitSync(Event{Kind: EventLoaded, Plugin: "autofocus"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEventBusEmitDeliversAsynchronously(t *testing.T) {
	bus := NewEventBus()
	done := make(chan Event, 1)
	bus.Subscribe(func(e Event) { done <- e })

	bus.Emit(Event{Kind: EventUnloaded, Plugin: "guider", Detail: "manual"})

	select {
	case e := <-done:
		assert.Equal(t, EventUnloaded, e.Kind)
		assert.Equal(t, "guider", e.Plugin)
		assert.Equal(t, "manual", e.Detail)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestEventBusHandlerPanicDoesNotBlockOtherHandlers(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{}, 1)

	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { done <- struct{}{} })

	require.NotPanics(t, func() {
		bus.Emit(Event{Kind: EventError})
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran")
	}
}
