package plugin

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJobEverySecond(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	ticks := make(chan struct{}, 4)
	_, err := sched.AddJob("autofocus", "* * * * * *", func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case <-ticks:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
}

func TestSchedulerRemoveAllRetractsOwnedJobs(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	var fired atomicBool
	_, err := sched.AddJob("guider", "* * * * * *", func() { fired.set(true) })
	require.NoError(t, err)

	sched.RemoveAll("guider")
	assert.Empty(t, sched.byOwner["guider"])

	fired.set(false)
	time.Sleep(1200 * time.Millisecond)
	assert.False(t, fired.get(), "job should not fire after RemoveAll")
}

func TestSchedulerJobPanicIsRecovered(t *testing.T) {
	sched := NewScheduler()
	defer sched.Stop()

	done := make(chan struct{}, 1)
	_, err := sched.AddJob("flaky", "* * * * * *", func() {
		defer func() { done <- struct{}{} }()
		panic("scheduled job exploded")
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

// atomicBool is a tiny test helper; the scheduler itself has no use for a
// bespoke bool type, sync/atomic.Bool covers production code.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = v
}

func (a *atomicBool) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}
