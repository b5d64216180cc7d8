package target_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/target"
	"github.com/lithium-sequencer/sequencer/internal/task"
)

type fakeExec struct {
	name string
	fail bool
}

func (f *fakeExec) TaskName() string       { return f.name }
func (f *fakeExec) Schema() []task.ParamSpec { return nil }
func (f *fakeExec) Execute(params map[string]any) (map[string]any, error) {
	if f.fail {
		return nil, sequencererr.New(sequencererr.ExternalFailure, "boom")
	}
	return map[string]any{"ok": true}, nil
}

func noopValidate(_ []task.ParamSpec, _ map[string]any) *sequencererr.Error { return nil }

func TestExecuteAllTasksSucceed(t *testing.T) {
	tg := target.New("M42")
	t1 := task.New("capture-1", &fakeExec{name: "script"})
	t2 := task.New("capture-2", &fakeExec{name: "script"})
	tg.AddTask(t1)
	tg.AddTask(t2)

	status := tg.Execute(noopValidate)
	assert.Equal(t, target.Completed, status)
	assert.Equal(t, float64(100), tg.Progress())
}

func TestDisabledTargetSkips(t *testing.T) {
	tg := target.New("M31")
	tg.AddTask(task.New("capture", &fakeExec{name: "script"}))
	tg.SetEnabled(false)

	status := tg.Execute(noopValidate)
	assert.Equal(t, target.Skipped, status)
}

func TestFailureStopsMainPass(t *testing.T) {
	tg := target.New("M51")
	tg.AddTask(task.New("ok", &fakeExec{name: "script"}))
	tg.AddTask(task.New("bad", &fakeExec{name: "script", fail: true}))
	tg.AddTask(task.New("never-runs", &fakeExec{name: "script"}))

	status := tg.Execute(noopValidate)
	assert.Equal(t, target.Failed, status)
}

func TestDependencyGatesExecution(t *testing.T) {
	tg := target.New("dep-test")
	first := task.New("first", &fakeExec{name: "script"})
	second := task.New("second", &fakeExec{name: "script"})
	tg.AddTask(second)
	tg.AddTask(first)
	tg.AddTaskDependency(second.ID, first.ID)

	// second comes first in insertion order, so the single pass reaches it
	// before first has completed; it is skipped over and left Pending.
	status := tg.Execute(noopValidate)
	require.Equal(t, target.Completed, status)
	assert.Equal(t, task.Completed, first.Status())
	assert.Equal(t, task.Pending, second.Status())
}

func TestTaskParamOverridesTargetBag(t *testing.T) {
	tg := target.New("params")
	tg.SetParam("exposure", 30.0)
	id := task.New("capture", &fakeExec{name: "script"}).ID
	tg.SetTaskParam(id, "exposure", 60.0)

	params := tg.ResolveParams(id)
	assert.Equal(t, 60.0, params["exposure"])
}

func TestGroupedTasksRunInPhaseTwo(t *testing.T) {
	tg := target.New("groups")
	grouped := task.New("ha", &fakeExec{name: "script"})
	main := task.New("main", &fakeExec{name: "script"})
	tg.AddTask(main)
	tg.AddTask(grouped)
	tg.AddToGroup("narrowband", grouped.ID)

	status := tg.Execute(noopValidate)
	assert.Equal(t, target.Completed, status)
	assert.Equal(t, task.Completed, grouped.Status())
}
