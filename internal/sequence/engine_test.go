package sequence_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/sequence"
	"github.com/lithium-sequencer/sequencer/internal/target"
	"github.com/lithium-sequencer/sequencer/internal/task"
)

type okExec struct{ fail bool }

func (okExec) TaskName() string         { return "script" }
func (okExec) Schema() []task.ParamSpec { return nil }
func (o okExec) Execute(params map[string]any) (map[string]any, error) {
	if o.fail {
		return nil, sequencererr.New(sequencererr.ExternalFailure, "fail")
	}
	return map[string]any{}, nil
}

func noopValidate(_ []task.ParamSpec, _ map[string]any) *sequencererr.Error { return nil }

func waitForState(t *testing.T, e *sequence.Engine, want sequence.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, e.State())
}

func TestEngineRunsAllTargetsToCompletion(t *testing.T) {
	e := sequence.New(noopValidate)
	for _, name := range []string{"M42", "M31"} {
		tg := target.New(name)
		tg.AddTask(task.New("capture", okExec{}))
		e.AddTarget(tg)
	}

	e.Start()
	waitForState(t, e, sequence.Stopped, 2*time.Second)
	assert.EqualValues(t, 2, e.Stats().Total.Load())
	assert.EqualValues(t, 2, e.Stats().Successes.Load())
}

func TestAddTargetDependencyRejectsCycle(t *testing.T) {
	e := sequence.New(noopValidate)
	a := target.New("a")
	b := target.New("b")
	e.AddTarget(a)
	e.AddTarget(b)

	require.NoError(t, e.AddTargetDependency("a", "b"))
	err := e.AddTargetDependency("b", "a")
	require.Error(t, err)
	assert.Equal(t, sequencererr.CyclicDependency, sequencererr.KindOf(err))
}

func TestSkipRecoveryContinuesAfterFailure(t *testing.T) {
	e := sequence.New(noopValidate)
	e.SetRecoveryStrategy(sequence.Skip)

	bad := target.New("bad")
	bad.AddTask(task.New("capture", okExec{fail: true}))
	good := target.New("good")
	good.AddTask(task.New("capture", okExec{}))
	e.AddTarget(bad)
	e.AddTarget(good)

	e.Start()
	waitForState(t, e, sequence.Stopped, 2*time.Second)
	assert.Equal(t, target.Skipped, bad.Status())
	assert.Equal(t, target.Completed, good.Status())
}

func TestStopRecoveryHaltsScheduling(t *testing.T) {
	e := sequence.New(noopValidate)
	e.SetRecoveryStrategy(sequence.Stop)

	bad := target.New("bad")
	bad.AddTask(task.New("capture", okExec{fail: true}))
	never := target.New("never")
	never.AddTask(task.New("capture", okExec{}))
	e.AddTarget(bad)
	e.AddTarget(never)

	e.Start()
	waitForState(t, e, sequence.Stopped, 2*time.Second)
	assert.Equal(t, target.Failed, bad.Status())
	assert.Equal(t, target.Pending, never.Status())
}

func TestSaveAndLoadSequenceRoundTrips(t *testing.T) {
	e := sequence.New(noopValidate)
	tg := target.New("M42")
	tg.SetParam("exposure", 30.0)
	tk := task.New("capture", &task.ScriptTask{})
	tg.AddTask(tk)
	e.AddTarget(tg)

	path := filepath.Join(t.TempDir(), "sequence.json")
	require.NoError(t, e.SaveSequence(path))

	loaded := sequence.New(noopValidate)
	require.NoError(t, loaded.LoadSequence(path, nil, nil))
}

type slowExec struct{}

func (slowExec) TaskName() string         { return "script" }
func (slowExec) Schema() []task.ParamSpec { return nil }
func (slowExec) Execute(params map[string]any) (map[string]any, error) {
	time.Sleep(200 * time.Millisecond)
	return map[string]any{}, nil
}

func TestLoadSequenceRefusedWhileRunning(t *testing.T) {
	e := sequence.New(noopValidate)
	tg := target.New("slow")
	tg.AddTask(task.New("capture", slowExec{}))
	e.AddTarget(tg)
	e.Start()
	defer e.Stop()

	err := e.LoadSequence(filepath.Join(t.TempDir(), "missing.json"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, sequencererr.StatePrecondition, sequencererr.KindOf(err))
}
