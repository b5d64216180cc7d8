// Package task implements the sequencer's Task: the smallest unit of work
// inside a Target, carrying a parameter schema, a status machine, timing,
// and a bounded transition history.
package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
)

// ParamType is one of the five parameter kinds a Task schema entry may declare.
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamString ParamType = "string"
	ParamJSON   ParamType = "json"
)

// ParamSpec is one entry of a Task's ordered parameter schema.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
}

// Status is a Task's lifecycle state.
type Status string

const (
	Pending   Status = "Pending"
	Ready     Status = "Ready"
	Running   Status = "Running"
	Completed Status = "Completed"
	Failed    Status = "Failed"
	Skipped   Status = "Skipped"
)

// Transition records one status change with its wall-clock timestamp.
type Transition struct {
	From Status
	To   Status
	At   time.Time
}

// maxHistory bounds the transition history kept per Task.
const maxHistory = 64

// Sample is one CPU/memory measurement taken during execution.
type Sample struct {
	At        time.Time
	CPUPct    float64
	MemoryMB  float64
}

// Executor is the behavior a concrete Task type supplies. Subclasses in the
// original sense become Go values implementing Executor; the base Task
// struct below supplies everything else (schema validation, status
// machine, timing, history) so Executor implementations hold no persistent
// state between invocations.
type Executor interface {
	// TaskName is the static type tag used for persistence and lookup.
	TaskName() string
	// Schema is this task type's ordered parameter schema.
	Schema() []ParamSpec
	// Execute runs the task body against validated params and returns its
	// outputs as a map, which Run records as the Task's result. It receives
	// only params; no dispatcher is passed in.
	Execute(params map[string]any) (map[string]any, error)
}

// Task is a single unit of work owned by exactly one Target. A Task is
// constructed when its Target is constructed, mutated only by the thread
// executing that Target, and destroyed with the Target.
type Task struct {
	mu sync.Mutex

	ID   uuid.UUID
	Name string
	Type string // TaskName() of the bound Executor

	status     Status
	errKind    sequencererr.Kind
	errDetail  string
	startedAt  time.Time
	finishedAt time.Time
	history    []Transition
	samples    []Sample
	result     map[string]any

	exec Executor
}

// New constructs a Task bound to exec, starting in Pending.
func New(name string, exec Executor) *Task {
	return &Task{
		ID:     uuid.New(),
		Name:   name,
		Type:   exec.TaskName(),
		status: Pending,
		exec:   exec,
	}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) ErrorKind() sequencererr.Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errKind
}

func (t *Task) ErrorDetail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errDetail
}

func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	end := t.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.startedAt)
}

func (t *Task) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Task) Result() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) setStatus(s Status) {
	prev := t.status
	t.status = s
	t.history = append(t.history, Transition{From: prev, To: s, At: time.Now()})
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}
}

// Run validates params against the executor's schema, then executes it,
// driving the status machine Pending/Ready -> Running -> Completed|Failed.
// Schema validation failures transition the task straight to Failed with
// kind InvalidParameter without ever entering Running.
func (t *Task) Run(validate func(schema []ParamSpec, params map[string]any) *sequencererr.Error, params map[string]any) error {
	t.mu.Lock()
	if verr := validate(t.exec.Schema(), params); verr != nil {
		t.errKind = verr.Kind
		t.errDetail = verr.Message
		t.setStatus(Failed)
		t.mu.Unlock()
		return verr
	}
	t.setStatus(Running)
	t.startedAt = time.Now()
	exec := t.exec
	t.mu.Unlock()

	result, err := exec.Execute(withDefaults(exec.Schema(), params))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishedAt = time.Now()
	t.result = result
	if err != nil {
		t.errKind = sequencererr.KindOf(err)
		if t.errKind == "" {
			t.errKind = sequencererr.ExternalFailure
		}
		t.errDetail = err.Error()
		t.setStatus(Failed)
		return err
	}
	t.setStatus(Completed)
	return nil
}

// Skip transitions the task directly to Skipped. Target.Execute does not
// call it: tasks of a disabled Target, or whose dependencies never
// completed, keep their current status.
func (t *Task) Skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStatus(Skipped)
}

// Reset returns a failed task to Pending; history and error fields are
// preserved, not cleared, so the reset is visible in History(). The
// engine's Retry recovery strategy resets only the Target's status and
// does not call Reset.
func (t *Task) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStatus(Pending)
}

func withDefaults(schema []ParamSpec, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, s := range schema {
		if _, ok := out[s.Name]; !ok && s.Default != nil {
			out[s.Name] = s.Default
		}
	}
	return out
}
