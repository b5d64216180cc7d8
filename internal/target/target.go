// Package target implements Target: an ordered group of Tasks sharing
// astronomical context and a parameter bag.
package target

import (
	"sync"
	"time"

	"github.com/google/uuid"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
	"github.com/lithium-sequencer/sequencer/internal/task"
)

// Status is a Target's lifecycle state.
type Status string

const (
	Pending    Status = "Pending"
	InProgress Status = "InProgress"
	Completed  Status = "Completed"
	Failed     Status = "Failed"
	Skipped    Status = "Skipped"
)

// ExposureEntry is one line of a Target's exposure plan.
type ExposureEntry struct {
	Filter   string
	Duration time.Duration
	Count    int
	Progress int
}

// AstroContext is a Target's observing geometry, mutated only by the thread
// executing the Target.
type AstroContext struct {
	RAHours   float64
	DecDeg    float64
	WindowStart, WindowEnd time.Time
	PeakAltitudeDeg        float64
	CurrentAltDeg, CurrentAzDeg float64
	MeridianFlip            time.Time
	HasMeridianFlip         bool
}

// Validator matches the signature internal/task.Task.Run expects, injected
// here rather than imported from internal/validator to avoid a dependency
// cycle (task imports nothing from target or validator).
type Validator func(schema []task.ParamSpec, params map[string]any) *sequencererr.Error

// Lifecycle observes a Target's OnStart/OnEnd notifications (see Subscribe).
type Lifecycle interface {
	OnStart(targetName string)
	OnEnd(targetName string, status Status)
}

// Target owns an ordered vector of Tasks. Internals are split into
// reader-writer locks by concern (tasks, params, groups, deps, astro,
// callbacks) to reduce contention.
type Target struct {
	ID   uuid.UUID
	Name string

	tasksMu sync.RWMutex
	tasks   []*task.Task
	status  Status
	enabled bool

	paramsMu  sync.RWMutex
	bag       map[string]any
	taskParam map[uuid.UUID]map[string]any

	groupsMu sync.RWMutex
	groups   []string
	groupMembers map[string][]uuid.UUID

	depsMu sync.RWMutex
	deps   map[uuid.UUID]map[uuid.UUID]bool

	astroMu sync.RWMutex
	astro   AstroContext
	plan    []ExposureEntry

	cbMu      sync.RWMutex
	lifecycle []Lifecycle

	Cooldown   time.Duration
	MaxRetries int
	Priority   int
}

// New constructs an enabled, empty Target.
func New(name string) *Target {
	return &Target{
		ID:           uuid.New(),
		Name:         name,
		status:       Pending,
		enabled:      true,
		bag:          make(map[string]any),
		taskParam:    make(map[uuid.UUID]map[string]any),
		groupMembers: make(map[string][]uuid.UUID),
		deps:         make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// AddTask appends t to the Target's task vector in insertion order.
func (tg *Target) AddTask(t *task.Task) {
	tg.tasksMu.Lock()
	defer tg.tasksMu.Unlock()
	tg.tasks = append(tg.tasks, t)
}

// AddToGroup registers taskID as a member of group, creating the group on
// first use; groups run in phase 2 of the execution order.
func (tg *Target) AddToGroup(group string, taskID uuid.UUID) {
	tg.groupsMu.Lock()
	defer tg.groupsMu.Unlock()
	if _, exists := tg.groupMembers[group]; !exists {
		tg.groups = append(tg.groups, group)
	}
	tg.groupMembers[group] = append(tg.groupMembers[group], taskID)
}

// AddTaskDependency records that dependent cannot run until dependsOn has
// reached Completed.
func (tg *Target) AddTaskDependency(dependent, dependsOn uuid.UUID) {
	tg.depsMu.Lock()
	defer tg.depsMu.Unlock()
	if tg.deps[dependent] == nil {
		tg.deps[dependent] = make(map[uuid.UUID]bool)
	}
	tg.deps[dependent][dependsOn] = true
}

// SetEnabled toggles whether this Target executes at all.
func (tg *Target) SetEnabled(enabled bool) {
	tg.tasksMu.Lock()
	defer tg.tasksMu.Unlock()
	tg.enabled = enabled
}

// Status returns the Target's current status.
func (tg *Target) Status() Status {
	tg.tasksMu.RLock()
	defer tg.tasksMu.RUnlock()
	return tg.status
}

func (tg *Target) setStatus(s Status) {
	tg.tasksMu.Lock()
	tg.status = s
	tg.tasksMu.Unlock()
}

// SetParam sets a Target-bag parameter shared by every Task unless
// overridden per-task.
func (tg *Target) SetParam(name string, value any) {
	tg.paramsMu.Lock()
	defer tg.paramsMu.Unlock()
	tg.bag[name] = value
}

// SetTaskParam overrides name for a single task, taking precedence over
// the Target bag and the schema default.
func (tg *Target) SetTaskParam(taskID uuid.UUID, name string, value any) {
	tg.paramsMu.Lock()
	defer tg.paramsMu.Unlock()
	if tg.taskParam[taskID] == nil {
		tg.taskParam[taskID] = make(map[string]any)
	}
	tg.taskParam[taskID][name] = value
}

// ResolveParams merges the Target bag with any per-task overrides for
// taskID: a get returns the task-specific value if set, else the Target
// bag, else the schema default — the schema default itself is applied
// later, inside Task.Run.
func (tg *Target) ResolveParams(taskID uuid.UUID) map[string]any {
	tg.paramsMu.RLock()
	defer tg.paramsMu.RUnlock()
	out := make(map[string]any, len(tg.bag))
	for k, v := range tg.bag {
		out[k] = v
	}
	for k, v := range tg.taskParam[taskID] {
		out[k] = v
	}
	return out
}

// SetAstroContext replaces the Target's astronomical context wholesale.
func (tg *Target) SetAstroContext(ctx AstroContext) {
	tg.astroMu.Lock()
	defer tg.astroMu.Unlock()
	tg.astro = ctx
}

// AstroContext returns a copy of the current astronomical context.
func (tg *Target) AstroContext() AstroContext {
	tg.astroMu.RLock()
	defer tg.astroMu.RUnlock()
	return tg.astro
}

// SetExposurePlan replaces the exposure plan.
func (tg *Target) SetExposurePlan(plan []ExposureEntry) {
	tg.astroMu.Lock()
	defer tg.astroMu.Unlock()
	tg.plan = plan
}

// ExposurePlan returns a copy of the current exposure plan.
func (tg *Target) ExposurePlan() []ExposureEntry {
	tg.astroMu.RLock()
	defer tg.astroMu.RUnlock()
	out := make([]ExposureEntry, len(tg.plan))
	copy(out, tg.plan)
	return out
}

// incrementPlanProgress advances the first exposure-plan entry matching
// filterName by one capture: progress increments by one per successful
// capture task completion.
func (tg *Target) incrementPlanProgress(filterName string) {
	tg.astroMu.Lock()
	defer tg.astroMu.Unlock()
	for i := range tg.plan {
		if tg.plan[i].Filter == filterName && tg.plan[i].Progress < tg.plan[i].Count {
			tg.plan[i].Progress++
			return
		}
	}
}

// Subscribe registers a Lifecycle observer for OnStart/OnEnd notifications.
func (tg *Target) Subscribe(l Lifecycle) {
	tg.cbMu.Lock()
	defer tg.cbMu.Unlock()
	tg.lifecycle = append(tg.lifecycle, l)
}

func (tg *Target) emitStart() {
	tg.cbMu.RLock()
	defer tg.cbMu.RUnlock()
	for _, l := range tg.lifecycle {
		l.OnStart(tg.Name)
	}
}

func (tg *Target) emitEnd(status Status) {
	tg.cbMu.RLock()
	defer tg.cbMu.RUnlock()
	for _, l := range tg.lifecycle {
		l.OnEnd(tg.Name, status)
	}
}

// Tasks returns a snapshot of this Target's task vector, in insertion order.
func (tg *Target) Tasks() []*task.Task {
	tg.tasksMu.RLock()
	defer tg.tasksMu.RUnlock()
	return append([]*task.Task(nil), tg.tasks...)
}

// Bag returns a copy of the Target's shared parameter bag.
func (tg *Target) Bag() map[string]any {
	tg.paramsMu.RLock()
	defer tg.paramsMu.RUnlock()
	out := make(map[string]any, len(tg.bag))
	for k, v := range tg.bag {
		out[k] = v
	}
	return out
}

// TaskParamOverrides returns a copy of the per-task overrides set for taskID.
func (tg *Target) TaskParamOverrides(taskID uuid.UUID) map[string]any {
	tg.paramsMu.RLock()
	defer tg.paramsMu.RUnlock()
	out := make(map[string]any, len(tg.taskParam[taskID]))
	for k, v := range tg.taskParam[taskID] {
		out[k] = v
	}
	return out
}

// Groups returns the group names in insertion order.
func (tg *Target) Groups() []string {
	tg.groupsMu.RLock()
	defer tg.groupsMu.RUnlock()
	return append([]string(nil), tg.groups...)
}

// GroupMembers returns the task ids belonging to group, in insertion order.
func (tg *Target) GroupMembers(group string) []uuid.UUID {
	tg.groupsMu.RLock()
	defer tg.groupsMu.RUnlock()
	return append([]uuid.UUID(nil), tg.groupMembers[group]...)
}

// Dependencies returns the set of task ids that taskID depends on.
func (tg *Target) Dependencies(taskID uuid.UUID) []uuid.UUID {
	tg.depsMu.RLock()
	defer tg.depsMu.RUnlock()
	out := make([]uuid.UUID, 0, len(tg.deps[taskID]))
	for dep := range tg.deps[taskID] {
		out = append(out, dep)
	}
	return out
}

// Enabled reports whether this Target will execute at all.
func (tg *Target) Enabled() bool {
	tg.tasksMu.RLock()
	defer tg.tasksMu.RUnlock()
	return tg.enabled
}

// SetStatus forces the Target's status, used by SequenceEngine recovery
// strategies (Skip/Retry/Alternative) that must mutate status outside a
// normal Execute call.
func (tg *Target) SetStatus(s Status) {
	tg.setStatus(s)
}

// Progress reports 100*(completed+skipped)/total across this Target's Tasks.
func (tg *Target) Progress() float64 {
	tg.tasksMu.RLock()
	defer tg.tasksMu.RUnlock()
	if len(tg.tasks) == 0 {
		return 100
	}
	done := 0
	for _, t := range tg.tasks {
		switch t.Status() {
		case task.Completed, task.Skipped:
			done++
		}
	}
	return 100 * float64(done) / float64(len(tg.tasks))
}

// taskDependenciesMet reports whether every dependency of taskID has
// reached task.Completed.
func (tg *Target) taskDependenciesMet(taskID uuid.UUID, byID map[uuid.UUID]*task.Task) bool {
	tg.depsMu.RLock()
	defer tg.depsMu.RUnlock()
	for dep := range tg.deps[taskID] {
		t, ok := byID[dep]
		if !ok || t.Status() != task.Completed {
			return false
		}
	}
	return true
}

// isGrouped reports whether taskID is a member of any group.
func (tg *Target) isGrouped(taskID uuid.UUID) bool {
	tg.groupsMu.RLock()
	defer tg.groupsMu.RUnlock()
	for _, members := range tg.groupMembers {
		for _, id := range members {
			if id == taskID {
				return true
			}
		}
	}
	return false
}

// Execute runs this Target's Tasks following the five-step execution order:
// disabled short-circuit, OnStart, the main pass, the grouped-task phase,
// then OnEnd. validate is injected (see Validator) to keep this package
// free of a dependency on internal/validator.
func (tg *Target) Execute(validate Validator) Status {
	tg.tasksMu.RLock()
	enabled := tg.enabled
	tasks := append([]*task.Task(nil), tg.tasks...)
	tg.tasksMu.RUnlock()

	if !enabled {
		tg.setStatus(Skipped)
		tg.emitEnd(Skipped)
		return Skipped
	}

	tg.setStatus(InProgress)
	tg.emitStart()

	byID := make(map[uuid.UUID]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	failed := false
	for _, t := range tasks {
		if tg.isGrouped(t.ID) {
			continue
		}
		if !tg.taskDependenciesMet(t.ID, byID) {
			continue
		}
		if tg.runOne(t, validate) {
			failed = true
			break
		}
	}

	if !failed {
		tg.groupsMu.RLock()
		groups := append([]string(nil), tg.groups...)
		members := make(map[string][]uuid.UUID, len(tg.groupMembers))
		for k, v := range tg.groupMembers {
			members[k] = append([]uuid.UUID(nil), v...)
		}
		tg.groupsMu.RUnlock()

		for _, g := range groups {
			for _, id := range members[g] {
				t, ok := byID[id]
				if !ok {
					continue
				}
				if !tg.taskDependenciesMet(id, byID) {
					continue
				}
				if tg.runOne(t, validate) {
					failed = true
					break
				}
			}
			if failed {
				break
			}
		}
	}

	final := Completed
	if failed {
		final = Failed
	}
	tg.setStatus(final)
	tg.emitEnd(final)
	return final
}

// runOne executes a single task, returning true iff it failed.
func (tg *Target) runOne(t *task.Task, validate Validator) bool {
	params := tg.ResolveParams(t.ID)
	if err := t.Run(validate, params); err != nil {
		logger.Engine().Warn().Str("target", tg.Name).Str("task", t.Name).Err(err).Msg("task failed")
		return true
	}
	if filter, ok := params["filter"].(string); ok {
		tg.incrementPlanProgress(filter)
	}
	return false
}
