package sequence

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/target"
	"github.com/lithium-sequencer/sequencer/internal/task"
)

// persistedTask is one Task's on-disk representation: a persisted sequence
// carries each task as id/name/taskName plus its per-task param overrides.
type persistedTask struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"taskName"`
	Params map[string]any `json:"params,omitempty"`
}

type persistedAstro struct {
	RAHours     float64   `json:"raHours"`
	DecDeg      float64   `json:"decDeg"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	PeakAltDeg  float64   `json:"peakAltitudeDeg"`
}

type persistedTarget struct {
	Name       string                    `json:"name"`
	Enabled    bool                      `json:"enabled"`
	Priority   int                       `json:"priority"`
	MaxRetries int                       `json:"maxRetries"`
	CooldownMs int64                     `json:"cooldownMs"`
	Bag        map[string]any            `json:"bag"`
	Tasks      []persistedTask           `json:"tasks"`
	Groups     map[string][]string       `json:"groups,omitempty"`
	TaskDeps   map[string][]string       `json:"taskDeps,omitempty"`
	Astro      persistedAstro            `json:"astro"`
	ExposurePlan []target.ExposureEntry  `json:"exposurePlan,omitempty"`
}

type persistedEngine struct {
	SchedulingStrategy   SchedulingStrategy      `json:"schedulingStrategy"`
	RecoveryStrategy     RecoveryStrategy        `json:"recoveryStrategy"`
	MaxConcurrentTargets int                     `json:"maxConcurrentTargets"`
	GlobalTimeoutMs      int64                   `json:"globalTimeoutMs"`
	MinAltitudeDeg       float64                 `json:"minAltitudeDeg"`
	TargetOrder          []string                `json:"targetOrder"`
	TargetDependencies   map[string][]string     `json:"targetDependencies,omitempty"`
	Targets              []persistedTarget       `json:"targets"`
}

// SaveSequence serializes every Target, its tasks, task params, groups,
// dependencies, astro config, and engine settings to path.
func (e *Engine) SaveSequence(path string) error {
	e.mu.Lock()
	snap := persistedEngine{
		SchedulingStrategy:   e.schedulingStrategy,
		RecoveryStrategy:     e.recoveryStrategy,
		MaxConcurrentTargets: e.maxConcurrent,
		GlobalTimeoutMs:      e.globalTimeout.Milliseconds(),
		MinAltitudeDeg:       e.minAltitudeDeg,
		TargetOrder:          append([]string(nil), e.order...),
	}
	if len(e.deps) > 0 {
		snap.TargetDependencies = make(map[string][]string, len(e.deps))
		for name, ds := range e.deps {
			for dep := range ds {
				snap.TargetDependencies[name] = append(snap.TargetDependencies[name], dep)
			}
		}
	}
	targets := append([]*target.Target(nil), e.targets...)
	e.mu.Unlock()

	for _, t := range targets {
		snap.Targets = append(snap.Targets, snapshotTarget(t))
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "marshal sequence", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "write sequence file", err)
	}
	return nil
}

func snapshotTarget(t *target.Target) persistedTarget {
	astro := t.AstroContext()
	pt := persistedTarget{
		Name:       t.Name,
		Enabled:    t.Enabled(),
		Priority:   t.Priority,
		MaxRetries: t.MaxRetries,
		CooldownMs: t.Cooldown.Milliseconds(),
		Bag:        t.Bag(),
		Astro: persistedAstro{
			RAHours:     astro.RAHours,
			DecDeg:      astro.DecDeg,
			WindowStart: astro.WindowStart,
			WindowEnd:   astro.WindowEnd,
			PeakAltDeg:  astro.PeakAltitudeDeg,
		},
		ExposurePlan: t.ExposurePlan(),
	}

	idByUUID := make(map[uuid.UUID]string)
	for _, tk := range t.Tasks() {
		idByUUID[tk.ID] = tk.ID.String()
		pt.Tasks = append(pt.Tasks, persistedTask{
			ID:     tk.ID.String(),
			Name:   tk.Name,
			Type:   tk.Type,
			Params: t.TaskParamOverrides(tk.ID),
		})
	}

	for _, g := range t.Groups() {
		if pt.Groups == nil {
			pt.Groups = make(map[string][]string)
		}
		for _, id := range t.GroupMembers(g) {
			pt.Groups[g] = append(pt.Groups[g], idByUUID[id])
		}
	}

	for _, tk := range t.Tasks() {
		deps := t.Dependencies(tk.ID)
		if len(deps) == 0 {
			continue
		}
		if pt.TaskDeps == nil {
			pt.TaskDeps = make(map[string][]string)
		}
		for _, d := range deps {
			pt.TaskDeps[idByUUID[tk.ID]] = append(pt.TaskDeps[idByUUID[tk.ID]], idByUUID[d])
		}
	}
	return pt
}

// LoadSequence reads path and replaces the engine's current state, but only
// when State() == Idle. catalog and store are threaded into
// any task.Registry entries that need them (celestial_search, config_get/
// config_set); either may be nil if the persisted sequence uses neither.
func (e *Engine) LoadSequence(path string, store task.ConfigAccessor, catalog task.CatalogLookup) error {
	if e.State() != Idle {
		return sequencererr.New(sequencererr.StatePrecondition, "LoadSequence requires an Idle engine")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sequencererr.Wrap(sequencererr.ExternalFailure, "read sequence file", err)
	}
	var snap persistedEngine
	if err := json.Unmarshal(data, &snap); err != nil {
		return sequencererr.Wrap(sequencererr.InvalidParameter, "parse sequence file", err)
	}

	e.mu.Lock()
	e.targets = nil
	e.byName = make(map[string]*target.Target)
	e.insertionOrder = nil
	e.order = nil
	e.deps = make(map[string]map[string]bool)
	e.ready = make(map[string]bool)
	e.retryCount = make(map[string]int)
	e.schedulingStrategy = snap.SchedulingStrategy
	e.recoveryStrategy = snap.RecoveryStrategy
	e.maxConcurrent = snap.MaxConcurrentTargets
	e.globalTimeout = time.Duration(snap.GlobalTimeoutMs) * time.Millisecond
	e.minAltitudeDeg = snap.MinAltitudeDeg
	for name, ds := range snap.TargetDependencies {
		e.deps[name] = make(map[string]bool, len(ds))
		for _, d := range ds {
			e.deps[name][d] = true
		}
	}
	e.mu.Unlock()

	for _, pt := range snap.Targets {
		t, err := rebuildTarget(pt, store, catalog)
		if err != nil {
			return err
		}
		e.AddTarget(t)
	}

	e.mu.Lock()
	if len(snap.TargetOrder) > 0 {
		e.order = append([]string(nil), snap.TargetOrder...)
	}
	e.recomputeReadyLocked()
	e.mu.Unlock()
	return nil
}

func rebuildTarget(pt persistedTarget, store task.ConfigAccessor, catalog task.CatalogLookup) (*target.Target, error) {
	t := target.New(pt.Name)
	t.SetEnabled(pt.Enabled)
	t.Priority = pt.Priority
	t.MaxRetries = pt.MaxRetries
	t.Cooldown = time.Duration(pt.CooldownMs) * time.Millisecond
	for k, v := range pt.Bag {
		t.SetParam(k, v)
	}
	t.SetAstroContext(target.AstroContext{
		RAHours:         pt.Astro.RAHours,
		DecDeg:          pt.Astro.DecDeg,
		WindowStart:     pt.Astro.WindowStart,
		WindowEnd:       pt.Astro.WindowEnd,
		PeakAltitudeDeg: pt.Astro.PeakAltDeg,
	})
	t.SetExposurePlan(pt.ExposurePlan)

	idByPersisted := make(map[string]uuid.UUID, len(pt.Tasks))
	for _, ptk := range pt.Tasks {
		factory, ok := task.Registry[ptk.Type]
		if !ok {
			return nil, sequencererr.New(sequencererr.InvalidParameter, "unknown task type "+ptk.Type)
		}
		exec := factory()
		wireExecutorCollaborators(exec, store, catalog)

		tk := task.New(ptk.Name, exec)
		idByPersisted[ptk.ID] = tk.ID
		t.AddTask(tk)
		for k, v := range ptk.Params {
			t.SetTaskParam(tk.ID, k, v)
		}
	}
	for group, members := range pt.Groups {
		for _, persistedID := range members {
			if id, ok := idByPersisted[persistedID]; ok {
				t.AddToGroup(group, id)
			}
		}
	}
	for dependent, dependsOnList := range pt.TaskDeps {
		depID, ok := idByPersisted[dependent]
		if !ok {
			continue
		}
		for _, dependsOn := range dependsOnList {
			if id, ok := idByPersisted[dependsOn]; ok {
				t.AddTaskDependency(depID, id)
			}
		}
	}
	return t, nil
}

// wireExecutorCollaborators injects store/catalog into the built-in
// Executor types that need an external collaborator, since task.Registry's
// factories construct zero-value instances.
func wireExecutorCollaborators(exec task.Executor, store task.ConfigAccessor, catalog task.CatalogLookup) {
	switch e := exec.(type) {
	case *task.ConfigGetTask:
		e.Store = store
	case *task.ConfigSetTask:
		e.Store = store
	case *task.CelestialSearchTask:
		e.Lookup = catalog
	case *task.CombinedScriptCelestialTask:
		e.Lookup = catalog
	}
}
