// Package sequence implements SequenceEngine, the top-level aggregate that
// schedules Targets to completion respecting dependencies, astronomical
// windows, and a concurrency cap.
package sequence

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
	"github.com/lithium-sequencer/sequencer/internal/logger"
	"github.com/lithium-sequencer/sequencer/internal/target"
)

// State is the engine's run state.
type State string

const (
	Idle     State = "Idle"
	Running  State = "Running"
	Paused   State = "Paused"
	Stopping State = "Stopping"
	Stopped  State = "Stopped"
)

// SchedulingStrategy chooses how next_executable_target orders candidates.
type SchedulingStrategy string

const (
	Sequential   SchedulingStrategy = "Sequential"
	Dependencies SchedulingStrategy = "Dependencies"
	Priority     SchedulingStrategy = "Priority"
)

// RecoveryStrategy chooses what happens when a Target fails.
type RecoveryStrategy string

const (
	Stop        RecoveryStrategy = "Stop"
	Skip        RecoveryStrategy = "Skip"
	Retry       RecoveryStrategy = "Retry"
	Alternative RecoveryStrategy = "Alternative"
)

// Stats are the engine's execution statistics, updated with atomics so
// readers never take the Engine's main lock.
type Stats struct {
	Total          atomic.Int64
	Successes      atomic.Int64
	Failures       atomic.Int64
	totalDurationNs atomic.Int64
	startedAt      time.Time
}

func (s *Stats) record(success bool, d time.Duration) {
	s.Total.Add(1)
	s.totalDurationNs.Add(d.Nanoseconds())
	if success {
		s.Successes.Add(1)
	} else {
		s.Failures.Add(1)
	}
}

// AverageDuration is the mean Target execution time across all recorded runs.
func (s *Stats) AverageDuration() time.Duration {
	n := s.Total.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(s.totalDurationNs.Load() / n)
}

// Uptime is the time elapsed since the engine's current run started.
func (s *Stats) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Engine is the SequenceEngine. A single mutex guards the
// Target vector and dependency maps; Stats uses atomics without the lock.
type Engine struct {
	mu             sync.Mutex
	targets        []*target.Target
	byName         map[string]*target.Target
	insertionOrder []string
	order          []string // current scheduling order, by name
	deps           map[string]map[string]bool
	ready          map[string]bool
	alternatives   map[string]*target.Target
	retryCount     map[string]int

	state              State
	schedulingStrategy SchedulingStrategy
	recoveryStrategy   RecoveryStrategy
	maxConcurrent      int
	globalTimeout      time.Duration
	minAltitudeDeg     float64

	validate target.Validator
	stats    Stats

	cancel     atomic.Bool
	timedOut   atomic.Bool
	inProgress atomic.Int32
	loopDone   chan struct{}
}

// TimedOut reports whether the most recent run ended because the global
// timeout elapsed, for cmd/sequencerd to map onto its distinct exit code.
func (e *Engine) TimedOut() bool {
	return e.timedOut.Load()
}

// New constructs an idle Engine. validate is threaded through to every
// Target.Execute call (see target.Validator).
func New(validate target.Validator) *Engine {
	return &Engine{
		byName:       make(map[string]*target.Target),
		deps:         make(map[string]map[string]bool),
		ready:        make(map[string]bool),
		alternatives: make(map[string]*target.Target),
		retryCount:   make(map[string]int),
		state:        Idle,
		schedulingStrategy: Sequential,
		recoveryStrategy:   Stop,
		validate:           validate,
	}
}

// AddTarget appends t in insertion order and marks it ready (no dependencies yet).
func (e *Engine) AddTarget(t *target.Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets = append(e.targets, t)
	e.byName[t.Name] = t
	e.insertionOrder = append(e.insertionOrder, t.Name)
	e.order = append(e.order, t.Name)
	e.ready[t.Name] = true
}

// SetAlternative registers alt as the Alternative-strategy fallback for primary.
func (e *Engine) SetAlternative(primary string, alt *target.Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alternatives[primary] = alt
}

// SetMaxConcurrentTargets sets the concurrency cap; 0 enforces strictly
// sequential execution.
func (e *Engine) SetMaxConcurrentTargets(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxConcurrent = n
}

// SetGlobalTimeout bounds total wall-clock time since Start; zero disables it.
func (e *Engine) SetGlobalTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globalTimeout = d
}

// SetMinAltitude is the altitude floor used by the astronomical window check.
func (e *Engine) SetMinAltitude(deg float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minAltitudeDeg = deg
}

// SetRecoveryStrategy changes how the engine reacts to a Target failure.
func (e *Engine) SetRecoveryStrategy(s RecoveryStrategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recoveryStrategy = s
}

// State returns the engine's current run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AddTargetDependency tentatively inserts the edge a-depends-on-b, running a
// DFS cycle check; on a would-be cycle the edge is rejected and
// CyclicDependency is returned.
func (e *Engine) AddTargetDependency(a, b string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deps[a] == nil {
		e.deps[a] = make(map[string]bool)
	}
	e.deps[a][b] = true

	if e.reachableLocked(b, a) {
		delete(e.deps[a], b)
		return sequencererr.New(sequencererr.CyclicDependency, "adding dependency "+a+" -> "+b+" would create a cycle")
	}
	e.recomputeReadyLocked()
	return nil
}

// reachableLocked reports whether to is reachable from from via deps edges.
func (e *Engine) reachableLocked(from, to string) bool {
	visited := make(map[string]bool)
	var dfs func(n string) bool
	dfs = func(n string) bool {
		if n == to {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for next := range e.deps[n] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// recomputeReadyLocked recomputes the ready-flag map: a target is ready iff
// every dependency has reached target.Completed. Readiness here depends
// only on Status, never transitively on another target's readiness flag,
// so a single pass always reaches a fixpoint.
func (e *Engine) recomputeReadyLocked() {
	for name := range e.byName {
		ready := true
		for dep := range e.deps[name] {
			dt, ok := e.byName[dep]
			if !ok || dt.Status() != target.Completed {
				ready = false
				break
			}
		}
		e.ready[name] = ready
	}
}

// SetSchedulingStrategy switches strategy, reordering e.order accordingly.
// Dependencies reordering that encounters a cycle leaves the order and
// strategy unchanged and returns CyclicDependency.
func (e *Engine) SetSchedulingStrategy(s SchedulingStrategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s {
	case Sequential:
		e.order = append([]string(nil), e.insertionOrder...)
	case Priority:
		order := append([]string(nil), e.insertionOrder...)
		sort.SliceStable(order, func(i, j int) bool {
			return e.byName[order[i]].Priority > e.byName[order[j]].Priority
		})
		e.order = order
	case Dependencies:
		order, cyclic := e.topoOrderLocked()
		if cyclic {
			return sequencererr.New(sequencererr.CyclicDependency, "dependency graph contains a cycle")
		}
		e.order = order
	default:
		return sequencererr.New(sequencererr.InvalidParameter, "unknown scheduling strategy")
	}
	e.schedulingStrategy = s
	return nil
}

// topoOrderLocked computes a dependency-respecting order over
// e.insertionOrder via Kahn's algorithm, breaking ties by original
// position. AddTargetDependency/reachableLocked use a visited-set
// reachability DFS for the on-the-fly cycle check; the full reorder here
// only needs a stable topological sort, for which Kahn's algorithm with
// insertion-order tie-breaking is the simpler and equally correct choice.
func (e *Engine) topoOrderLocked() (order []string, cyclic bool) {
	idx := make(map[string]int, len(e.insertionOrder))
	for i, n := range e.insertionOrder {
		idx[n] = i
	}
	indegree := make(map[string]int, len(e.insertionOrder))
	for _, n := range e.insertionOrder {
		indegree[n] = 0
	}
	for n, ds := range e.deps {
		if _, ok := idx[n]; !ok {
			continue
		}
		indegree[n] = len(ds)
	}

	remaining := make(map[string]bool, len(e.insertionOrder))
	for _, n := range e.insertionOrder {
		remaining[n] = true
	}

	for len(remaining) > 0 {
		var next string
		found := false
		best := -1
		for n := range remaining {
			if indegree[n] == 0 && (!found || idx[n] < best) {
				next, best, found = n, idx[n], true
			}
		}
		if !found {
			return order, true
		}
		order = append(order, next)
		delete(remaining, next)
		for n, ds := range e.deps {
			if ds[next] && remaining[n] {
				indegree[n]--
			}
		}
	}
	return order, false
}

// nextExecutableTarget returns the first Pending, ready, astronomically
// in-window target with a free concurrency slot, or nil.
func (e *Engine) nextExecutableTarget() *target.Target {
	e.mu.Lock()
	defer e.mu.Unlock()

	maxConcurrent := e.maxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = 1
	}
	if int(e.inProgress.Load()) >= maxConcurrent {
		return nil
	}

	for _, name := range e.order {
		t, ok := e.byName[name]
		if !ok || t.Status() != target.Pending || !e.ready[name] {
			continue
		}
		if !e.passesAstroWindow(t) {
			continue
		}
		return t
	}
	return nil
}

func (e *Engine) passesAstroWindow(t *target.Target) bool {
	ctx := t.AstroContext()
	if ctx.WindowStart.IsZero() && ctx.WindowEnd.IsZero() {
		return true // non-astronomical target: no window gating
	}
	now := time.Now()
	if now.Before(ctx.WindowStart) || now.After(ctx.WindowEnd) {
		return false
	}
	return ctx.CurrentAltDeg >= e.minAltitudeDeg
}

// Start launches the scheduling loop on its own goroutine, returning
// immediately. The loop repeatedly calls nextExecutableTarget, executes the
// chosen Target, applies the configured recovery strategy on failure, and
// sleeps briefly when nothing is executable.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return
	}
	e.state = Running
	e.stats.startedAt = time.Now()
	e.cancel.Store(false)
	e.loopDone = make(chan struct{})
	e.mu.Unlock()

	go e.loop()
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	var wg sync.WaitGroup
	started := e.stats.startedAt

	for {
		if e.cancel.Load() {
			e.setState(Stopping)
		}
		if e.State() == Stopping {
			break
		}
		if e.State() == Paused {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		e.mu.Lock()
		timeout := e.globalTimeout
		e.mu.Unlock()
		if timeout > 0 && time.Since(started) > timeout {
			logger.Engine().Warn().Msg("global timeout elapsed; refusing to start further targets")
			e.timedOut.Store(true)
			if int(e.inProgress.Load()) == 0 {
				break
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t := e.nextExecutableTarget()
		if t == nil {
			if e.allTerminal() {
				break
			}
			time.Sleep(20 * time.Millisecond)
			continue
		}

		e.inProgress.Add(1)
		wg.Add(1)
		go func(t *target.Target) {
			defer wg.Done()
			defer e.inProgress.Add(-1)
			e.runTarget(t)
		}(t)
	}
	wg.Wait()
	e.setState(Stopped)
}

func (e *Engine) allTerminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range e.order {
		t := e.byName[name]
		switch t.Status() {
		case target.Pending, target.InProgress:
			return false
		}
	}
	return true
}

func (e *Engine) runTarget(t *target.Target) {
	start := time.Now()
	status := t.Execute(e.validate)
	e.stats.record(status != target.Failed, time.Since(start))

	e.mu.Lock()
	e.recomputeReadyLocked()
	e.mu.Unlock()

	if status == target.Failed {
		e.applyRecovery(t)
	}
}

func (e *Engine) applyRecovery(t *target.Target) {
	e.mu.Lock()
	strategy := e.recoveryStrategy
	alt, hasAlt := e.alternatives[t.Name]
	e.mu.Unlock()

	switch strategy {
	case Stop:
		e.setState(Stopping)
	case Skip:
		t.SetStatus(target.Skipped)
	case Retry:
		e.mu.Lock()
		e.retryCount[t.Name]++
		attempts := e.retryCount[t.Name]
		e.mu.Unlock()
		if attempts <= t.MaxRetries {
			t.SetStatus(target.Pending)
		} else {
			t.SetStatus(target.Skipped)
		}
	case Alternative:
		t.SetStatus(target.Skipped)
		if hasAlt {
			e.mu.Lock()
			alt.Priority = t.Priority
			e.byName[alt.Name] = alt
			if !contains(e.order, alt.Name) {
				e.order = append(e.order, alt.Name)
				e.insertionOrder = append(e.insertionOrder, alt.Name)
			}
			e.ready[alt.Name] = true
			e.mu.Unlock()
		}
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Pause halts the scheduling loop between Targets; the currently executing
// Target is not interrupted.
func (e *Engine) Pause() {
	e.setState(Paused)
}

// Resume returns a Paused engine to Running.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state == Paused {
		e.state = Running
	}
	e.mu.Unlock()
}

// Stop sets an atomic cancellation flag and blocks until the engine loop
// exits; the current Target runs to its natural conclusion.
func (e *Engine) Stop() {
	e.cancel.Store(true)
	e.mu.Lock()
	done := e.loopDone
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stats returns the engine's execution statistics.
func (e *Engine) Stats() *Stats { return &e.stats }
