// Package hooks implements the lifecycle hook pipeline: a priority-ordered,
// phase-keyed registry of module callbacks invoked at well-defined points in
// a build. Handler faults are isolated - a failing hook never aborts the
// phase or the build.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forgemind/internal/logging"
)

// Phase is the closed set of lifecycle points a hook can bind to.
type Phase int

const (
	PhaseBeforeBuild Phase = iota
	PhaseBeforeTask
	PhaseAfterTask
	PhaseTaskError
	PhaseHandoff
	PhaseBuildComplete
)

// AllPhases lists every phase in lifecycle order.
var AllPhases = []Phase{
	PhaseBeforeBuild,
	PhaseBeforeTask,
	PhaseAfterTask,
	PhaseTaskError,
	PhaseHandoff,
	PhaseBuildComplete,
}

// String returns the canonical phase name.
func (p Phase) String() string {
	switch p {
	case PhaseBeforeBuild:
		return "onBeforeBuild"
	case PhaseBeforeTask:
		return "onBeforeTask"
	case PhaseAfterTask:
		return "onAfterTask"
	case PhaseTaskError:
		return "onTaskError"
	case PhaseHandoff:
		return "onHandoff"
	case PhaseBuildComplete:
		return "onBuildComplete"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Handler is a module callback. The hookCtx argument is the phase-specific
// context shape (types.BuildContext, types.TaskContext, ...). Handlers
// observe state; they never mutate it.
type Handler func(ctx context.Context, hookCtx any) error

// Registration binds a handler to a phase with a module name and priority.
type Registration struct {
	Phase      Phase
	ModuleName string
	Priority   int // 1-200, ascending invocation order within a phase
	Handler    Handler
}

// Registry stores and invokes phase-keyed, priority-ordered hook handlers.
type Registry struct {
	mu             sync.RWMutex
	hooks          map[Phase][]Registration
	handlerTimeout time.Duration

	// observability
	faultCount int64
	onFault    func(module string, err error)
}

// NewRegistry creates an empty registry with the given per-handler budget.
// A non-positive timeout disables the per-handler deadline.
func NewRegistry(handlerTimeout time.Duration) *Registry {
	return &Registry{
		hooks:          make(map[Phase][]Registration),
		handlerTimeout: handlerTimeout,
	}
}

// defaultRegistry is the process-wide registry used when callers do not
// construct their own. Tests reset it via ResetDefault.
var (
	defaultRegistry   = NewRegistry(30 * time.Second)
	defaultRegistryMu sync.Mutex
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	return defaultRegistry
}

// ResetDefault replaces the process-wide registry with a fresh one.
// Test scaffolding only; production code builds explicit registries.
func ResetDefault() {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistry = NewRegistry(30 * time.Second)
}

// SetFaultObserver installs a callback invoked on every isolated handler
// fault. Used by telemetry to count hook faults.
func (r *Registry) SetFaultObserver(fn func(module string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFault = fn
}

// Register adds one registration. Handlers are held in ascending priority
// order per phase; equal priorities keep registration order.
func (r *Registry) Register(phase Phase, moduleName string, priority int, handler Handler) {
	if handler == nil {
		logging.HooksWarn("Register called with nil handler for module %s, ignored", moduleName)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := append(r.hooks[phase], Registration{
		Phase:      phase,
		ModuleName: moduleName,
		Priority:   priority,
		Handler:    handler,
	})
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].Priority < regs[j].Priority
	})
	r.hooks[phase] = regs

	logging.HooksDebug("Registered hook: module=%s phase=%s priority=%d (total for phase: %d)",
		moduleName, phase, priority, len(regs))
}

// ExecutePhase invokes every handler for the phase in ascending priority
// order, awaiting each in turn. A handler that errors, panics, or exceeds
// the per-handler budget is logged and skipped; the remaining handlers still
// run. ExecutePhase itself only fails on context cancellation.
func (r *Registry) ExecutePhase(ctx context.Context, phase Phase, hookCtx any) error {
	r.mu.RLock()
	regs := make([]Registration, len(r.hooks[phase]))
	copy(regs, r.hooks[phase])
	timeout := r.handlerTimeout
	r.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}

	logging.HooksDebug("Executing phase %s: %d handlers", phase, len(regs))

	for _, reg := range regs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.invokeOne(ctx, reg, hookCtx, timeout); err != nil {
			r.recordFault(reg.ModuleName, err)
			logging.HooksWarn("Hook fault isolated: module=%s phase=%s err=%v", reg.ModuleName, phase, err)
		}
	}

	return nil
}

// invokeOne runs a single handler with panic recovery and the per-handler
// deadline.
func (r *Registry) invokeOne(ctx context.Context, reg Registration, hookCtx any, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("handler panic: %v", rec)
			}
		}()
		done <- reg.Handler(ctx, hookCtx)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("handler %s exceeded budget: %w", reg.ModuleName, ctx.Err())
	}
}

func (r *Registry) recordFault(module string, err error) {
	r.mu.Lock()
	r.faultCount++
	fn := r.onFault
	r.mu.Unlock()
	if fn != nil {
		fn(module, err)
	}
}

// FaultCount returns the number of isolated handler faults so far.
func (r *Registry) FaultCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.faultCount
}

// GetRegisteredModules returns the deduplicated set of module names across
// all phases, sorted for determinism.
func (r *Registry) GetRegisteredModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]bool)
	for _, regs := range r.hooks {
		for _, reg := range regs {
			set[reg.ModuleName] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetHooksForPhase returns the registrations for a phase in invocation order.
func (r *Registry) GetHooksForPhase(phase Phase) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, len(r.hooks[phase]))
	copy(out, r.hooks[phase])
	return out
}

// Clear removes every registration. Wiring-time and test-teardown use only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = make(map[Phase][]Registration)
}
