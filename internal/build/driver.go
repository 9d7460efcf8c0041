package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"forgemind/internal/ace"
	"forgemind/internal/handoff"
	"forgemind/internal/hooks"
	"forgemind/internal/logging"
	"forgemind/internal/memory"
	"forgemind/internal/playbook"
	"forgemind/internal/prompt"
	"forgemind/internal/telemetry"
	"forgemind/internal/types"
)

const (
	defaultConcurrency = 4
	defaultTaskTimeout = 5 * time.Minute
	defaultMaxRetries  = 2
	backoffBase        = 500 * time.Millisecond
)

// Driver orchestrates one build: it walks the PRD phase by phase, runs
// independent tasks in bounded batches, fires lifecycle hooks, feeds the
// handoff bus, and closes the ACE learning loop after each task.
type Driver struct {
	executor  types.Executor
	registry  *hooks.Registry
	bus       *handoff.Bus
	assembler *prompt.Assembler
	playbooks *playbook.Store
	reflector *ace.Reflector
	curator   *ace.Curator
	memory    *memory.Manager

	events types.EventStore
	git    types.GitWorkflow
	remote types.RemoteBuildSync

	concurrency int
	taskTimeout time.Duration
	maxRetries  int
	outputDir   string

	sleep func(ctx context.Context, d time.Duration)

	mu        sync.Mutex // guards PRD task mutation during a build
	aceScores []float64  // gate scores of completed tasks, current build
}

// DriverOption configures optional collaborators.
type DriverOption func(*Driver)

// WithRegistry sets the hook registry. Defaults to hooks.Default().
func WithRegistry(r *hooks.Registry) DriverOption {
	return func(d *Driver) { d.registry = r }
}

// WithHandoffBus sets the handoff context bus.
func WithHandoffBus(b *handoff.Bus) DriverOption {
	return func(d *Driver) { d.bus = b }
}

// WithAssembler sets the prompt assembler. Without one, tasks are executed
// against their raw description.
func WithAssembler(a *prompt.Assembler) DriverOption {
	return func(d *Driver) { d.assembler = a }
}

// WithACE wires the reflect/curate learning loop against the given
// playbook store.
func WithACE(store *playbook.Store, r *ace.Reflector, c *ace.Curator) DriverOption {
	return func(d *Driver) {
		d.playbooks = store
		d.reflector = r
		d.curator = c
	}
}

// WithMemory makes the driver record an episodic fragment for every task
// outcome, so later prompts can surface what happened.
func WithMemory(m *memory.Manager) DriverOption {
	return func(d *Driver) { d.memory = m }
}

// WithEventStore enables build lifecycle event emission.
func WithEventStore(es types.EventStore) DriverOption {
	return func(d *Driver) { d.events = es }
}

// WithGit enables the git workflow collaborator.
func WithGit(g types.GitWorkflow) DriverOption {
	return func(d *Driver) { d.git = g }
}

// WithRemoteSync enables best-effort remote build mirroring.
func WithRemoteSync(r types.RemoteBuildSync) DriverOption {
	return func(d *Driver) { d.remote = r }
}

// WithConcurrency caps the number of tasks running in one batch.
func WithConcurrency(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithTaskTimeout sets the per-task executor budget.
func WithTaskTimeout(t time.Duration) DriverOption {
	return func(d *Driver) {
		if t > 0 {
			d.taskTimeout = t
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is re-attempted.
func WithMaxRetries(n int) DriverOption {
	return func(d *Driver) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

// WithOutputDir makes the driver write each completed task's output to
// <dir>/<taskID>.md and store the path as the task's artifact reference.
// Without it, the raw output text is stored on the task directly.
func WithOutputDir(dir string) DriverOption {
	return func(d *Driver) { d.outputDir = dir }
}

// withSleep overrides the retry backoff sleeper. Test seam.
func withSleep(fn func(ctx context.Context, d time.Duration)) DriverOption {
	return func(d *Driver) { d.sleep = fn }
}

// NewDriver creates a Driver around the given executor.
func NewDriver(executor types.Executor, opts ...DriverOption) *Driver {
	d := &Driver{
		executor:    executor,
		registry:    hooks.Default(),
		concurrency: defaultConcurrency,
		taskTimeout: defaultTaskTimeout,
		maxRetries:  defaultMaxRetries,
		sleep: func(ctx context.Context, dur time.Duration) {
			timer := time.NewTimer(dur)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StartBuild runs the PRD to completion (or cancellation) and returns the
// aggregate result. The PRD is mutated in place: task statuses, attempts,
// and outputs reflect what happened. Every invocation gets a fresh build id.
func (d *Driver) StartBuild(ctx context.Context, prd *types.PRD, options map[string]any) (*types.BuildResult, error) {
	if prd == nil {
		return nil, types.ContractViolationf("StartBuild requires a PRD")
	}
	if err := prd.Validate(); err != nil {
		return nil, err
	}

	buildID := "build-" + uuid.NewString()
	start := time.Now()

	d.mu.Lock()
	d.aceScores = nil
	d.mu.Unlock()

	logging.Build("Build %s starting: prd=%s tasks=%d concurrency=%d",
		buildID, prd.Meta.Name, len(prd.Tasks), d.concurrency)

	buildCtx := types.BuildContext{
		BuildID:   buildID,
		PRDID:     prd.Meta.Name,
		PRDName:   prd.Meta.Name,
		StartedAt: start.UTC().Format(time.RFC3339),
		Options:   options,
	}
	d.registry.ExecutePhase(ctx, hooks.PhaseBeforeBuild, buildCtx)

	if d.events != nil {
		d.events.Emit("build_start", map[string]any{
			"build_id": buildID,
			"prd_id":   prd.Meta.Name,
			"tasks":    len(prd.Tasks),
		})
	}
	if d.git != nil {
		if branch, err := d.git.InitWorkflow(prd.Meta.Name); err != nil {
			logging.BuildWarn("Git workflow init failed: %v", err)
		} else {
			logging.BuildDebug("Git workflow on branch %s", branch)
		}
	}
	if d.remote != nil {
		if err := d.remote.StartBuild(buildID, prd.Meta.Name); err != nil {
			logging.BuildWarn("Remote sync startBuild failed: %v", err)
		}
	}

	d.runPhases(ctx, buildID, prd)

	return d.completeBuild(ctx, buildID, prd, start), nil
}

// runPhases walks the phase groups in order. Each phase is a barrier: the
// next phase starts only when every task in the current one is terminal.
func (d *Driver) runPhases(ctx context.Context, buildID string, prd *types.PRD) {
	for _, group := range PhaseGroups(prd) {
		if ctx.Err() != nil {
			d.markPendingCancelled(prd)
			return
		}
		logging.Build("Phase %d: %d tasks", group.Phase, len(group.Tasks))
		d.runPhase(ctx, buildID, prd, group)

		if ctx.Err() != nil {
			d.markPendingCancelled(prd)
			return
		}
		if d.git != nil {
			msg := fmt.Sprintf("phase %d complete (%s)", group.Phase, prd.Meta.Name)
			if err := d.git.CommitPhase(group.Phase, msg); err != nil {
				logging.BuildWarn("Git phase commit failed: %v", err)
			}
		}
	}
}

// runPhase drains one phase group: ready tasks run in batches capped by the
// concurrency limit, then readiness is recomputed until nothing is left.
func (d *Driver) runPhase(ctx context.Context, buildID string, prd *types.PRD, group PhaseGroup) {
	for {
		if ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		for {
			blocked := BlockedByFailure(prd, group)
			if len(blocked) == 0 {
				break
			}
			for _, id := range blocked {
				prd.TaskByID(id).Status = types.TaskBlocked
				logging.BuildWarn("Task %s blocked: dependency did not complete", id)
				telemetry.TasksCompleted.WithLabelValues(string(types.TaskBlocked)).Inc()
			}
		}
		ready := ReadyTasks(prd, group)
		for _, id := range ready {
			prd.TaskByID(id).Status = types.TaskReady
		}
		d.mu.Unlock()

		if len(ready) == 0 {
			return
		}

		for _, batch := range Batches(ready, d.concurrency) {
			if ctx.Err() != nil {
				d.mu.Lock()
				for _, id := range batch {
					if t := prd.TaskByID(id); t.Status == types.TaskReady {
						t.Status = types.TaskPending
					}
				}
				d.mu.Unlock()
				return
			}

			var g errgroup.Group
			for _, id := range batch {
				id := id
				g.Go(func() error {
					d.runTask(ctx, buildID, prd, group, id)
					return nil
				})
			}
			g.Wait()
		}
	}
}

// markPendingCancelled leaves never-started tasks pending after cancellation.
func (d *Driver) markPendingCancelled(prd *types.PRD) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range prd.Tasks {
		if prd.Tasks[i].Status == types.TaskReady {
			prd.Tasks[i].Status = types.TaskPending
		}
	}
}

// runTask drives one task through its full lifecycle, including retries and
// the post-completion learning and handoff steps.
func (d *Driver) runTask(ctx context.Context, buildID string, prd *types.PRD, group PhaseGroup, taskID string) {
	d.mu.Lock()
	task := prd.TaskByID(taskID)
	task.Status = types.TaskRunning
	d.mu.Unlock()

	logging.Build("Task %s starting: agent=%s attempt=%d", task.ID, task.Agent, task.Attempts+1)

	d.registry.ExecutePhase(ctx, hooks.PhaseBeforeTask, types.TaskContext{
		TaskID:    task.ID,
		AgentName: task.Agent,
	})
	if d.remote != nil {
		if err := d.remote.LogTask(task.ID, types.TaskRunning); err != nil {
			logging.BuildWarn("Remote sync logTask failed: %v", err)
		}
	}

	for {
		result, err := d.executeOnce(ctx, task, prd)

		if ctx.Err() != nil {
			d.finishCancelled(prd, task)
			return
		}

		if err == nil && result != nil && result.Success {
			d.finishSuccess(ctx, buildID, prd, group, task, result)
			return
		}

		d.mu.Lock()
		task.Attempts++
		attempts := task.Attempts
		d.mu.Unlock()

		retryable := false
		var failure string
		switch {
		case err != nil:
			retryable = types.IsRetryable(err)
			failure = err.Error()
		case result != nil:
			retryable = result.Retryable
			failure = result.Error
		}

		if retryable && attempts <= d.maxRetries {
			wait := backoffBase << (attempts - 1)
			logging.BuildWarn("Task %s attempt %d failed (%s), retrying in %s",
				task.ID, attempts, failure, wait)
			telemetry.TaskRetries.Inc()
			d.sleep(ctx, wait)
			continue
		}

		d.finishFailure(ctx, buildID, prd, task, result, failure)
		return
	}
}

// executeOnce assembles the prompt and runs the executor under the per-task
// budget. A budget overrun is surfaced as a retryable timeout error.
func (d *Driver) executeOnce(ctx context.Context, task *types.Task, prd *types.PRD) (*types.ExecutorResult, error) {
	timer := logging.StartTimer(logging.CategoryBuild, "execute "+task.ID)
	defer timer.StopWithThreshold(d.taskTimeout / 2)

	promptText := task.Description
	if d.assembler != nil {
		assembled, err := d.assembler.Assemble(ctx, task, prd)
		if err != nil {
			logging.BuildWarn("Prompt assembly failed for %s, using raw description: %v", task.ID, err)
		} else {
			promptText = assembled
		}
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()

	result, err := d.executor.ExecuteTask(taskCtx, task, promptText)
	if err != nil && taskCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, types.ErrTimeout)
	}
	return result, err
}

// finishCancelled marks an in-flight task as timed out after cancellation.
func (d *Driver) finishCancelled(prd *types.PRD, task *types.Task) {
	d.mu.Lock()
	task.Status = types.TaskTimeout
	d.mu.Unlock()
	logging.BuildWarn("Task %s cancelled mid-flight", task.ID)
	telemetry.TasksCompleted.WithLabelValues(string(types.TaskTimeout)).Inc()
}

func (d *Driver) finishSuccess(ctx context.Context, buildID string, prd *types.PRD, group PhaseGroup, task *types.Task, result *types.ExecutorResult) {
	artifact := result.Output
	if artifact != "" && d.outputDir != "" {
		if path, err := d.writeArtifact(task.ID, result.Output); err != nil {
			logging.BuildWarn("Could not persist output for %s: %v", task.ID, err)
		} else {
			artifact = path
		}
	}

	d.mu.Lock()
	task.Status = types.TaskDone
	if artifact != "" {
		task.Output = artifact
	}
	if result.GateScore > 0 {
		d.aceScores = append(d.aceScores, result.GateScore)
	}
	d.mu.Unlock()

	logging.Build("Task %s done: agent=%s duration=%dms", task.ID, task.Agent, result.DurationMs)
	telemetry.TasksCompleted.WithLabelValues(string(types.TaskDone)).Inc()

	// Close the playbook success loop: the rules injected into this prompt
	// earned a success, and the agent's aggregate rate refreshes.
	if d.playbooks != nil {
		var injected []string
		if d.assembler != nil {
			injected = d.assembler.InjectedRules(task.ID)
		}
		d.playbooks.RecordSuccess(task.Agent, injected)
		d.playbooks.RecordTaskApplied(task.Agent)
	}

	relevance := result.GateScore
	if relevance <= 0 {
		relevance = 0.5
	}
	d.rememberOutcome(ctx, buildID, prd, task,
		fmt.Sprintf("completed in %dms", result.DurationMs), relevance)

	applied := d.learn(ctx, task, result)

	d.registry.ExecutePhase(ctx, hooks.PhaseAfterTask, types.TaskResult{
		TaskID:     task.ID,
		AgentName:  task.Agent,
		Success:    true,
		Output:     result.Output,
		DurationMs: result.DurationMs,
		AceScore:   result.GateScore,
	})

	if d.remote != nil {
		if err := d.remote.LogTask(task.ID, types.TaskDone); err != nil {
			logging.BuildWarn("Remote sync logTask failed: %v", err)
		}
		if err := d.remote.LogExecution(task.ID, result); err != nil {
			logging.BuildWarn("Remote sync logExecution failed: %v", err)
		}
		if applied > 0 {
			if err := d.remote.LogLearning(task.Agent, applied); err != nil {
				logging.BuildWarn("Remote sync logLearning failed: %v", err)
			}
		}
	}
	if d.events != nil {
		d.events.Emit("task_complete", map[string]any{
			"build_id":    buildID,
			"task_id":     task.ID,
			"agent":       task.Agent,
			"duration_ms": result.DurationMs,
		})
	}

	d.maybeHandoff(ctx, buildID, prd, group, task, result)
}

func (d *Driver) finishFailure(ctx context.Context, buildID string, prd *types.PRD, task *types.Task, result *types.ExecutorResult, failure string) {
	d.mu.Lock()
	task.Status = types.TaskFailed
	d.mu.Unlock()

	logging.BuildError("Task %s failed after %d attempts: %s", task.ID, task.Attempts, failure)
	telemetry.TasksCompleted.WithLabelValues(string(types.TaskFailed)).Inc()

	d.rememberOutcome(ctx, buildID, prd, task,
		fmt.Sprintf("failed after %d attempts: %s", task.Attempts, failure), 0.8)

	d.registry.ExecutePhase(ctx, hooks.PhaseTaskError, types.ErrorContext{
		TaskID: task.ID,
		Error:  failure,
	})

	if d.remote != nil {
		if err := d.remote.LogTask(task.ID, types.TaskFailed); err != nil {
			logging.BuildWarn("Remote sync logTask failed: %v", err)
		}
		if result != nil {
			if err := d.remote.LogExecution(task.ID, result); err != nil {
				logging.BuildWarn("Remote sync logExecution failed: %v", err)
			}
		}
	}
	if d.events != nil {
		d.events.Emit("task_failed", map[string]any{
			"build_id": buildID,
			"task_id":  task.ID,
			"error":    failure,
		})
	}
}

// writeArtifact persists one task's output under the configured directory.
func (d *Driver) writeArtifact(taskID, output string) (string, error) {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(d.outputDir, taskID+".md")
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// rememberOutcome writes an episodic fragment into hindsight memory. Memory
// faults never affect the task outcome.
func (d *Driver) rememberOutcome(ctx context.Context, buildID string, prd *types.PRD, task *types.Task, outcome string, relevance float64) {
	if d.memory == nil {
		return
	}
	ns := memory.NamespaceFor(prd.Meta.Name, task.Agent)
	content := fmt.Sprintf("Task %s (%s) %s", task.ID, task.Title, outcome)
	if _, err := d.memory.Remember(ctx, ns, "episode", content, []string{buildID}, relevance); err != nil {
		logging.BuildWarn("Memory write failed for %s: %v", task.ID, err)
	}
}

// learn runs the reflect/curate cycle for a completed task and returns the
// number of deltas applied. Learning faults never affect the task outcome.
func (d *Driver) learn(ctx context.Context, task *types.Task, result *types.ExecutorResult) int {
	if d.reflector == nil || d.curator == nil {
		return 0
	}

	var pb *playbook.Playbook
	if d.playbooks != nil {
		pb = d.playbooks.GetPlaybook(task.Agent)
	}
	deltas := d.reflector.ReflectOnOutcome(ctx, task, result, pb)
	if len(deltas) == 0 {
		return 0
	}
	curation, err := d.curator.Curate(ctx, deltas, task.Agent)
	if err != nil {
		logging.BuildWarn("Curation failed for agent %s: %v", task.Agent, err)
		return 0
	}
	logging.BuildDebug("Learning cycle for %s: %d applied, %d rejected",
		task.Agent, len(curation.Applied), len(curation.Rejected))
	return len(curation.Applied)
}

// maybeHandoff fires onHandoff when the next ready task belongs to a
// different agent. The bus payload is always built before the hook runs.
func (d *Driver) maybeHandoff(ctx context.Context, buildID string, prd *types.PRD, group PhaseGroup, task *types.Task, result *types.ExecutorResult) {
	next := d.nextAgent(prd, group)
	if next == "" || next == task.Agent {
		return
	}

	var payload *types.HandoffPayload
	if d.bus != nil {
		payload = d.bus.BuildPayload(handoff.PayloadParams{
			FromAgent:      task.Agent,
			ToAgent:        next,
			TaskID:         task.ID,
			BuildID:        buildID,
			TaskOutput:     result.Output,
			TaskDurationMs: result.DurationMs,
			AceScore:       result.GateScore,
		})
	}

	logging.Build("Handoff: %s -> %s after task %s", task.Agent, next, task.ID)
	d.registry.ExecutePhase(ctx, hooks.PhaseHandoff, types.HandoffContext{
		FromAgent: task.Agent,
		ToAgent:   next,
		TaskID:    task.ID,
		Payload:   payload,
	})

	// Rehydrate module state on the receiving side.
	if d.bus != nil && payload != nil {
		if res := d.bus.Receive(payload); len(res.Errors) > 0 {
			logging.BuildWarn("Handoff restore for %s had %d faults", next, len(res.Errors))
		}
	}
}

// nextAgent returns the agent of the first task that is ready to run next,
// looking at the current phase first and then later phases.
func (d *Driver) nextAgent(prd *types.PRD, group PhaseGroup) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ready := ReadyTasks(prd, group); len(ready) > 0 {
		return prd.TaskByID(ready[0]).Agent
	}
	for _, g := range PhaseGroups(prd) {
		if g.Phase <= group.Phase {
			continue
		}
		if ready := ReadyTasks(prd, g); len(ready) > 0 {
			return prd.TaskByID(ready[0]).Agent
		}
	}
	return ""
}

// completeBuild aggregates the outcome, fires onBuildComplete, and notifies
// the optional collaborators. Git finalization and a successful remote
// completion only happen when every task is done.
func (d *Driver) completeBuild(ctx context.Context, buildID string, prd *types.PRD, start time.Time) *types.BuildResult {
	d.mu.Lock()
	total := len(prd.Tasks)
	var done, failed, blocked, timedOut int
	for i := range prd.Tasks {
		switch prd.Tasks[i].Status {
		case types.TaskDone:
			done++
		case types.TaskFailed:
			failed++
		case types.TaskBlocked:
			blocked++
		case types.TaskTimeout:
			timedOut++
		}
	}
	var aceAvg float64
	if len(d.aceScores) > 0 {
		var sum float64
		for _, s := range d.aceScores {
			sum += s
		}
		aceAvg = sum / float64(len(d.aceScores))
	}
	d.mu.Unlock()

	result := &types.BuildResult{
		BuildID:         buildID,
		PRDID:           prd.Meta.Name,
		TotalTasks:      total,
		SuccessfulTasks: done,
		FailedTasks:     failed,
		BlockedTasks:    blocked,
		TimedOutTasks:   timedOut,
		TotalDurationMs: time.Since(start).Milliseconds(),
		AverageAceScore: aceAvg,
	}

	allDone := done == total
	logging.Build("Build %s complete: %d/%d done, %d failed, %d blocked, %d timed out, %dms",
		buildID, done, total, failed, blocked, timedOut, result.TotalDurationMs)

	d.registry.ExecutePhase(context.WithoutCancel(ctx), hooks.PhaseBuildComplete, *result)

	if d.remote != nil {
		if err := d.remote.CompleteBuild(allDone); err != nil {
			logging.BuildWarn("Remote sync completeBuild failed: %v", err)
		}
	}
	if d.git != nil && allDone {
		if err := d.git.Finalize(); err != nil {
			logging.BuildWarn("Git finalize failed: %v", err)
		}
	}
	if d.events != nil {
		d.events.Emit("session_end", map[string]any{
			"build_id":         buildID,
			"total_tasks":      total,
			"successful_tasks": done,
			"failed_tasks":     failed,
			"blocked_tasks":    blocked,
			"timed_out_tasks":  timedOut,
		})
	}

	return result
}
