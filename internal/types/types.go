// Package types holds the shared data model for forgemind: PRD documents,
// tasks, hook context shapes, and the interfaces the core consumes from
// external collaborators (LLM, repo map, message bus, event store, sync).
package types

import (
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskReady   TaskStatus = "ready"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskBlocked TaskStatus = "blocked"
	TaskTimeout TaskStatus = "timeout"
)

// Task is an atomic unit of work within a PRD.
type Task struct {
	ID           string     `json:"id" yaml:"id"`
	Title        string     `json:"title" yaml:"title"`
	Description  string     `json:"description" yaml:"description"`
	Agent        string     `json:"agent" yaml:"agent"`
	Phase        int        `json:"phase" yaml:"phase"`
	Dependencies []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Status       TaskStatus `json:"status" yaml:"status"`
	Attempts     int        `json:"attempts" yaml:"attempts"`
	Output       string     `json:"output,omitempty" yaml:"output,omitempty"` // artifact reference (path)
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
}

// PRDMeta carries document-level metadata.
type PRDMeta struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
}

// PRD is the declarative task list that drives one build.
type PRD struct {
	Meta   PRDMeta `json:"meta" yaml:"meta"`
	Status string  `json:"status,omitempty" yaml:"status,omitempty"`
	Tasks  []Task  `json:"tasks" yaml:"tasks"`
}

// TaskByID returns the task with the given id, or nil.
func (p *PRD) TaskByID(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// ExecutorResult is what the external task executor returns.
type ExecutorResult struct {
	Success    bool    `json:"success"`
	Output     string  `json:"output"`
	GateScore  float64 `json:"gate_score,omitempty"`
	DurationMs int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	// Retryable marks transient failures the scheduler may retry.
	Retryable bool `json:"retryable,omitempty"`
}

// Message is a unit of inter-agent communication surfaced by the bus.
type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// HOOK CONTEXT SHAPES (stable)
// =============================================================================

// BuildContext is passed to onBeforeBuild hooks.
type BuildContext struct {
	BuildID   string         `json:"build_id"`
	PRDID     string         `json:"prd_id"`
	PRDName   string         `json:"prd_name"`
	StartedAt string         `json:"started_at"` // ISO-8601
	Options   map[string]any `json:"options,omitempty"`
}

// TaskContext is passed to onBeforeTask hooks.
type TaskContext struct {
	TaskID    string `json:"task_id"`
	AgentName string `json:"agent_name"`
}

// TaskResult is passed to onAfterTask hooks.
type TaskResult struct {
	TaskID     string  `json:"task_id"`
	AgentName  string  `json:"agent_name"`
	Success    bool    `json:"success"`
	Output     string  `json:"output"`
	DurationMs int64   `json:"duration_ms"`
	AceScore   float64 `json:"ace_score,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ErrorContext is passed to onTaskError hooks.
type ErrorContext struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// HandoffContext is passed to onHandoff hooks. Payload is the collected
// module-state envelope built by the handoff bus.
type HandoffContext struct {
	FromAgent string          `json:"from_agent"`
	ToAgent   string          `json:"to_agent"`
	TaskID    string          `json:"task_id"`
	Payload   *HandoffPayload `json:"payload,omitempty"`
}

// BuildResult is passed to onBuildComplete hooks.
type BuildResult struct {
	BuildID         string  `json:"build_id"`
	PRDID           string  `json:"prd_id"`
	TotalTasks      int     `json:"total_tasks"`
	SuccessfulTasks int     `json:"successful_tasks"`
	FailedTasks     int     `json:"failed_tasks"`
	BlockedTasks    int     `json:"blocked_tasks"`
	TimedOutTasks   int     `json:"timed_out_tasks"`
	TotalDurationMs int64   `json:"total_duration_ms"`
	AverageAceScore float64 `json:"average_ace_score"`
}

// HandoffPayload is the envelope carried across an agent-to-agent handoff.
// ModuleState slots are keyed by the collector that populated them.
type HandoffPayload struct {
	FromAgent      string         `json:"from_agent"`
	ToAgent        string         `json:"to_agent"`
	TaskID         string         `json:"task_id"`
	BuildID        string         `json:"build_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TaskOutput     string         `json:"task_output,omitempty"`
	TaskDurationMs int64          `json:"task_duration_ms,omitempty"`
	AceScore       float64        `json:"ace_score,omitempty"`
	ModuleState    map[string]any `json:"module_state,omitempty"`
}
