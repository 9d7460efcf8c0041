package types

import (
	"context"
)

// LLMClient defines the interface for LLM interactions. The core treats the
// provider as opaque: prompt in, text out.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Executor runs one task against the LLM/tool layer and reports the outcome.
type Executor interface {
	ExecuteTask(ctx context.Context, task *Task, prompt string) (*ExecutorResult, error)
}

// RepoContextProvider supplies a repository context summary for a query.
// Returns empty string when nothing relevant is available.
type RepoContextProvider interface {
	RepoContext(ctx context.Context, query string) (string, error)
}

// MessageBus surfaces inter-agent communication for prompt assembly.
type MessageBus interface {
	GetMessagesFor(agent string) []Message
}

// TasteVaultNode is the payload injected into the Taste Vault for a
// globally promoted rule.
type TasteVaultNode struct {
	Agent        string  `json:"agent"`
	Content      string  `json:"content"`
	Type         string  `json:"type"`
	Confidence   float64 `json:"confidence"`
	HelpfulCount int     `json:"helpful_count"`
}

// TasteVaultSummary describes the vault's aggregate state.
type TasteVaultSummary struct {
	NodeCount     int     `json:"node_count"`
	EdgeCount     int     `json:"edge_count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// TasteVault is the cross-agent knowledge graph collaborator.
type TasteVault interface {
	AddNode(ctx context.Context, node TasteVaultNode) (string, error)
	Summary(ctx context.Context) (TasteVaultSummary, error)
}

// EventStore records build lifecycle events.
type EventStore interface {
	Emit(event string, payload map[string]any)
	SessionID() string
}

// GitWorkflow is the git-side collaborator for a build.
type GitWorkflow interface {
	InitWorkflow(name string) (branch string, err error)
	CommitPhase(phase int, message string) error
	Finalize() error
}

// RemoteBuildSync mirrors build progress to a remote service. All methods
// are best-effort; failures never abort a build.
type RemoteBuildSync interface {
	StartBuild(buildID, prdName string) error
	LogTask(taskID string, status TaskStatus) error
	LogExecution(taskID string, result *ExecutorResult) error
	LogLearning(agent string, applied int) error
	CompleteBuild(success bool) error
}
