package build

import (
	"context"
	"time"

	"forgemind/internal/logging"
	"forgemind/internal/types"
)

// LLMExecutor runs tasks by sending the assembled prompt to an LLM and
// treating the completion as the task's output artifact.
type LLMExecutor struct {
	llm types.LLMClient
}

// NewLLMExecutor wraps an LLM client as a task executor.
func NewLLMExecutor(llm types.LLMClient) *LLMExecutor {
	return &LLMExecutor{llm: llm}
}

// ExecuteTask sends the prompt and reports the completion. Provider errors
// surface as retryable failures; the scheduler decides whether to retry.
func (e *LLMExecutor) ExecuteTask(ctx context.Context, task *types.Task, prompt string) (*types.ExecutorResult, error) {
	start := time.Now()
	output, err := e.llm.Complete(ctx, prompt)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		logging.BuildWarn("LLM execution failed for task %s: %v", task.ID, err)
		return &types.ExecutorResult{
			Success:    false,
			DurationMs: elapsed,
			Error:      err.Error(),
			Retryable:  types.IsRetryable(err),
		}, nil
	}

	return &types.ExecutorResult{
		Success:    true,
		Output:     output,
		DurationMs: elapsed,
	}, nil
}
