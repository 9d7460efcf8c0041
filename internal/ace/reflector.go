package ace

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"forgemind/internal/logging"
	"forgemind/internal/playbook"
	"forgemind/internal/types"
)

const (
	// minDeltaConfidence filters out low-conviction deltas before curation.
	minDeltaConfidence = 0.5
	// maxDeltasPerReflection caps how many deltas one outcome may yield.
	maxDeltasPerReflection = 5
)

const reflectSystemPrompt = `You analyze the outcome of a coding task and propose playbook changes.
Respond with a JSON array of delta objects. Each delta has:
  action      "add" | "update" | "remove"
  rule_id     existing rule id (update/remove only)
  content     rule text (add/update)
  type        "Strategy" | "Pattern" | "Mistake"
  confidence  0.0-1.0
  helpful_delta, harmful_delta  integer counter adjustments
  reason      short justification
Respond with the JSON array only, no prose.`

// Reflector extracts playbook deltas from task outcomes via an inexpensive
// LLM call.
type Reflector struct {
	llm types.LLMClient
}

// NewReflector creates a Reflector using the given client.
func NewReflector(llm types.LLMClient) *Reflector {
	return &Reflector{llm: llm}
}

// ReflectOnOutcome asks the LLM what the playbook should learn from one task
// outcome. Any failure degrades to an empty delta list, never an error: a
// broken reflection must not poison the build.
func (r *Reflector) ReflectOnOutcome(ctx context.Context, task *types.Task, outcome *types.ExecutorResult, pb *playbook.Playbook) []playbook.Delta {
	if r.llm == nil || task == nil || outcome == nil {
		return nil
	}

	prompt := r.composePrompt(task, outcome, pb)
	response, err := r.llm.CompleteWithSystem(ctx, reflectSystemPrompt, prompt)
	if err != nil {
		logging.ACEWarn("Reflect: LLM call failed for task %s: %v", task.ID, err)
		return nil
	}

	deltas := parseDeltas(response)
	if deltas == nil {
		logging.ACEWarn("Reflect: unparseable response for task %s, returning no deltas", task.ID)
		return nil
	}

	// Filter, sort by confidence descending, cap.
	filtered := deltas[:0]
	for _, d := range deltas {
		if d.Confidence >= minDeltaConfidence {
			filtered = append(filtered, d)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})
	if len(filtered) > maxDeltasPerReflection {
		filtered = filtered[:maxDeltasPerReflection]
	}

	logging.ACEDebug("Reflect: task=%s raw=%d kept=%d", task.ID, len(deltas), len(filtered))
	return filtered
}

func (r *Reflector) composePrompt(task *types.Task, outcome *types.ExecutorResult, pb *playbook.Playbook) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\nTitle: %s\nDescription: %s\n\n", task.Title, task.Description)
	fmt.Fprintf(&b, "## Outcome\nSuccess: %v\n", outcome.Success)
	if outcome.GateScore > 0 {
		fmt.Fprintf(&b, "Gate score: %.2f\n", outcome.GateScore)
	}
	if outcome.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", outcome.Error)
	}
	fmt.Fprintf(&b, "Output:\n%s\n\n", truncate(outcome.Output, 2000))

	b.WriteString("## Current playbook\n")
	if pb == nil || len(pb.Rules) == 0 {
		b.WriteString("(empty)\n")
	} else {
		fmt.Fprintf(&b, "Version %d, %d rules:\n", pb.Version, len(pb.Rules))
		for i := range pb.Rules {
			fmt.Fprintf(&b, "- [%s] (%s, confidence %.2f) %s\n",
				pb.Rules[i].ID, pb.Rules[i].Type, pb.Rules[i].Confidence, pb.Rules[i].Content)
		}
	}
	return b.String()
}

// parseDeltas tolerates fenced code blocks and mildly malformed JSON. Returns
// nil when nothing parseable remains.
func parseDeltas(response string) []playbook.Delta {
	text := unwrapFence(strings.TrimSpace(response))

	var deltas []playbook.Delta
	if err := json.Unmarshal([]byte(text), &deltas); err == nil {
		return deltas
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &deltas); err != nil {
		return nil
	}
	return deltas
}

// unwrapFence strips a surrounding ``` or ```json fence.
func unwrapFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
