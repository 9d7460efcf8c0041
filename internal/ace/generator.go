// Package ace implements the Generate -> Reflect -> Curate learning cycle.
// Generate injects a compact playbook block into prompts under a token
// budget, Reflect extracts candidate deltas from task outcomes via the LLM,
// and Curate merges them into the playbook behind score/dedup/cap gates.
package ace

import (
	"fmt"
	"strings"

	"forgemind/internal/logging"
	"forgemind/internal/playbook"
	"forgemind/internal/types"
)

// maxRulesPerContext caps how many active rules Generate considers.
const maxRulesPerContext = 10

// emptyContextBlock is the fallback when even a bare block exceeds budget.
const emptyContextBlock = `<playbook_context rules_applied="0"></playbook_context>`

// GenerateResult is what analyzeTask hands to prompt assembly.
type GenerateResult struct {
	PlaybookContext string
	AppliedRuleIDs  []string
}

// Generator builds the playbook context block for a task prompt.
type Generator struct {
	store *playbook.Store
}

// NewGenerator creates a Generator backed by the given playbook store.
func NewGenerator(store *playbook.Store) *Generator {
	return &Generator{store: store}
}

// AnalyzeTask pulls the agent's most relevant rules and renders them as a
// playbook_context block fitting within tokenBudget. Tokens are estimated as
// ceil(chars/4); rules are dropped from the tail until the block fits. Every
// rule that makes the cut is recorded via IncrementApplied.
func (g *Generator) AnalyzeTask(task *types.Task, agent string, tokenBudget int) GenerateResult {
	taskContext := task.Title + " " + task.Description
	rules := g.store.GetActiveRules(agent, taskContext, maxRulesPerContext)
	version := g.store.GetPlaybook(agent).Version

	for {
		block := formatContextBlock(agent, version, rules)
		if estimateTokens(block) <= tokenBudget {
			ids := make([]string, len(rules))
			for i := range rules {
				ids[i] = rules[i].ID
			}
			if len(ids) > 0 {
				g.store.IncrementApplied(agent, ids)
			}
			logging.ACEDebug("Generate: agent=%s rules=%d tokens~%d budget=%d",
				agent, len(rules), estimateTokens(block), tokenBudget)
			return GenerateResult{PlaybookContext: block, AppliedRuleIDs: ids}
		}
		if len(rules) == 0 {
			break
		}
		rules = rules[:len(rules)-1]
	}

	logging.ACEDebug("Generate: budget %d too small for any block, emitting empty", tokenBudget)
	return GenerateResult{PlaybookContext: emptyContextBlock}
}

// estimateTokens approximates token count as ceil(chars/4).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func formatContextBlock(agent string, version int, rules []playbook.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<playbook_context agent=%q version=\"%d\" rules_applied=\"%d\">\n",
		agent, version, len(rules))
	for i := range rules {
		fmt.Fprintf(&b, "- [%s, confidence: %.2f] %s\n", rules[i].Type, rules[i].Confidence, rules[i].Content)
	}
	b.WriteString("</playbook_context>")
	return b.String()
}
