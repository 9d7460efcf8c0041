package prompt

import (
	"fmt"
	"strings"
)

// ToolSpec describes one callable tool for agentic prompts.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters,omitempty"`
}

// defaultTemplate is used for agents without a registered template.
const defaultTemplate = `You are %s, a specialist software agent. Complete the assigned task precisely and report what you produced.`

// builtinTemplates seed the well-known agent roles.
var builtinTemplates = map[string]string{
	"architect": "You are the architect agent. Design module boundaries, data flows, and interfaces before any code is written.",
	"backend":   "You are the backend agent. Implement server-side logic, storage, and APIs exactly as the task describes.",
	"frontend":  "You are the frontend agent. Build user-facing components and wire them to the available APIs.",
	"tester":    "You are the tester agent. Write and run tests that verify the task's acceptance criteria.",
	"reviewer":  "You are the reviewer agent. Inspect the produced changes for defects, risks, and unmet requirements.",
}

// templateFor returns the agent's template, falling back to the generic one.
func templateFor(templates map[string]string, agent string) string {
	if t, ok := templates[agent]; ok {
		return t
	}
	if t, ok := builtinTemplates[agent]; ok {
		return t
	}
	return fmt.Sprintf(defaultTemplate, agent)
}

// toolCatalog renders the ReAct tool instructions for agentic mode.
func toolCatalog(tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString("## Available tools\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s", t.Name, t.Description)
		if t.Parameters != "" {
			fmt.Fprintf(&b, " (parameters: %s)", t.Parameters)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
## Tool usage
Think step by step. To call a tool, emit:
<tool_call>{"name": "...", "arguments": {...}}</tool_call>
When finished, wrap your final answer:
<final_output>...</final_output>
<confidence>0.0-1.0</confidence>
`)
	return b.String()
}

// instructionsFooter closes every assembled prompt.
const instructionsFooter = `## Instructions
Complete the task described above. Stay within the task's scope, respect the
outputs of its dependencies, and state clearly what you produced.`
