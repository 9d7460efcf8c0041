// Package prompt assembles the per-task prompt: agent template, task header,
// dependency outputs, optional repo/memory/communication context, the
// playbook block, and a fixed instructions footer.
package prompt

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"forgemind/internal/ace"
	"forgemind/internal/logging"
	"forgemind/internal/memory"
	"forgemind/internal/types"
)

// depOutputCacheSize bounds the dependency-output file cache.
const depOutputCacheSize = 128

// playbookTokenBudget caps the playbook context block.
const playbookTokenBudget = 600

// memoryTopK bounds the memory context block.
const memoryTopK = 3

// Assembler builds prompts. All collaborators except the generator are
// optional; missing ones are skipped silently.
type Assembler struct {
	generator *ace.Generator
	memory    *memory.Manager
	repoCtx   types.RepoContextProvider
	bus       types.MessageBus

	agenticMode  bool
	toolRegistry []ToolSpec
	templates    map[string]string

	depCache *lru.Cache[string, string]

	mu       sync.Mutex
	injected map[string][]string // taskID -> rule ids injected into the prompt
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithMemory enables the memory context block.
func WithMemory(m *memory.Manager) AssemblerOption {
	return func(a *Assembler) { a.memory = m }
}

// WithRepoContext enables the repository context block.
func WithRepoContext(p types.RepoContextProvider) AssemblerOption {
	return func(a *Assembler) { a.repoCtx = p }
}

// WithMessageBus enables the inter-agent communication block.
func WithMessageBus(bus types.MessageBus) AssemblerOption {
	return func(a *Assembler) { a.bus = bus }
}

// WithAgenticMode appends the tool catalog and ReAct instructions.
func WithAgenticMode(tools []ToolSpec) AssemblerOption {
	return func(a *Assembler) {
		a.agenticMode = true
		a.toolRegistry = tools
	}
}

// WithTemplate registers or overrides an agent template.
func WithTemplate(agent, template string) AssemblerOption {
	return func(a *Assembler) { a.templates[agent] = template }
}

// NewAssembler creates an Assembler around the playbook generator.
func NewAssembler(generator *ace.Generator, opts ...AssemblerOption) *Assembler {
	cache, _ := lru.New[string, string](depOutputCacheSize)
	a := &Assembler{
		generator: generator,
		templates: make(map[string]string),
		depCache:  cache,
		injected:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the full prompt for one task.
func (a *Assembler) Assemble(ctx context.Context, task *types.Task, prd *types.PRD) (string, error) {
	if task == nil || prd == nil {
		return "", types.ContractViolationf("assemble requires a task and a PRD")
	}

	var b strings.Builder

	// 1. Agent template (plus tool catalog in agentic mode).
	b.WriteString(templateFor(a.templates, task.Agent))
	b.WriteString("\n\n")
	if a.agenticMode {
		b.WriteString(toolCatalog(a.toolRegistry))
		b.WriteString("\n")
	}

	// 2. Fixed task header.
	fmt.Fprintf(&b, "# Task\nID: %s\nTitle: %s\nDescription: %s\nAgent: %s\nPhase: %d\n\n",
		task.ID, task.Title, task.Description, task.Agent, task.Phase)

	// 3. Dependency outputs.
	if len(task.Dependencies) > 0 {
		b.WriteString("## Dependencies\n")
		for _, depID := range task.Dependencies {
			b.WriteString(a.dependencyBlock(prd, depID))
		}
		b.WriteString("\n")
	}

	// 4. Repository context.
	if a.repoCtx != nil {
		if repoCtx, err := a.repoCtx.RepoContext(ctx, task.Title+" "+task.Description); err != nil {
			logging.PromptWarn("Repo context unavailable for %s: %v", task.ID, err)
		} else if repoCtx != "" {
			b.WriteString("## Repository context\n")
			b.WriteString(repoCtx)
			b.WriteString("\n\n")
		}
	}

	// 5. Memory context.
	if a.memory != nil {
		if block := a.memoryBlock(ctx, task); block != "" {
			b.WriteString(block)
		}
	}

	// 6. Playbook context.
	gen := a.generator.AnalyzeTask(task, task.Agent, playbookTokenBudget)
	b.WriteString(gen.PlaybookContext)
	b.WriteString("\n\n")
	a.mu.Lock()
	a.injected[task.ID] = gen.AppliedRuleIDs
	a.mu.Unlock()

	// 7. Inter-agent messages.
	if a.bus != nil {
		if msgs := a.bus.GetMessagesFor(task.Agent); len(msgs) > 0 {
			b.WriteString("## Messages from other agents\n")
			for _, m := range msgs {
				fmt.Fprintf(&b, "- from %s: %s\n", m.From, m.Content)
			}
			b.WriteString("\n")
		}
	}

	// 8. Instructions footer.
	b.WriteString(instructionsFooter)

	out := b.String()
	logging.PromptDebug("Assembled prompt for %s: %d chars, ~%d tokens", task.ID, len(out), CountTokens(out))
	return out, nil
}

// InjectedRules returns the playbook rule ids injected into a task's prompt.
func (a *Assembler) InjectedRules(taskID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.injected[taskID]
}

// dependencyBlock renders one dependency: the referenced task's output when
// it is done and readable, a stub otherwise.
func (a *Assembler) dependencyBlock(prd *types.PRD, depID string) string {
	dep := prd.TaskByID(depID)
	if dep == nil {
		return fmt.Sprintf("### %s\nNOT FOUND\n", depID)
	}
	if dep.Status != types.TaskDone {
		return fmt.Sprintf("### %s (%s)\nTask is %s, output not yet available.\n", depID, dep.Title, dep.Status)
	}
	out, ok := a.readDependencyOutput(dep.Output)
	if !ok {
		return fmt.Sprintf("### %s (%s)\n(No output file found)\n", depID, dep.Title)
	}
	return fmt.Sprintf("### %s (%s)\n%s\n", depID, dep.Title, out)
}

// readDependencyOutput reads an output artifact through the LRU cache.
func (a *Assembler) readDependencyOutput(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if cached, ok := a.depCache.Get(path); ok {
		return cached, true
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := string(raw)
	a.depCache.Add(path, content)
	return content, true
}

func (a *Assembler) memoryBlock(ctx context.Context, task *types.Task) string {
	results, err := a.memory.Search(ctx, task.Title+" "+task.Description, memoryTopK, nil, 0)
	if err != nil || len(results) == 0 {
		if err != nil {
			logging.PromptWarn("Memory search failed for %s: %v", task.ID, err)
		}
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant memory\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.Fragment.Content)
	}
	b.WriteString("\n")
	return b.String()
}
