package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgemind/internal/ace"
	"forgemind/internal/playbook"
	"forgemind/internal/types"
)

type stubRepoContext struct{ summary string }

func (s *stubRepoContext) RepoContext(ctx context.Context, query string) (string, error) {
	return s.summary, nil
}

type stubBus struct{ msgs []types.Message }

func (s *stubBus) GetMessagesFor(agent string) []types.Message { return s.msgs }

func testPRD(t *testing.T) *types.PRD {
	t.Helper()
	outPath := filepath.Join(t.TempDir(), "t1-output.md")
	require.NoError(t, os.WriteFile(outPath, []byte("dependency artifact body"), 0o644))
	return &types.PRD{
		Meta: types.PRDMeta{Name: "demo"},
		Tasks: []types.Task{
			{ID: "t1", Title: "Schema", Agent: "backend", Phase: 1, Status: types.TaskDone, Output: outPath},
			{ID: "t2", Title: "Pending work", Agent: "backend", Phase: 1, Status: types.TaskPending},
			{ID: "t3", Title: "Build API", Agent: "backend", Phase: 2,
				Dependencies: []string{"t1", "t2", "ghost"}, Status: types.TaskReady},
		},
	}
}

func newTestAssembler(opts ...AssemblerOption) *Assembler {
	return NewAssembler(ace.NewGenerator(playbook.NewStore()), opts...)
}

func TestAssembleCoreSections(t *testing.T) {
	prd := testPRD(t)
	a := newTestAssembler()

	out, err := a.Assemble(context.Background(), prd.TaskByID("t3"), prd)
	require.NoError(t, err)

	assert.Contains(t, out, "backend agent")
	assert.Contains(t, out, "# Task\nID: t3")
	assert.Contains(t, out, "Phase: 2")
	assert.Contains(t, out, "dependency artifact body")         // done dep inlined
	assert.Contains(t, out, "Task is pending")                  // status stub
	assert.Contains(t, out, "### ghost\nNOT FOUND")             // missing dep stub
	assert.Contains(t, out, "<playbook_context")                // playbook block
	assert.Contains(t, out, "## Instructions")                  // footer
	assert.NotContains(t, out, "## Messages from other agents") // no bus wired
}

func TestAssembleMissingOutputFile(t *testing.T) {
	prd := testPRD(t)
	prd.TaskByID("t1").Output = filepath.Join(t.TempDir(), "gone.md")
	a := newTestAssembler()

	out, err := a.Assemble(context.Background(), prd.TaskByID("t3"), prd)
	require.NoError(t, err)
	assert.Contains(t, out, "(No output file found)")
}

func TestAssembleAgenticMode(t *testing.T) {
	prd := testPRD(t)
	a := newTestAssembler(WithAgenticMode([]ToolSpec{
		{Name: "read_file", Description: "read a file", Parameters: "path"},
	}))

	out, err := a.Assemble(context.Background(), prd.TaskByID("t3"), prd)
	require.NoError(t, err)
	assert.Contains(t, out, "## Available tools")
	assert.Contains(t, out, "read_file")
	assert.Contains(t, out, "<tool_call>")
	assert.Contains(t, out, "<confidence>")
}

func TestAssembleOptionalCollaborators(t *testing.T) {
	prd := testPRD(t)
	a := newTestAssembler(
		WithRepoContext(&stubRepoContext{summary: "repo has two services"}),
		WithMessageBus(&stubBus{msgs: []types.Message{
			{From: "architect", To: "backend", Content: "use the v2 schema", Timestamp: time.Now()},
		}}),
	)

	out, err := a.Assemble(context.Background(), prd.TaskByID("t3"), prd)
	require.NoError(t, err)
	assert.Contains(t, out, "repo has two services")
	assert.Contains(t, out, "from architect: use the v2 schema")
}

func TestAssembleTracksInjectedRules(t *testing.T) {
	store := playbook.NewStore()
	_, err := store.UpdatePlaybook("backend", []playbook.Delta{{
		Action: playbook.DeltaAdd, Content: "Build API endpoints with explicit error types",
		Type: playbook.RuleStrategy, Confidence: 0.9,
	}})
	require.NoError(t, err)

	prd := testPRD(t)
	a := NewAssembler(ace.NewGenerator(store))

	_, err = a.Assemble(context.Background(), prd.TaskByID("t3"), prd)
	require.NoError(t, err)
	assert.Len(t, a.InjectedRules("t3"), 1)
	assert.Empty(t, a.InjectedRules("t1"))
}

func TestDependencyOutputCached(t *testing.T) {
	prd := testPRD(t)
	a := newTestAssembler()
	ctx := context.Background()

	_, err := a.Assemble(ctx, prd.TaskByID("t3"), prd)
	require.NoError(t, err)

	// Remove the file; the cached copy still serves.
	require.NoError(t, os.Remove(prd.TaskByID("t1").Output))
	out, err := a.Assemble(ctx, prd.TaskByID("t3"), prd)
	require.NoError(t, err)
	assert.Contains(t, out, "dependency artifact body")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
