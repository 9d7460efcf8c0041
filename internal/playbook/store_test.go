package playbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlaybookCreatesEmptyVersionZero(t *testing.T) {
	s := NewStore()
	pb := s.GetPlaybook("backend")

	require.NotNil(t, pb)
	assert.Equal(t, "backend", pb.AgentName)
	assert.Equal(t, 0, pb.Version)
	assert.Empty(t, pb.Rules)

	// Cached: same instance on second access.
	assert.Same(t, pb, s.GetPlaybook("backend"))
}

func TestUpdatePlaybookVersionIncrementsEvenWhenEmpty(t *testing.T) {
	s := NewStore()

	pb, err := s.UpdatePlaybook("backend", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pb.Version)

	pb, err = s.UpdatePlaybook("backend", []Delta{})
	require.NoError(t, err)
	assert.Equal(t, 2, pb.Version)
}

func TestUpdatePlaybookAddDedup(t *testing.T) {
	s := NewStore()
	_, err := s.UpdatePlaybook("backend", []Delta{{
		Action:     DeltaAdd,
		Content:    "Always validate user input before processing database queries",
		Type:       RuleStrategy,
		Confidence: 0.9,
	}})
	require.NoError(t, err)

	// Near-identical content must be dropped by the fuzzy dedup gate.
	pb, err := s.UpdatePlaybook("backend", []Delta{{
		Action:     DeltaAdd,
		Content:    "Always validate user input before processing any queries",
		Type:       RuleStrategy,
		Confidence: 0.85,
	}})
	require.NoError(t, err)
	assert.Len(t, pb.Rules, 1)
	assert.Equal(t, 2, pb.Version) // version still advanced
}

func TestUpdatePlaybookUpdateMergesCountersAndTags(t *testing.T) {
	s := NewStore()
	pb, err := s.UpdatePlaybook("backend", []Delta{{
		Action: DeltaAdd, Content: "Prefer prepared statements", Type: RulePattern, Confidence: 0.7,
	}})
	require.NoError(t, err)
	ruleID := pb.Rules[0].ID

	pb, err = s.UpdatePlaybook("backend", []Delta{{
		Action:       DeltaUpdate,
		RuleID:       ruleID,
		HelpfulDelta: 2,
		HarmfulDelta: 1,
		Reason:       "tags: sql, security",
	}})
	require.NoError(t, err)

	rule := pb.RuleByID(ruleID)
	require.NotNil(t, rule)
	assert.Equal(t, 2, rule.HelpfulCount)
	assert.Equal(t, 1, rule.HarmfulCount)
	assert.Equal(t, "Prefer prepared statements", rule.Content) // content untouched when not provided
	assert.ElementsMatch(t, []string{"sql", "security"}, rule.Tags)

	// Tag union: adding an overlapping set does not duplicate.
	pb, err = s.UpdatePlaybook("backend", []Delta{{
		Action: DeltaUpdate, RuleID: ruleID, Reason: "tags: security, performance",
	}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sql", "security", "performance"}, pb.RuleByID(ruleID).Tags)
}

func TestUpdatePlaybookRemove(t *testing.T) {
	s := NewStore()
	pb, _ := s.UpdatePlaybook("backend", []Delta{{
		Action: DeltaAdd, Content: "Write tests first", Type: RuleStrategy, Confidence: 0.8,
	}})
	ruleID := pb.Rules[0].ID

	pb, err := s.UpdatePlaybook("backend", []Delta{{Action: DeltaRemove, RuleID: ruleID}})
	require.NoError(t, err)
	assert.Empty(t, pb.Rules)
}

func TestGetActiveRulesRelevanceOrder(t *testing.T) {
	s := NewStore()
	_, err := s.UpdatePlaybook("backend", []Delta{
		{Action: DeltaAdd, Content: "Use database connection pooling for high throughput", Type: RulePattern, Confidence: 0.6},
		{Action: DeltaAdd, Content: "Document public exported symbols", Type: RuleStrategy, Confidence: 0.6},
	})
	require.NoError(t, err)

	rules := s.GetActiveRules("backend", "optimize database connection throughput", 10)
	require.Len(t, rules, 2)
	assert.Contains(t, rules[0].Content, "database")
}

func TestGetActiveRulesLimit(t *testing.T) {
	s := NewStore()
	contents := []string{
		"Prefer table driven tests for parser code",
		"Pin dependency versions in the lockfile",
		"Validate request bodies before touching storage",
		"Batch writes inside one transaction",
		"Cache rendered templates per agent",
		"Log slow queries above the latency threshold",
		"Escape user input when generating markdown",
		"Retry transient network failures with backoff",
	}
	var deltas []Delta
	for _, c := range contents {
		deltas = append(deltas, Delta{
			Action:     DeltaAdd,
			Content:    c,
			Type:       RuleStrategy,
			Confidence: 0.5,
		})
	}
	pb, err := s.UpdatePlaybook("backend", deltas)
	require.NoError(t, err)
	require.Len(t, pb.Rules, len(contents)) // none dropped as near-duplicates

	assert.Len(t, s.GetActiveRules("backend", "anything", 3), 3)
	assert.Nil(t, s.GetActiveRules("backend", "anything", 0))
}

func TestCountersIgnoreUnknownIDs(t *testing.T) {
	s := NewStore()
	pb, _ := s.UpdatePlaybook("backend", []Delta{{
		Action: DeltaAdd, Content: "Check error returns", Type: RuleMistake, Confidence: 0.9,
	}})
	ruleID := pb.Rules[0].ID

	s.IncrementApplied("backend", []string{ruleID, "no-such-rule"})
	s.RecordSuccess("backend", []string{ruleID, "no-such-rule"})
	s.RecordSuccess("backend", []string{ruleID}) // clamped: success never exceeds applied

	rule := s.GetPlaybook("backend").RuleByID(ruleID)
	require.NotNil(t, rule)
	assert.Equal(t, 1, rule.AppliedCount)
	assert.Equal(t, 1, rule.SuccessCount)
}

func TestRecordTaskAppliedUpdatesSuccessRate(t *testing.T) {
	s := NewStore()
	pb, _ := s.UpdatePlaybook("backend", []Delta{{
		Action: DeltaAdd, Content: "Unique content here", Type: RuleStrategy, Confidence: 0.9,
	}})
	ruleID := pb.Rules[0].ID

	s.IncrementApplied("backend", []string{ruleID})
	s.IncrementApplied("backend", []string{ruleID})
	s.RecordSuccess("backend", []string{ruleID})
	s.RecordTaskApplied("backend")

	pb = s.GetPlaybook("backend")
	assert.Equal(t, 1, pb.TotalTasksApplied)
	assert.InDelta(t, 0.5, pb.SuccessRate, 1e-9)
}

func TestGetGlobalCandidates(t *testing.T) {
	s := NewStore()
	pb := s.GetPlaybook("backend")
	now := time.Now()
	pb.Rules = []Rule{
		{ID: "qualified", Confidence: 0.9, Source: SourceLearned, AppliedCount: 10, SuccessCount: 8, CreatedAt: now, UpdatedAt: now},
		{ID: "low-conf", Confidence: 0.5, Source: SourceLearned, AppliedCount: 10, SuccessCount: 9, CreatedAt: now, UpdatedAt: now},
		{ID: "few-applies", Confidence: 0.9, Source: SourceLearned, AppliedCount: 2, SuccessCount: 2, CreatedAt: now, UpdatedAt: now},
		{ID: "low-success", Confidence: 0.9, Source: SourceLearned, AppliedCount: 10, SuccessCount: 3, CreatedAt: now, UpdatedAt: now},
		{ID: "already-global", Confidence: 0.95, Source: SourceGlobal, AppliedCount: 20, SuccessCount: 18, CreatedAt: now, UpdatedAt: now},
	}

	candidates := s.GetGlobalCandidates("backend")
	require.Len(t, candidates, 1)
	assert.Equal(t, "qualified", candidates[0].ID)
}

func TestRuleCapEvictsLowestValue(t *testing.T) {
	var evicted []string
	s := NewStore(
		WithMaxRules(3),
		WithEvictionObserver(func(agent, ruleID string) { evicted = append(evicted, ruleID) }),
	)

	contents := []string{
		"Completely distinct alpha rule about parsing",
		"Entirely different beta rule about caching",
		"Separate gamma rule about testing harness",
		"Additional delta rule about deployment flow",
	}
	for i, c := range contents {
		_, err := s.UpdatePlaybook("backend", []Delta{{
			Action: DeltaAdd, Content: c, Type: RuleStrategy, Confidence: 0.3 + 0.2*float64(i),
		}})
		require.NoError(t, err)
	}

	pb := s.GetPlaybook("backend")
	assert.Len(t, pb.Rules, 3)
	assert.Len(t, evicted, 1)
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, JaccardSimilarity("a b c", "c b a"))
	assert.Equal(t, 0.0, JaccardSimilarity("a b", "c d"))
	assert.Equal(t, 0.0, JaccardSimilarity("", "a"))

	sim := JaccardSimilarity(
		"Always validate user input before processing database queries",
		"Always validate user input before processing any queries",
	)
	assert.GreaterOrEqual(t, sim, DefaultDedupThreshold)
}
