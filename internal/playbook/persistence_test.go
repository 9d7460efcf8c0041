package playbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersister(t *testing.T) *Persister {
	t.Helper()
	p, err := NewPersister(filepath.Join(t.TempDir(), "playbooks"))
	require.NoError(t, err)
	return p
}

func TestPersisterRoundTrip(t *testing.T) {
	p := newTestPersister(t)
	now := time.Now().UTC().Truncate(time.Second)

	pb := &Playbook{
		ID:        "pb-1",
		AgentName: "backend",
		Version:   4,
		Rules: []Rule{{
			ID: "r1", Type: RuleStrategy, Content: "Keep handlers small",
			Confidence: 0.8, Source: SourceLearned,
			CreatedAt: now, UpdatedAt: now,
		}},
		SuccessRate: 0.75,
		LastUpdated: now,
	}
	require.NoError(t, p.Save(pb))

	loaded := p.Load("backend")
	require.NotNil(t, loaded)
	assert.Equal(t, pb.Version, loaded.Version)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, "Keep handlers small", loaded.Rules[0].Content)
	assert.Equal(t, 0.75, loaded.SuccessRate)
}

func TestPersisterLoadMissingReturnsNil(t *testing.T) {
	p := newTestPersister(t)
	assert.Nil(t, p.Load("never-saved"))
}

func TestPersisterLoadCorruptReturnsNil(t *testing.T) {
	p := newTestPersister(t)
	require.NoError(t, os.WriteFile(p.PathFor("backend"), []byte("{not json"), 0o644))
	assert.Nil(t, p.Load("backend"))
}

func TestPersisterLoadRejectsInvariantBreach(t *testing.T) {
	p := newTestPersister(t)
	now := time.Now()

	// successCount above appliedCount is not a valid document.
	pb := &Playbook{
		ID: "pb-2", AgentName: "backend", Version: 1,
		Rules: []Rule{{
			ID: "r1", Type: RuleStrategy, Content: "x", Confidence: 0.5,
			Source: SourceLearned, AppliedCount: 1, SuccessCount: 5,
			CreatedAt: now, UpdatedAt: now,
		}},
		LastUpdated: now,
	}
	require.NoError(t, p.Save(pb))
	assert.Nil(t, p.Load("backend"))
}

func TestPersisterSanitizesAgentName(t *testing.T) {
	p := newTestPersister(t)
	path := p.PathFor("../escape/attempt")
	assert.Equal(t, filepath.Dir(p.PathFor("x")), filepath.Dir(path))
	assert.NotContains(t, filepath.Base(path), "/")
}

func TestStoreWithPersistenceSurvivesInvalidate(t *testing.T) {
	p := newTestPersister(t)
	s := NewStore(WithPersistence(p))

	pb, err := s.UpdatePlaybook("backend", []Delta{{
		Action: DeltaAdd, Content: "Persisted rule content", Type: RulePattern, Confidence: 0.7,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, pb.Version)

	s.Invalidate("backend")

	reloaded := s.GetPlaybook("backend")
	assert.Equal(t, 1, reloaded.Version)
	require.Len(t, reloaded.Rules, 1)
	assert.Equal(t, "Persisted rule content", reloaded.Rules[0].Content)
}
