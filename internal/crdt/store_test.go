package crdt

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgemind/internal/types"
)

func TestVectorClockRelations(t *testing.T) {
	assert.True(t, VectorClock{"A": 2, "B": 1}.Dominates(VectorClock{"A": 1, "B": 1}))
	assert.False(t, VectorClock{"A": 1}.Dominates(VectorClock{"A": 1}))
	assert.False(t, VectorClock{"A": 1}.Dominates(VectorClock{"B": 1}))

	assert.True(t, Concurrent(VectorClock{"A": 1}, VectorClock{"B": 1}))
	assert.False(t, Concurrent(VectorClock{"A": 1}, VectorClock{"A": 2}))
	assert.False(t, Concurrent(VectorClock{"A": 1}, VectorClock{"A": 1}))
}

func TestCreateDocumentStartsAtVersionOne(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")

	assert.Equal(t, 1, doc.Version)
	assert.Empty(t, doc.Nodes)
	assert.Empty(t, doc.History)
	assert.Empty(t, doc.Peers)

	_, err := s.GetDocument("doc-nope")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestInsertRejectedWhenNodeExists(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")

	res, err := s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "first", PeerID: "P1"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.Version)

	res, err = s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "second", PeerID: "P2"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 2, res.Version) // rejected ops do not bump the version
	assert.Equal(t, "first", doc.Nodes["n1"].Content)
}

func TestConcurrentUpdatesConflictAndResolve(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")

	_, err := s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "base", PeerID: "P1"})
	require.NoError(t, err)

	_, err = s.ApplyChange(doc.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "from A", PeerID: "A", Clock: VectorClock{"A": 1},
	})
	require.NoError(t, err)

	res, err := s.ApplyChange(doc.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "from B", PeerID: "B", Clock: VectorClock{"B": 1},
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.NotEmpty(t, res.ConflictID)

	conflicts, err := s.GetConflicts(doc.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "n1", conflicts[0].NodeID)
	assert.Len(t, conflicts[0].Operations, 2)

	require.NoError(t, s.ResolveConflict(doc.ID, res.ConflictID, "X"))
	assert.Equal(t, "X", doc.Nodes["n1"].Content)

	conflicts, err = s.GetConflicts(doc.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	err = s.ResolveConflict(doc.ID, res.ConflictID, "Y")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestOrderedUpdatesLastWriterWins(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "v0", Timestamp: base})
	require.NoError(t, err)

	_, err = s.ApplyChange(doc.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "v1",
		Clock: VectorClock{"A": 1}, Timestamp: base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", doc.Nodes["n1"].Content)

	// A dominated clock with an older timestamp is accepted but loses LWW.
	res, err := s.ApplyChange(doc.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "stale",
		Clock: VectorClock{"A": 2}, Timestamp: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Empty(t, res.ConflictID)
	assert.Equal(t, "v1", doc.Nodes["n1"].Content)
}

func TestWriterAndModificationTracking(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, doc.CreatedAt, doc.LastModified)

	_, err := s.ApplyChange(doc.ID, Operation{
		Type: OpInsert, TargetNodeID: "n1", Content: "v0", PeerID: "P1", Timestamp: base,
	})
	require.NoError(t, err)
	assert.Equal(t, "P1", doc.Nodes["n1"].LastWriter)
	assert.Equal(t, base, doc.LastModified)

	_, err = s.ApplyChange(doc.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "v1", PeerID: "P2",
		Clock: VectorClock{"A": 1}, Timestamp: base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "P2", doc.Nodes["n1"].LastWriter)
	assert.Equal(t, base.Add(2*time.Minute), doc.LastModified)

	// A stale update loses LWW: attribution stays with the winning writer,
	// but the accepted op still moves the document's modification time.
	_, err = s.ApplyChange(doc.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "stale", PeerID: "P3",
		Clock: VectorClock{"A": 2}, Timestamp: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "P2", doc.Nodes["n1"].LastWriter)
	assert.Equal(t, base.Add(time.Minute), doc.LastModified)
}

func TestDeleteRemovesNode(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")

	_, err := s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "x"})
	require.NoError(t, err)
	_, err = s.ApplyChange(doc.ID, Operation{Type: OpDelete, TargetNodeID: "n1"})
	require.NoError(t, err)
	assert.Empty(t, doc.Nodes)

	_, err = s.ApplyChange(doc.ID, Operation{Type: OpDelete, TargetNodeID: "n1"})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestHistoryRingStaysBounded(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")

	_, err := s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "base"})
	require.NoError(t, err)

	for i := 0; i < historyCap+100; i++ {
		_, err := s.ApplyChange(doc.ID, Operation{
			Type: OpUpdate, TargetNodeID: "n1", Content: fmt.Sprintf("v%d", i),
			Clock: VectorClock{"A": i + 1},
		})
		require.NoError(t, err)
	}

	assert.Len(t, doc.History, historyCap)
	// Version still counts every accepted op.
	assert.Equal(t, 1+1+historyCap+100, doc.Version)
}

func TestForkParallelUniverseIsolation(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")
	_, err := s.ApplyChange(doc.ID, Operation{Type: OpInsert, TargetNodeID: "n1", Content: "shared"})
	require.NoError(t, err)
	_, err = s.JoinSession(doc.ID, "P1")
	require.NoError(t, err)

	fork, err := s.ForkParallelUniverse(doc.ID, "experiment")
	require.NoError(t, err)
	assert.NotEqual(t, doc.ID, fork.ID)
	assert.Equal(t, doc.ID, fork.ForkedFrom)
	assert.Equal(t, "experiment", fork.Label)
	assert.Equal(t, "shared", fork.Nodes["n1"].Content)
	assert.True(t, fork.Peers["P1"])

	_, err = s.ApplyChange(fork.ID, Operation{
		Type: OpUpdate, TargetNodeID: "n1", Content: "diverged", Clock: VectorClock{"A": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "diverged", fork.Nodes["n1"].Content)
	assert.Equal(t, "shared", doc.Nodes["n1"].Content)

	_, err = s.ForkParallelUniverse("doc-missing", "x")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSessionsKeepEverJoinedPeers(t *testing.T) {
	s := NewStore()
	doc := s.CreateDocument("design")

	sess, err := s.JoinSession(doc.ID, "P1")
	require.NoError(t, err)
	_, err = s.JoinSession(doc.ID, "P1") // idempotent membership
	require.NoError(t, err)
	assert.Len(t, doc.Peers, 1)

	require.NoError(t, s.LeaveSession(sess.ID, "P1"))
	assert.True(t, doc.Peers["P1"], "departed peer stays in the set")
	_, departed := doc.Departures["P1"]
	assert.True(t, departed)
	require.NotNil(t, sess.LeftAt)

	err = s.LeaveSession("sess-missing", "P1")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = s.JoinSession("doc-missing", "P2")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
