package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgemind/internal/types"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newFrag(id, namespace string, embedding []float32) *Fragment {
	return &Fragment{
		ID:        id,
		Namespace: namespace,
		Type:      "insight",
		Content:   "content for " + id,
		Embedding: embedding,
		Relevance: 1.0,
	}
}

func TestWriteReadDelete(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	frag := newFrag("frag-1", "p1:a1", nil)
	require.NoError(t, s.Write(ctx, frag))

	got, err := s.Read(ctx, "frag-1")
	require.NoError(t, err)
	assert.Equal(t, "content for frag-1", got.Content)
	assert.Equal(t, 1, got.AccessCount)

	_, err = s.Read(ctx, "frag-missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	ok, err := s.Delete(ctx, "frag-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "frag-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBulkReadReturnsPresentOnly(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, newFrag("frag-a", "p1:a1", nil)))
	require.NoError(t, s.Write(ctx, newFrag("frag-b", "p1:a1", nil)))

	frags, err := s.BulkRead(ctx, []string{"frag-a", "frag-x", "frag-b"})
	require.NoError(t, err)
	assert.Len(t, frags, 2)
}

func TestQueryNamespaceIsolation(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, newFrag("frag-1", "p1:a1", nil)))
	require.NoError(t, s.Write(ctx, newFrag("frag-2", "p2:a2", nil)))

	frags, err := s.Query(ctx, Filter{Namespace: "p1:a1"})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "frag-1", frags[0].ID)
}

func TestQueryFilterPredicates(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	archived := newFrag("frag-arch", "p1:a1", nil)
	archived.IsArchived = true
	tagged := newFrag("frag-tag", "p1:a1", nil)
	tagged.Tags = []string{"sql", "perf"}
	low := newFrag("frag-low", "p1:a1", nil)
	low.Relevance = 0.2
	for _, f := range []*Fragment{archived, tagged, low} {
		require.NoError(t, s.Write(ctx, f))
	}

	notArchived := false
	frags, err := s.Query(ctx, Filter{Namespace: "p1:a1", IsArchived: &notArchived})
	require.NoError(t, err)
	assert.Len(t, frags, 2)

	frags, err = s.Query(ctx, Filter{Tags: []string{"perf", "absent"}})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "frag-tag", frags[0].ID)

	frags, err = s.Query(ctx, Filter{Tags: []string{"perf", "absent"}, TagsAll: true})
	require.NoError(t, err)
	assert.Empty(t, frags)

	frags, err = s.Query(ctx, Filter{MinRelevance: 0.5})
	require.NoError(t, err)
	assert.Len(t, frags, 2)

	n, err := s.Count(ctx, Filter{Namespace: "p1:a1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExpiredFragmentsAreInvisible(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s := NewInMemoryStorage(withClock(fixedClock(now)))
	ctx := context.Background()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := newFrag("frag-expired", "p1:a1", []float32{1, 0})
	expired.ExpiresAt = &past
	alive := newFrag("frag-alive", "p1:a1", []float32{1, 0})
	alive.ExpiresAt = &future
	forever := newFrag("frag-forever", "p1:a1", []float32{1, 0})
	for _, f := range []*Fragment{expired, alive, forever} {
		f.LastAccessedAt = now
		require.NoError(t, s.Write(ctx, f))
	}

	frags, err := s.Query(ctx, Filter{Namespace: "p1:a1"})
	require.NoError(t, err)
	require.Len(t, frags, 2)
	for _, f := range frags {
		assert.NotEqual(t, "frag-expired", f.ID)
	}

	results, err := s.SearchByVector(ctx, []float32{1, 0}, 10, nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Direct reads still work: expiry hides fragments from queries, it does
	// not delete them.
	_, err = s.Read(ctx, "frag-expired")
	assert.NoError(t, err)
}

func TestSearchByVectorDimensionMismatch(t *testing.T) {
	s := NewInMemoryStorage(WithDimensions(3))
	ctx := context.Background()

	err := s.Write(ctx, newFrag("frag-1", "p1:a1", []float32{1, 0}))
	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))

	_, err = s.SearchByVector(ctx, []float32{1, 0}, 5, nil, 0)
	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
}

func TestSearchByVectorThresholdAndRanking(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s := NewInMemoryStorage(withClock(fixedClock(now)))
	ctx := context.Background()

	exact := newFrag("frag-exact", "p1:a1", []float32{1, 0, 0})
	near := newFrag("frag-near", "p1:a1", []float32{0.9, 0.1, 0})
	far := newFrag("frag-far", "p1:a1", []float32{0, 1, 0})
	for _, f := range []*Fragment{exact, near, far} {
		f.LastAccessedAt = now
		require.NoError(t, s.Write(ctx, f))
	}

	results, err := s.SearchByVector(ctx, []float32{1, 0, 0}, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 2) // far is under the 0.7 default threshold
	assert.Equal(t, "frag-exact", results[0].Fragment.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Greater(t, results[0].FinalScore, results[1].FinalScore)
}

func TestSearchByVectorFrequentFragmentRanksHigher(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s := NewInMemoryStorage(withClock(fixedClock(now)))
	ctx := context.Background()

	cold := newFrag("frag-cold", "p1:a1", []float32{1, 0})
	cold.LastAccessedAt = now.Add(-30 * 24 * time.Hour)
	hot := newFrag("frag-hot", "p1:a1", []float32{1, 0})
	hot.LastAccessedAt = now
	hot.AccessCount = 50
	require.NoError(t, s.Write(ctx, cold))
	require.NoError(t, s.Write(ctx, hot))

	results, err := s.SearchByVector(ctx, []float32{1, 0}, 2, nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "frag-hot", results[0].Fragment.ID)
}

func TestCapacityEvictionPrefersLowValueUnpinned(t *testing.T) {
	var evicted []string
	s := NewInMemoryStorage(
		WithCapacity(2),
		WithEvictionObserver(func(ns, id string) { evicted = append(evicted, id) }),
	)
	ctx := context.Background()

	pinned := newFrag("frag-pinned", "p1:a1", nil)
	pinned.IsPinned = true
	pinned.Relevance = 0.1
	weak := newFrag("frag-weak", "p1:a1", nil)
	weak.Relevance = 0.3
	strong := newFrag("frag-strong", "p1:a1", nil)
	strong.Relevance = 0.9

	require.NoError(t, s.Write(ctx, pinned))
	require.NoError(t, s.Write(ctx, weak))
	require.NoError(t, s.Write(ctx, strong))

	require.Equal(t, []string{"frag-weak"}, evicted)
	_, err := s.Read(ctx, "frag-pinned")
	assert.NoError(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f := newFrag(fmt.Sprintf("frag-%d", i), "p1:a1", []float32{float32(i), 1})
		f.Tags = []string{"t"}
		require.NoError(t, s.Write(ctx, f))
	}

	docs, err := s.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 5)

	fresh := NewInMemoryStorage()
	n, err := fresh.ImportAll(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	count, err := fresh.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	got, err := fresh.Read(ctx, "frag-3")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, got.Embedding)
}

func TestImportSkipsInvalidDocs(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	good, err := SerializeFragment(newFrag("frag-good", "p1:a1", nil))
	require.NoError(t, err)

	n, err := s.ImportAll(ctx, [][]byte{good, []byte("{broken"), []byte(`{"schemaVersion":9,"data":{},"checksum":""}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
