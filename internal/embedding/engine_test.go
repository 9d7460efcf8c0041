package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgemind/internal/types"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
}

func TestTopKRanksAndSkipsMismatched(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},       // orthogonal
		{1, 0},       // identical
		{1, 1},       // partial
		{1, 0, 0, 0}, // wrong dimensions, skipped
	}

	results := TopK(query, corpus, 2)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
}

func TestHashEngineDeterministic(t *testing.T) {
	e := NewHashEngine(64)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "build the memory index")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "build the memory index")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Len(t, a1, 64)

	// Overlapping texts are closer than disjoint ones.
	b, err := e.Embed(ctx, "build the search index")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "unrelated words entirely different")
	require.NoError(t, err)

	simAB, err := CosineSimilarity(a1, b)
	require.NoError(t, err)
	simAC, err := CosineSimilarity(a1, c)
	require.NoError(t, err)
	assert.Greater(t, simAB, simAC)
}

func TestNormalizeTaskType(t *testing.T) {
	assert.Equal(t, "RETRIEVAL_QUERY", normalizeTaskType("RETRIEVAL_QUERY"))
	assert.Equal(t, "CODE_RETRIEVAL_QUERY", normalizeTaskType("CODE_RETRIEVAL_QUERY"))

	// Unknown or empty values fall back to semantic similarity.
	assert.Equal(t, "SEMANTIC_SIMILARITY", normalizeTaskType(""))
	assert.Equal(t, "SEMANTIC_SIMILARITY", normalizeTaskType("retrieval_query"))
}

func TestNewEngineProviders(t *testing.T) {
	e, err := NewEngine(Config{Provider: "hash", Dimensions: 32})
	require.NoError(t, err)
	assert.Equal(t, "hash", e.Name())
	assert.Equal(t, 32, e.Dimensions())

	_, err = NewEngine(Config{Provider: "something-else"})
	assert.Error(t, err)

	_, err = NewEngine(Config{Provider: "genai"}) // no API key
	assert.Error(t, err)
}
