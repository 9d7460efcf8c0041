package memory

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgemind/internal/types"
)

func TestSerializeRoundTrip(t *testing.T) {
	frag := &Fragment{
		ID:             "frag-rt",
		Namespace:      "p1:a1",
		Type:           "insight",
		Content:        "remember this",
		Embedding:      []float32{0.25, -0.5},
		Tags:           []string{"a", "b"},
		Relevance:      0.8,
		IsPinned:       true,
		AccessCount:    3,
		LastAccessedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Metadata:       map[string]any{"task": "t1"},
	}

	doc, err := SerializeFragment(frag)
	require.NoError(t, err)

	got, err := DeserializeFragment(doc)
	require.NoError(t, err)
	if diff := cmp.Diff(frag, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeRejectsUnknownSchemaVersion(t *testing.T) {
	frag := &Fragment{ID: "frag-v", Namespace: "p1:a1"}
	doc, err := SerializeFragment(frag)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(doc, &env))
	env["schemaVersion"] = 2
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DeserializeFragment(tampered)
	assert.True(t, errors.Is(err, types.ErrSchemaVersion))
}

func TestDeserializeRejectsChecksumMismatch(t *testing.T) {
	frag := &Fragment{ID: "frag-c", Namespace: "p1:a1", Content: "original"}
	doc, err := SerializeFragment(frag)
	require.NoError(t, err)

	var env fragmentEnvelope
	require.NoError(t, json.Unmarshal(doc, &env))

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	data["content"] = "tampered"
	env.Data, err = json.Marshal(data)
	require.NoError(t, err)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DeserializeFragment(tampered)
	assert.True(t, errors.Is(err, types.ErrChecksumMismatch))
}

func TestDeserializeToleratesKeyReordering(t *testing.T) {
	frag := &Fragment{ID: "frag-k", Namespace: "p1:a1", Content: "stable"}
	doc, err := SerializeFragment(frag)
	require.NoError(t, err)

	// Re-marshaling through a map scrambles data key order; the checksum is
	// computed over the canonical form, so this must still verify.
	var env map[string]any
	require.NoError(t, json.Unmarshal(doc, &env))
	reordered, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := DeserializeFragment(reordered)
	require.NoError(t, err)
	assert.Equal(t, "stable", got.Content)
}
