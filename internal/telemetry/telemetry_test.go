package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStoreWritesSessionEvents(t *testing.T) {
	dir := t.TempDir()
	s := NewEventStore(dir)
	require.NotEmpty(t, s.SessionID())

	s.Emit("build_started", map[string]any{"build_id": "b1", "tasks": 3})
	s.Emit("session_end", nil)
	require.NoError(t, s.Close())
	assert.Equal(t, 2, s.EventCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	lines := splitLines(raw)
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "build_started", first["event"])
	assert.Equal(t, s.SessionID(), first["session_id"])
	assert.Equal(t, "b1", first["build_id"])
}

func TestEventStoreDistinctSessions(t *testing.T) {
	dir := t.TempDir()
	a := NewEventStore(dir)
	b := NewEventStore(dir)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestEventStoreDegradesWithoutDirectory(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	// dir path collides with an existing file; MkdirAll fails.
	s := NewEventStore(filepath.Join(blocked, "sub"))
	s.Emit("ignored", nil) // must not panic
	assert.Equal(t, 1, s.EventCount())
	assert.NoError(t, s.Close())
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	TaskRetries.Inc()
	TasksCompleted.WithLabelValues("done").Inc()
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				lines = append(lines, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}
