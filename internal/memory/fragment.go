// Package memory implements hindsight memory: durable fragments with vector
// search, composite relevance ranking, checksummed serialization, and
// namespace isolation. Adapters: in-memory (bounded, evicting) and SQLite.
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultConfidence is assigned to fragments remembered without an explicit
// confidence.
const DefaultConfidence = 0.5

// Provenance records where a fragment came from.
type Provenance struct {
	AgentID string `json:"agent_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	BuildID string `json:"build_id,omitempty"`
}

// Fragment is one remembered unit of build knowledge.
type Fragment struct {
	ID             string         `json:"id"` // "frag-" prefixed
	Namespace      string         `json:"namespace"`
	AgentID        string         `json:"agent_id,omitempty"`
	ProjectID      string         `json:"project_id,omitempty"`
	Type           string         `json:"type"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Relevance      float64        `json:"relevance"`  // 0.0-1.0
	Confidence     float64        `json:"confidence"` // 0.0-1.0
	Provenance     Provenance     `json:"provenance,omitempty"`
	IsArchived     bool           `json:"is_archived"`
	IsPinned       bool           `json:"is_pinned"`
	AccessCount    int            `json:"access_count"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewFragmentID mints a fragment id.
func NewFragmentID() string {
	return "frag-" + uuid.NewString()
}

// NamespaceFor builds the canonical projectID:agentID namespace key.
func NamespaceFor(projectID, agentID string) string {
	return projectID + ":" + agentID
}

// SplitNamespace is the inverse of NamespaceFor. A key without a separator
// is all project.
func SplitNamespace(namespace string) (projectID, agentID string) {
	projectID, agentID, _ = strings.Cut(namespace, ":")
	return projectID, agentID
}

// expired reports whether the fragment's lifetime has lapsed.
func (f *Fragment) expired(now time.Time) bool {
	return f.ExpiresAt != nil && !f.ExpiresAt.After(now)
}

// touch records one access.
func (f *Fragment) touch(now time.Time) {
	f.AccessCount++
	f.LastAccessedAt = now
}

// clone returns a deep-enough copy so callers never alias stored state.
func (f *Fragment) clone() *Fragment {
	cp := *f
	if f.Embedding != nil {
		cp.Embedding = append([]float32(nil), f.Embedding...)
	}
	if f.Tags != nil {
		cp.Tags = append([]string(nil), f.Tags...)
	}
	if f.ExpiresAt != nil {
		t := *f.ExpiresAt
		cp.ExpiresAt = &t
	}
	if f.Metadata != nil {
		cp.Metadata = make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
