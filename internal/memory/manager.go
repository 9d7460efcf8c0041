package memory

import (
	"context"
	"time"

	"forgemind/internal/embedding"
	"forgemind/internal/logging"
)

// Manager ties an adapter to an embedding engine and enforces namespace
// isolation. It is the surface the build driver and CLI talk to.
type Manager struct {
	storage Storage
	engine  embedding.Engine

	defaultNamespace string
	isolate          bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNamespaceIsolation confines namespace-less queries to the default
// namespace instead of the whole store.
func WithNamespaceIsolation(defaultNamespace string) ManagerOption {
	return func(m *Manager) {
		m.isolate = true
		m.defaultNamespace = defaultNamespace
	}
}

// NewManager creates a Manager. engine may be nil; Remember then stores
// fragments without embeddings and Search returns nothing.
func NewManager(storage Storage, engine embedding.Engine, opts ...ManagerOption) *Manager {
	m := &Manager{storage: storage, engine: engine}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Storage exposes the underlying adapter for export/import tooling.
func (m *Manager) Storage() Storage { return m.storage }

// Remember embeds the content and writes a fragment. Embedding faults are
// logged and the fragment still lands, searchable by attribute filters only.
// The fragment's identity fields are derived from the namespace key and its
// confidence starts at the default.
func (m *Manager) Remember(ctx context.Context, namespace, fragType, content string, tags []string, relevance float64) (*Fragment, error) {
	projectID, agentID := SplitNamespace(namespace)
	frag := &Fragment{
		ID:         NewFragmentID(),
		Namespace:  namespace,
		AgentID:    agentID,
		ProjectID:  projectID,
		Type:       fragType,
		Content:    content,
		Tags:       tags,
		Relevance:  relevance,
		Confidence: DefaultConfidence,
		Provenance: Provenance{AgentID: agentID},
		CreatedAt:  time.Now(),
	}
	if m.engine != nil {
		vec, err := m.engine.Embed(ctx, content)
		if err != nil {
			logging.MemoryWarn("Embedding failed for new fragment, storing without vector: %v", err)
		} else {
			frag.Embedding = vec
		}
	}
	if err := m.storage.Write(ctx, frag); err != nil {
		return nil, err
	}
	logging.MemoryDebug("Remembered fragment %s in %s (%d chars)", frag.ID, namespace, len(content))
	return frag, nil
}

// Search embeds the query text and runs a composite-ranked vector search.
func (m *Manager) Search(ctx context.Context, query string, topK int, filter *Filter, threshold float64) ([]SearchResult, error) {
	if m.engine == nil {
		return nil, nil
	}
	vec, err := m.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	f := m.scopedFilter(filter)
	return m.storage.SearchByVector(ctx, vec, topK, f, threshold)
}

// Query runs an attribute-filter query under isolation rules.
func (m *Manager) Query(ctx context.Context, filter Filter) ([]*Fragment, error) {
	scoped := m.scopedFilter(&filter)
	return m.storage.Query(ctx, *scoped)
}

// Count mirrors Query's isolation scoping.
func (m *Manager) Count(ctx context.Context, filter Filter) (int, error) {
	scoped := m.scopedFilter(&filter)
	return m.storage.Count(ctx, *scoped)
}

// scopedFilter applies the isolation default to namespace-less filters.
func (m *Manager) scopedFilter(filter *Filter) *Filter {
	var f Filter
	if filter != nil {
		f = *filter
	}
	if m.isolate && f.Namespace == "" {
		f.Namespace = m.defaultNamespace
	}
	return &f
}
