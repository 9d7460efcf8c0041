package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"forgemind/internal/embedding"
	"forgemind/internal/logging"
	"forgemind/internal/types"
)

// InMemoryStorage is the default adapter: a bounded map with namespace
// indexing. When capacity is exceeded the lowest-value unpinned fragment is
// evicted; evictions are observable.
type InMemoryStorage struct {
	mu        sync.RWMutex
	fragments map[string]*Fragment
	byNS      map[string]map[string]struct{}

	capacity   int
	dimensions int
	weights    Weights
	onEvict    func(namespace, id string)

	now func() time.Time
}

// InMemoryOption configures the in-memory adapter.
type InMemoryOption func(*InMemoryStorage)

// WithCapacity bounds the fragment count. n <= 0 means unbounded.
func WithCapacity(n int) InMemoryOption {
	return func(s *InMemoryStorage) { s.capacity = n }
}

// WithDimensions enforces an embedding width on write and search.
func WithDimensions(d int) InMemoryOption {
	return func(s *InMemoryStorage) { s.dimensions = d }
}

// WithWeights overrides the composite ranking weights.
func WithWeights(w Weights) InMemoryOption {
	return func(s *InMemoryStorage) { s.weights = w }
}

// WithEvictionObserver installs a callback fired on every eviction.
func WithEvictionObserver(fn func(namespace, id string)) InMemoryOption {
	return func(s *InMemoryStorage) { s.onEvict = fn }
}

// withClock is a test seam.
func withClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStorage) { s.now = now }
}

// NewInMemoryStorage creates the in-memory adapter.
func NewInMemoryStorage(opts ...InMemoryOption) *InMemoryStorage {
	s := &InMemoryStorage{
		fragments: make(map[string]*Fragment),
		byNS:      make(map[string]map[string]struct{}),
		capacity:  10000,
		weights:   DefaultWeights(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStorage) Initialize(ctx context.Context) error { return nil }

// Write stores or replaces a fragment.
func (s *InMemoryStorage) Write(ctx context.Context, frag *Fragment) error {
	if frag == nil || frag.ID == "" {
		return types.ContractViolationf("fragment requires an id")
	}
	if s.dimensions > 0 && len(frag.Embedding) > 0 && len(frag.Embedding) != s.dimensions {
		return types.ErrDimensionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.fragments[frag.ID]; ok && old.Namespace != frag.Namespace {
		s.unindex(old)
	}
	cp := frag.clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = s.now()
	s.fragments[cp.ID] = cp
	s.index(cp)

	s.evictOverCapacity()
	return nil
}

// BulkWrite stores fragments one by one; the first failure aborts.
func (s *InMemoryStorage) BulkWrite(ctx context.Context, frags []*Fragment) error {
	for _, f := range frags {
		if err := s.Write(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Read returns a copy of the fragment and records the access.
func (s *InMemoryStorage) Read(ctx context.Context, id string) (*Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frag, ok := s.fragments[id]
	if !ok {
		return nil, types.NotFoundf("fragment %s", id)
	}
	frag.touch(s.now())
	return frag.clone(), nil
}

// BulkRead returns present fragments only; order is unspecified.
func (s *InMemoryStorage) BulkRead(ctx context.Context, ids []string) ([]*Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Fragment, 0, len(ids))
	for _, id := range ids {
		if frag, ok := s.fragments[id]; ok {
			frag.touch(s.now())
			out = append(out, frag.clone())
		}
	}
	return out, nil
}

// Delete removes a fragment, reporting whether it existed.
func (s *InMemoryStorage) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frag, ok := s.fragments[id]
	if !ok {
		return false, nil
	}
	s.unindex(frag)
	delete(s.fragments, id)
	return true, nil
}

// Query returns all fragments matching the filter, newest first.
func (s *InMemoryStorage) Query(ctx context.Context, filter Filter) ([]*Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []*Fragment
	for _, frag := range s.candidates(filter.Namespace) {
		if matchesFilter(frag, filter, now) {
			out = append(out, frag.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SearchByVector ranks matching fragments by composite score. threshold <= 0
// uses the default 0.7 similarity floor.
func (s *InMemoryStorage) SearchByVector(ctx context.Context, query []float32, topK int, filter *Filter, threshold float64) ([]SearchResult, error) {
	if s.dimensions > 0 && len(query) != s.dimensions {
		return nil, types.ErrDimensionMismatch
	}
	if topK <= 0 {
		topK = 10
	}
	if threshold <= 0 {
		threshold = DefaultSearchThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := Filter{}
	if filter != nil {
		f = *filter
	}
	now := s.now()

	var results []SearchResult
	for _, frag := range s.candidates(f.Namespace) {
		if len(frag.Embedding) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(query, frag.Embedding)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(frag, f, now) {
			continue
		}
		if sim < threshold {
			continue
		}
		_, final := compositeScore(frag, sim, s.weights, now)
		results = append(results, SearchResult{
			Fragment:   frag,
			Similarity: sim,
			FinalScore: final,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Fragment.ID < results[j].Fragment.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	// Touch and copy only the returned fragments.
	for i := range results {
		results[i].Fragment.touch(now)
		results[i].Fragment = results[i].Fragment.clone()
	}
	return results, nil
}

// Count returns how many fragments match the filter.
func (s *InMemoryStorage) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, frag := range s.candidates(filter.Namespace) {
		if matchesFilter(frag, filter, now) {
			n++
		}
	}
	return n, nil
}

// ExportAll serializes every fragment into checksummed envelopes.
func (s *InMemoryStorage) ExportAll(ctx context.Context) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.fragments))
	for id := range s.fragments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([][]byte, 0, len(ids))
	for _, id := range ids {
		doc, err := SerializeFragment(s.fragments[id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ImportAll deserializes and stores envelopes, returning how many landed.
// Invalid documents are skipped and logged, never fatal.
func (s *InMemoryStorage) ImportAll(ctx context.Context, docs [][]byte) (int, error) {
	imported := 0
	for _, doc := range docs {
		frag, err := DeserializeFragment(doc)
		if err != nil {
			logging.MemoryWarn("Import skipped invalid fragment: %v", err)
			continue
		}
		if err := s.Write(ctx, frag); err != nil {
			logging.MemoryWarn("Import failed to write fragment %s: %v", frag.ID, err)
			continue
		}
		imported++
	}
	return imported, nil
}

func (s *InMemoryStorage) IsAvailable(ctx context.Context) bool { return true }

func (s *InMemoryStorage) Close() error { return nil }

// candidates returns the namespace slice or everything. Caller holds a lock.
func (s *InMemoryStorage) candidates(namespace string) []*Fragment {
	if namespace != "" {
		ids := s.byNS[namespace]
		out := make([]*Fragment, 0, len(ids))
		for id := range ids {
			out = append(out, s.fragments[id])
		}
		return out
	}
	out := make([]*Fragment, 0, len(s.fragments))
	for _, frag := range s.fragments {
		out = append(out, frag)
	}
	return out
}

func (s *InMemoryStorage) index(f *Fragment) {
	ids, ok := s.byNS[f.Namespace]
	if !ok {
		ids = make(map[string]struct{})
		s.byNS[f.Namespace] = ids
	}
	ids[f.ID] = struct{}{}
}

func (s *InMemoryStorage) unindex(f *Fragment) {
	if ids, ok := s.byNS[f.Namespace]; ok {
		delete(ids, f.ID)
		if len(ids) == 0 {
			delete(s.byNS, f.Namespace)
		}
	}
}

// evictOverCapacity removes the lowest-value unpinned fragments until the
// store fits. Caller holds the write lock.
func (s *InMemoryStorage) evictOverCapacity() {
	for s.capacity > 0 && len(s.fragments) > s.capacity {
		victim := s.pickVictim()
		if victim == nil {
			return // everything pinned
		}
		s.unindex(victim)
		delete(s.fragments, victim.ID)
		logging.Memory("Capacity eviction: fragment=%s namespace=%s", victim.ID, victim.Namespace)
		if s.onEvict != nil {
			s.onEvict(victim.Namespace, victim.ID)
		}
	}
}

// pickVictim chooses the unpinned fragment with the lowest relevance, ties
// broken by oldest last access.
func (s *InMemoryStorage) pickVictim() *Fragment {
	var victim *Fragment
	for _, frag := range s.fragments {
		if frag.IsPinned {
			continue
		}
		if victim == nil ||
			frag.Relevance < victim.Relevance ||
			(frag.Relevance == victim.Relevance && frag.LastAccessedAt.Before(victim.LastAccessedAt)) {
			victim = frag
		}
	}
	return victim
}
