package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"forgemind/internal/embedding"
	"forgemind/internal/logging"
	"forgemind/internal/types"
)

// sqliteDriver names the database/sql driver to open. The default is the
// pure-Go modernc driver; the sqlite_vec build tag switches to mattn with the
// sqlite-vec extension registered.
var sqliteDriver = "sqlite"

// SQLiteStorage persists fragments in a local SQLite database. Embeddings are
// stored as JSON arrays and ranked in-process.
type SQLiteStorage struct {
	mu         sync.RWMutex
	db         *sql.DB
	path       string
	dimensions int
	weights    Weights
	now        func() time.Time
}

// NewSQLiteStorage creates the adapter. Call Initialize before use.
func NewSQLiteStorage(path string, dimensions int, weights Weights) *SQLiteStorage {
	return &SQLiteStorage{
		path:       path,
		dimensions: dimensions,
		weights:    weights,
		now:        time.Now,
	}
}

// Initialize opens the database and creates the schema.
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := sql.Open(sqliteDriver, s.path)
	if err != nil {
		return fmt.Errorf("failed to open memory db at %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fragments (
			id               TEXT PRIMARY KEY,
			namespace        TEXT NOT NULL,
			agent_id         TEXT NOT NULL DEFAULT '',
			project_id       TEXT NOT NULL DEFAULT '',
			type             TEXT NOT NULL DEFAULT '',
			content          TEXT NOT NULL DEFAULT '',
			embedding        TEXT,
			tags             TEXT,
			relevance        REAL NOT NULL DEFAULT 0,
			confidence       REAL NOT NULL DEFAULT 0.5,
			provenance       TEXT,
			is_archived      INTEGER NOT NULL DEFAULT 0,
			is_pinned        INTEGER NOT NULL DEFAULT 0,
			access_count     INTEGER NOT NULL DEFAULT 0,
			last_accessed_at TIMESTAMP,
			created_at       TIMESTAMP,
			updated_at       TIMESTAMP,
			expires_at       TIMESTAMP,
			metadata         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_fragments_namespace ON fragments(namespace);
		CREATE INDEX IF NOT EXISTS idx_fragments_type ON fragments(namespace, type);
	`); err != nil {
		db.Close()
		return fmt.Errorf("failed to create memory schema: %w", err)
	}
	s.db = db
	logging.Memory("SQLite memory store ready: path=%s driver=%s", s.path, sqliteDriver)
	return nil
}

func (s *SQLiteStorage) Write(ctx context.Context, frag *Fragment) error {
	if frag == nil || frag.ID == "" {
		return types.ContractViolationf("fragment requires an id")
	}
	if s.dimensions > 0 && len(frag.Embedding) > 0 && len(frag.Embedding) != s.dimensions {
		return types.ErrDimensionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, s.db, frag)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStorage) writeLocked(ctx context.Context, db execer, frag *Fragment) error {
	now := s.now()
	createdAt := frag.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	embJSON, err := json.Marshal(frag.Embedding)
	if err != nil {
		return err
	}
	tagsJSON, _ := json.Marshal(frag.Tags)
	provJSON, _ := json.Marshal(frag.Provenance)
	metaJSON, _ := json.Marshal(frag.Metadata)

	var expiresAt any
	if frag.ExpiresAt != nil {
		expiresAt = *frag.ExpiresAt
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fragments
			(id, namespace, agent_id, project_id, type, content, embedding,
			 tags, relevance, confidence, provenance, is_archived, is_pinned,
			 access_count, last_accessed_at, created_at, updated_at,
			 expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		frag.ID, frag.Namespace, frag.AgentID, frag.ProjectID,
		frag.Type, frag.Content, string(embJSON), string(tagsJSON),
		frag.Relevance, frag.Confidence, string(provJSON),
		boolToInt(frag.IsArchived), boolToInt(frag.IsPinned),
		frag.AccessCount, timeOrNil(frag.LastAccessedAt),
		createdAt, now, expiresAt, string(metaJSON),
	)
	return err
}

// BulkWrite wraps the writes in one transaction.
func (s *SQLiteStorage) BulkWrite(ctx context.Context, frags []*Fragment) error {
	for _, f := range frags {
		if f == nil || f.ID == "" {
			return types.ContractViolationf("fragment requires an id")
		}
		if s.dimensions > 0 && len(f.Embedding) > 0 && len(f.Embedding) != s.dimensions {
			return types.ErrDimensionMismatch
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range frags {
		if err := s.writeLocked(ctx, tx, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Read(ctx context.Context, id string) (*Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frag, err := s.scanOne(ctx, id)
	if err != nil {
		return nil, err
	}
	frag.touch(s.now())
	if _, err := s.db.ExecContext(ctx,
		"UPDATE fragments SET access_count = ?, last_accessed_at = ? WHERE id = ?",
		frag.AccessCount, frag.LastAccessedAt, frag.ID); err != nil {
		logging.MemoryWarn("Failed to record access for %s: %v", frag.ID, err)
	}
	return frag, nil
}

func (s *SQLiteStorage) BulkRead(ctx context.Context, ids []string) ([]*Fragment, error) {
	out := make([]*Fragment, 0, len(ids))
	for _, id := range ids {
		frag, err := s.Read(ctx, id)
		if err != nil {
			continue // present fragments only
		}
		out = append(out, frag)
	}
	return out, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM fragments WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Query pushes namespace/type/relevance/flags into SQL; tag matching happens
// in-process on the scanned rows.
func (s *SQLiteStorage) Query(ctx context.Context, filter Filter) ([]*Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frags, err := s.scanFiltered(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(frags, func(i, j int) bool {
		return frags[i].CreatedAt.After(frags[j].CreatedAt)
	})
	return frags, nil
}

func (s *SQLiteStorage) SearchByVector(ctx context.Context, query []float32, topK int, filter *Filter, threshold float64) ([]SearchResult, error) {
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
	frags, err := s.scanFiltered(ctx, f)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var results []SearchResult
	for _, frag := range frags {
		if len(frag.Embedding) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(query, frag.Embedding)
		if err != nil {
			return nil, err
		}
		if sim < threshold {
			continue
		}
		_, final := compositeScore(frag, sim, s.weights, now)
		results = append(results, SearchResult{Fragment: frag, Similarity: sim, FinalScore: final})
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

	for i := range results {
		frag := results[i].Fragment
		frag.touch(now)
		if _, err := s.db.ExecContext(ctx,
			"UPDATE fragments SET access_count = ?, last_accessed_at = ? WHERE id = ?",
			frag.AccessCount, frag.LastAccessedAt, frag.ID); err != nil {
			logging.MemoryWarn("Failed to record access for %s: %v", frag.ID, err)
		}
	}
	return results, nil
}

func (s *SQLiteStorage) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frags, err := s.scanFiltered(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(frags), nil
}

func (s *SQLiteStorage) ExportAll(ctx context.Context) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frags, err := s.scanFiltered(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].ID < frags[j].ID })

	docs := make([][]byte, 0, len(frags))
	for _, f := range frags {
		doc, err := SerializeFragment(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SQLiteStorage) ImportAll(ctx context.Context, docs [][]byte) (int, error) {
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

func (s *SQLiteStorage) IsAvailable(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil && s.db.PingContext(ctx) == nil
}

func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// =============================================================================
// ROW SCANNING
// =============================================================================

const fragmentColumns = `id, namespace, agent_id, project_id, type, content, embedding,
	tags, relevance, confidence, provenance, is_archived, is_pinned,
	access_count, last_accessed_at, created_at, updated_at, expires_at, metadata`

func (s *SQLiteStorage) scanOne(ctx context.Context, id string) (*Fragment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+fragmentColumns+" FROM fragments WHERE id = ?", id)
	frag, err := scanFragment(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("fragment %s", id)
	}
	return frag, err
}

// scanFiltered applies the SQL-expressible filter parts, then the tag and
// expiry predicates in Go.
func (s *SQLiteStorage) scanFiltered(ctx context.Context, filter Filter) ([]*Fragment, error) {
	var conds []string
	var args []any
	if filter.Namespace != "" {
		conds = append(conds, "namespace = ?")
		args = append(args, filter.Namespace)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.MinRelevance > 0 {
		conds = append(conds, "relevance >= ?")
		args = append(args, filter.MinRelevance)
	}
	if filter.IsArchived != nil {
		conds = append(conds, "is_archived = ?")
		args = append(args, boolToInt(*filter.IsArchived))
	}
	if filter.IsPinned != nil {
		conds = append(conds, "is_pinned = ?")
		args = append(args, boolToInt(*filter.IsPinned))
	}

	query := "SELECT " + fragmentColumns + " FROM fragments"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	var out []*Fragment
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			logging.MemoryWarn("Skipping unreadable fragment row: %v", err)
			continue
		}
		if !matchesFilter(frag, Filter{Tags: filter.Tags, TagsAll: filter.TagsAll}, now) {
			continue
		}
		out = append(out, frag)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner) (*Fragment, error) {
	var frag Fragment
	var embJSON, tagsJSON, provJSON, metaJSON sql.NullString
	var archived, pinned int
	var lastAccessed, expiresAt sql.NullTime

	err := row.Scan(&frag.ID, &frag.Namespace, &frag.AgentID, &frag.ProjectID,
		&frag.Type, &frag.Content, &embJSON, &tagsJSON,
		&frag.Relevance, &frag.Confidence, &provJSON, &archived, &pinned,
		&frag.AccessCount, &lastAccessed, &frag.CreatedAt, &frag.UpdatedAt,
		&expiresAt, &metaJSON)
	if err != nil {
		return nil, err
	}

	frag.IsArchived = archived != 0
	frag.IsPinned = pinned != 0
	if lastAccessed.Valid {
		frag.LastAccessedAt = lastAccessed.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		frag.ExpiresAt = &t
	}
	if provJSON.Valid && provJSON.String != "" {
		_ = json.Unmarshal([]byte(provJSON.String), &frag.Provenance)
	}
	if embJSON.Valid && embJSON.String != "" {
		if err := json.Unmarshal([]byte(embJSON.String), &frag.Embedding); err != nil {
			return nil, fmt.Errorf("fragment %s has unreadable embedding: %w", frag.ID, err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &frag.Tags)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &frag.Metadata)
	}
	return &frag, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
