package crdt

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"forgemind/internal/logging"
	"forgemind/internal/types"
)

// Store owns all documents and sessions in the process.
type Store struct {
	mu       sync.Mutex
	docs     map[string]*Document
	sessions map[string]*Session

	now func() time.Time
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{
		docs:     make(map[string]*Document),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// CreateDocument creates a fresh document at version 1.
func (s *Store) CreateDocument(docType string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	doc := &Document{
		ID:           "doc-" + uuid.NewString(),
		Type:         docType,
		Version:      1,
		Nodes:        make(map[string]*Node),
		Conflicts:    make(map[string]*Conflict),
		Peers:        make(map[string]bool),
		Departures:   make(map[string]time.Time),
		CreatedAt:    now,
		LastModified: now,
	}
	s.docs[doc.ID] = doc
	logging.CRDT("Document created: id=%s type=%s", doc.ID, docType)
	return doc
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(docID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(docID)
}

func (s *Store) getLocked(docID string) (*Document, error) {
	doc, ok := s.docs[docID]
	if !ok {
		return nil, types.NotFoundf("document %s", docID)
	}
	return doc, nil
}

// JoinSession attaches a peer to a document. The peer set is ever-joined:
// joining twice is idempotent for membership but returns a new session.
func (s *Store) JoinSession(docID, peerID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getLocked(docID)
	if err != nil {
		return nil, err
	}
	doc.Peers[peerID] = true

	sess := &Session{
		ID:       "sess-" + uuid.NewString(),
		DocID:    docID,
		PeerID:   peerID,
		JoinedAt: s.now(),
	}
	s.sessions[sess.ID] = sess
	logging.CRDTDebug("Peer %s joined %s (session %s)", peerID, docID, sess.ID)
	return sess, nil
}

// LeaveSession records the departure timestamp. The peer stays in the
// document's peer set for audit.
func (s *Store) LeaveSession(sessionID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.NotFoundf("session %s", sessionID)
	}
	now := s.now()
	sess.LeftAt = &now

	if doc, ok := s.docs[sess.DocID]; ok {
		doc.Departures[peerID] = now
	}
	logging.CRDTDebug("Peer %s left session %s", peerID, sessionID)
	return nil
}

// ApplyChange applies one operation to a document.
//
// Inserts on an existing node are rejected and preserve the node. Updates
// whose clock is concurrent with a prior op on the same node create a
// conflict record; non-concurrent updates resolve last-writer-wins by
// timestamp. Deletes remove the node. Every accepted op lands in history and
// bumps the version.
func (s *Store) ApplyChange(docID string, op Operation) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getLocked(docID)
	if err != nil {
		return ApplyResult{}, err
	}
	if op.TargetNodeID == "" {
		return ApplyResult{}, types.ContractViolationf("operation requires a target node id")
	}
	if op.ID == "" {
		op.ID = "op-" + uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = s.now()
	}

	switch op.Type {
	case OpInsert:
		if _, exists := doc.Nodes[op.TargetNodeID]; exists {
			logging.CRDTWarn("Insert rejected, node %s exists in %s", op.TargetNodeID, docID)
			return ApplyResult{Applied: false, Version: doc.Version}, nil
		}
		doc.Nodes[op.TargetNodeID] = &Node{
			ID:         op.TargetNodeID,
			Content:    op.Content,
			LastWriter: op.PeerID,
			UpdatedAt:  op.Timestamp,
			ops:        []Operation{op},
		}

	case OpUpdate:
		node, exists := doc.Nodes[op.TargetNodeID]
		if !exists {
			return ApplyResult{}, types.NotFoundf("node %s in document %s", op.TargetNodeID, docID)
		}
		if prior := firstConcurrent(node.ops, op.Clock); prior != nil {
			conflict := s.recordConflict(doc, node, *prior, op)
			node.ops = append(node.ops, op)
			doc.appendHistory(op)
			doc.Version++
			doc.LastModified = op.Timestamp
			return ApplyResult{Applied: true, ConflictID: conflict.ConflictID, Version: doc.Version}, nil
		}
		// LWW: a stale timestamp keeps the current content but the op is
		// still accepted into history.
		if !op.Timestamp.Before(node.UpdatedAt) {
			node.Content = op.Content
			node.LastWriter = op.PeerID
			node.UpdatedAt = op.Timestamp
		}
		node.ops = append(node.ops, op)

	case OpDelete:
		if _, exists := doc.Nodes[op.TargetNodeID]; !exists {
			return ApplyResult{}, types.NotFoundf("node %s in document %s", op.TargetNodeID, docID)
		}
		delete(doc.Nodes, op.TargetNodeID)
		delete(doc.Conflicts, conflictKeyForNode(doc, op.TargetNodeID))

	default:
		return ApplyResult{}, types.ContractViolationf("unknown operation type %q", op.Type)
	}

	doc.appendHistory(op)
	doc.Version++
	doc.LastModified = op.Timestamp
	return ApplyResult{Applied: true, Version: doc.Version}, nil
}

// firstConcurrent returns the first prior op whose clock is concurrent with
// the incoming one.
func firstConcurrent(ops []Operation, clock VectorClock) *Operation {
	for i := range ops {
		if Concurrent(ops[i].Clock, clock) {
			return &ops[i]
		}
	}
	return nil
}

func (s *Store) recordConflict(doc *Document, node *Node, prior, incoming Operation) *Conflict {
	// Extend an existing marker for this node rather than stacking new ones.
	for _, c := range doc.Conflicts {
		if c.NodeID == node.ID {
			c.Operations = append(c.Operations, incoming)
			return c
		}
	}
	conflict := &Conflict{
		DocID:      doc.ID,
		ConflictID: "conflict-" + uuid.NewString(),
		NodeID:     node.ID,
		Operations: []Operation{prior, incoming},
	}
	doc.Conflicts[conflict.ConflictID] = conflict
	logging.CRDT("Conflict recorded: doc=%s node=%s id=%s", doc.ID, node.ID, conflict.ConflictID)
	return conflict
}

func conflictKeyForNode(doc *Document, nodeID string) string {
	for id, c := range doc.Conflicts {
		if c.NodeID == nodeID {
			return id
		}
	}
	return ""
}

// GetConflicts returns the open conflict records for a document.
func (s *Store) GetConflicts(docID string) ([]*Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getLocked(docID)
	if err != nil {
		return nil, err
	}
	out := make([]*Conflict, 0, len(doc.Conflicts))
	for _, c := range doc.Conflicts {
		out = append(out, c)
	}
	return out, nil
}

// ResolveConflict removes the marker and sets the node content to the given
// resolution.
func (s *Store) ResolveConflict(docID, conflictID, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getLocked(docID)
	if err != nil {
		return err
	}
	conflict, ok := doc.Conflicts[conflictID]
	if !ok {
		return types.NotFoundf("conflict %s in document %s", conflictID, docID)
	}
	delete(doc.Conflicts, conflictID)

	if node, ok := doc.Nodes[conflict.NodeID]; ok {
		node.Content = resolution
		node.UpdatedAt = s.now()
		doc.LastModified = node.UpdatedAt
	}
	logging.CRDT("Conflict resolved: doc=%s conflict=%s", docID, conflictID)
	return nil
}

// ForkParallelUniverse deep-copies a document into a fresh id. Changes to
// either document never leak into the other.
func (s *Store) ForkParallelUniverse(docID, label string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.getLocked(docID)
	if err != nil {
		return nil, err
	}

	fork := &Document{
		ID:           "doc-" + uuid.NewString(),
		Type:         src.Type,
		Label:        label,
		Version:      src.Version,
		Nodes:        make(map[string]*Node, len(src.Nodes)),
		History:      append([]Operation(nil), src.History...),
		Conflicts:    make(map[string]*Conflict, len(src.Conflicts)),
		Peers:        make(map[string]bool, len(src.Peers)),
		Departures:   make(map[string]time.Time, len(src.Departures)),
		CreatedAt:    s.now(),
		LastModified: src.LastModified,
		ForkedFrom:   src.ID,
	}
	for id, node := range src.Nodes {
		cp := &Node{
			ID:         node.ID,
			Content:    node.Content,
			LastWriter: node.LastWriter,
			UpdatedAt:  node.UpdatedAt,
			ops:        append([]Operation(nil), node.ops...),
		}
		fork.Nodes[id] = cp
	}
	for id, c := range src.Conflicts {
		fork.Conflicts[id] = &Conflict{
			DocID:      fork.ID,
			ConflictID: c.ConflictID,
			NodeID:     c.NodeID,
			Operations: append([]Operation(nil), c.Operations...),
		}
	}
	for p := range src.Peers {
		fork.Peers[p] = true
	}
	for p, t := range src.Departures {
		fork.Departures[p] = t
	}

	s.docs[fork.ID] = fork
	logging.CRDT("Forked %s into %s (%s)", src.ID, fork.ID, label)
	return fork, nil
}
