package crdt

import (
	"time"
)

// historyCap bounds the per-document operation log. Older entries fall off
// the front; the version counter keeps the total accepted-op count.
const historyCap = 512

// OpType enumerates the operation kinds.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is one vector-clocked change to a document node.
type Operation struct {
	ID           string      `json:"id"`
	Type         OpType      `json:"type"`
	TargetNodeID string      `json:"target_node_id"`
	Content      string      `json:"content,omitempty"`
	PeerID       string      `json:"peer_id"`
	Clock        VectorClock `json:"clock"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Node is one addressable unit of document state.
type Node struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	LastWriter string    `json:"last_writer,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`

	// ops holds the applied operations for this node, used for conflict
	// detection against incoming concurrent updates.
	ops []Operation
}

// Conflict marks concurrent updates to one node awaiting resolution.
type Conflict struct {
	DocID      string      `json:"doc_id"`
	ConflictID string      `json:"conflict_id"`
	NodeID     string      `json:"node_id"`
	Operations []Operation `json:"operations"`
}

// Document is a collaborative state container.
type Document struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Label   string `json:"label,omitempty"` // set on forks
	Version int    `json:"version"`

	Nodes     map[string]*Node     `json:"nodes"`
	History   []Operation          `json:"history"`
	Conflicts map[string]*Conflict `json:"conflicts,omitempty"`

	// Peers is the ever-joined set; departures are recorded separately so
	// membership history stays auditable.
	Peers      map[string]bool      `json:"peers"`
	Departures map[string]time.Time `json:"departures,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	ForkedFrom   string    `json:"forked_from,omitempty"`
}

// Session is one peer's live attachment to a document.
type Session struct {
	ID       string     `json:"id"`
	DocID    string     `json:"doc_id"`
	PeerID   string     `json:"peer_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// ApplyResult reports what ApplyChange did with one operation.
type ApplyResult struct {
	Applied    bool   `json:"applied"`
	ConflictID string `json:"conflict_id,omitempty"`
	Version    int    `json:"version"`
}

// appendHistory pushes an op onto the bounded log.
func (d *Document) appendHistory(op Operation) {
	d.History = append(d.History, op)
	if len(d.History) > historyCap {
		d.History = d.History[len(d.History)-historyCap:]
	}
}
