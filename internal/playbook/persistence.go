package playbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forgemind/internal/logging"
)

// persistedSchemaVersion is bumped when the on-disk playbook shape changes.
const persistedSchemaVersion = 1

// persistedPlaybook is the on-disk envelope. Readers reject unknown schema
// versions.
type persistedPlaybook struct {
	SchemaVersion int       `json:"schema_version"`
	Playbook      *Playbook `json:"playbook"`
}

// Persister writes one JSON document per agent to a well-known directory.
// Load failures are logged and reported as nil; they never crash the
// process or abort a build.
type Persister struct {
	dir string
}

// NewPersister creates a persister rooted at dir, creating it if needed.
func NewPersister(dir string) (*Persister, error) {
	if dir == "" {
		return nil, fmt.Errorf("playbook directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create playbook dir: %w", err)
	}
	return &Persister{dir: dir}, nil
}

// Dir returns the persistence directory.
func (p *Persister) Dir() string {
	return p.dir
}

// PathFor returns the JSON path for an agent's playbook.
func (p *Persister) PathFor(agent string) string {
	return filepath.Join(p.dir, sanitizeAgentName(agent)+".json")
}

// Save writes the playbook atomically (temp file + rename).
func (p *Persister) Save(pb *Playbook) error {
	doc := persistedPlaybook{
		SchemaVersion: persistedSchemaVersion,
		Playbook:      pb,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal playbook: %w", err)
	}

	path := p.PathFor(pb.AgentName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write playbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename playbook: %w", err)
	}
	logging.PlaybookDebug("Saved playbook %s (version=%d, %d bytes)", pb.AgentName, pb.Version, len(data))
	return nil
}

// Load reads and validates an agent's playbook. Any violation - missing
// file, bad JSON, wrong schema version, invariant breach - returns nil.
func (p *Persister) Load(agent string) *Playbook {
	path := p.PathFor(agent)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.PlaybookWarn("Read %s failed: %v", path, err)
		}
		return nil
	}

	var doc persistedPlaybook
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.PlaybookWarn("Parse %s failed: %v", path, err)
		return nil
	}
	if doc.SchemaVersion != persistedSchemaVersion {
		logging.PlaybookWarn("Unknown playbook schema version %d in %s", doc.SchemaVersion, path)
		return nil
	}
	if err := validatePlaybook(doc.Playbook); err != nil {
		logging.PlaybookWarn("Invalid playbook in %s: %v", path, err)
		return nil
	}
	return doc.Playbook
}

// validatePlaybook enforces the structural invariants of a loaded document.
func validatePlaybook(pb *Playbook) error {
	if pb == nil {
		return fmt.Errorf("missing playbook body")
	}
	if pb.AgentName == "" {
		return fmt.Errorf("missing agent_name")
	}
	if pb.Version < 0 {
		return fmt.Errorf("negative version %d", pb.Version)
	}
	if pb.SuccessRate < 0 || pb.SuccessRate > 1 {
		return fmt.Errorf("success_rate %f out of [0,1]", pb.SuccessRate)
	}

	seen := make(map[string]bool, len(pb.Rules))
	for i := range pb.Rules {
		r := &pb.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule at index %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("rule %s confidence %f out of [0,1]", r.ID, r.Confidence)
		}
		if r.SuccessCount > r.AppliedCount {
			return fmt.Errorf("rule %s success_count %d exceeds applied_count %d", r.ID, r.SuccessCount, r.AppliedCount)
		}
		switch r.Type {
		case RuleStrategy, RulePattern, RuleMistake:
		default:
			return fmt.Errorf("rule %s has unknown type %q", r.ID, r.Type)
		}
	}
	return nil
}

// sanitizeAgentName keeps playbook filenames filesystem-safe.
func sanitizeAgentName(agent string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, agent)
	if safe == "" {
		safe = "agent"
	}
	return safe
}
