package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadPRD reads a PRD document from disk. YAML and JSON are accepted; the
// format is picked by extension with a JSON sniff fallback. Unknown fields
// are ignored; missing required fields and unresolved dependencies are
// contract violations.
func LoadPRD(path string) (*PRD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PRD %s: %w", path, err)
	}

	var prd PRD
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || (ext == "" && looksLikeJSON(data)) {
		if err := json.Unmarshal(data, &prd); err != nil {
			return nil, ContractViolationf("parse PRD %s: %v", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &prd); err != nil {
			return nil, ContractViolationf("parse PRD %s: %v", path, err)
		}
	}

	if err := prd.Validate(); err != nil {
		return nil, err
	}
	prd.normalize()
	return &prd, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// Validate enforces the PRD load-time invariants: meta.name present, task
// ids unique and non-empty, every dependency id resolvable, phases
// non-negative.
func (p *PRD) Validate() error {
	if p.Meta.Name == "" {
		return ContractViolationf("PRD missing meta.name")
	}
	if len(p.Tasks) == 0 {
		return ContractViolationf("PRD %s has no tasks", p.Meta.Name)
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID == "" {
			return ContractViolationf("task at index %d has no id", i)
		}
		if seen[t.ID] {
			return ContractViolationf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Agent == "" {
			return ContractViolationf("task %s has no agent", t.ID)
		}
		if t.Phase < 0 {
			return ContractViolationf("task %s has negative phase %d", t.ID, t.Phase)
		}
	}

	for i := range p.Tasks {
		for _, dep := range p.Tasks[i].Dependencies {
			if !seen[dep] {
				return ContractViolationf("task %s depends on unknown task %q", p.Tasks[i].ID, dep)
			}
			if dep == p.Tasks[i].ID {
				return ContractViolationf("task %s depends on itself", p.Tasks[i].ID)
			}
		}
	}
	return nil
}

// normalize fills defaulted fields on freshly loaded tasks.
func (p *PRD) normalize() {
	now := time.Now()
	for i := range p.Tasks {
		if p.Tasks[i].Status == "" {
			p.Tasks[i].Status = TaskPending
		}
		if p.Tasks[i].CreatedAt.IsZero() {
			p.Tasks[i].CreatedAt = now
		}
	}
}
