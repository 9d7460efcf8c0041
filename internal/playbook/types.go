// Package playbook implements the per-agent learned-rule store consumed by
// prompt assembly. A playbook is an ordered rule set with scoring, fuzzy
// dedup, JSON persistence, and a strictly monotonic version counter.
package playbook

import (
	"time"
)

// RuleType classifies a playbook rule.
type RuleType string

const (
	RuleStrategy RuleType = "Strategy"
	RulePattern  RuleType = "Pattern"
	RuleMistake  RuleType = "Mistake"
)

// RuleSource records where a rule came from.
type RuleSource string

const (
	SourceLearned RuleSource = "learned"
	SourceGlobal  RuleSource = "global"
	SourceManual  RuleSource = "manual"
)

// Rule is one natural-language rule within a playbook.
type Rule struct {
	ID                string     `json:"id"`
	Content           string     `json:"content"`
	Type              RuleType   `json:"type"`
	Confidence        float64    `json:"confidence"` // 0.0-1.0
	Source            RuleSource `json:"source"`
	AppliedCount      int        `json:"applied_count"`
	SuccessCount      int        `json:"success_count"`
	HelpfulCount      int        `json:"helpful_count"`
	HarmfulCount      int        `json:"harmful_count"`
	Tags              []string   `json:"tags,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	IsGlobalCandidate bool       `json:"is_global_candidate"`
}

// SuccessRate returns the empirical success rate of a rule.
func (r *Rule) SuccessRate() float64 {
	applied := r.AppliedCount
	if applied < 1 {
		applied = 1
	}
	return float64(r.SuccessCount) / float64(applied)
}

// Playbook is the per-agent ordered rule set.
type Playbook struct {
	ID                string    `json:"id"`
	AgentName         string    `json:"agent_name"`
	Version           int       `json:"version"` // +1 per UpdatePlaybook call
	Rules             []Rule    `json:"rules"`
	TotalTasksApplied int       `json:"total_tasks_applied"`
	SuccessRate       float64   `json:"success_rate"` // 0.0-1.0
	TaskTypes         []string  `json:"task_types,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// RuleByID returns the rule with the given id, or nil.
func (p *Playbook) RuleByID(id string) *Rule {
	for i := range p.Rules {
		if p.Rules[i].ID == id {
			return &p.Rules[i]
		}
	}
	return nil
}

// DeltaAction is the kind of change a delta proposes.
type DeltaAction string

const (
	DeltaAdd    DeltaAction = "add"
	DeltaUpdate DeltaAction = "update"
	DeltaRemove DeltaAction = "remove"
)

// Delta is a proposed playbook change produced by Reflect and consumed by
// Curate.
type Delta struct {
	ID                string      `json:"id"`
	Action            DeltaAction `json:"action"`
	RuleID            string      `json:"rule_id,omitempty"` // required for update/remove
	Content           string      `json:"content"`
	Type              RuleType    `json:"type"`
	Confidence        float64     `json:"confidence"`
	HelpfulDelta      int         `json:"helpful_delta"`
	HarmfulDelta      int         `json:"harmful_delta"`
	IsGlobalCandidate bool        `json:"is_global_candidate"`
	Reason            string      `json:"reason,omitempty"`
}
